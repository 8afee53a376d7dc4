// Package utils provides helpers for handling SQL identifiers that schemalock
// interpolates into generated statements.
//
// Table names for the lock table and the migration history table come from
// configuration and cannot be passed as bind parameters, so they are validated
// and quoted before being formatted into SQL.
//
// # Identifier Functions
//
//	// Reject anything that is not a plain or schema-qualified identifier
//	if err := utils.ValidateIdentifier(cfg.Lock.Table); err != nil {
//		return err
//	}
//
//	// Quote for use in a statement
//	table := utils.QuoteIdentifier("public.schemalock_locks")
//	// Result: "public"."schemalock_locks"
package utils
