// Package migrate applies SQL migration files while holding a schemalock lock.
//
// Migrations are plain .sql files. The file name without its extension is the
// version, and files are applied in lexical order of version, so names such as
// 001_create_users.sql or 20240810143000_add_index.sql order naturally.
//
// Key features:
//   - Statement splitting that understands comments, quoted strings, quoted
//     identifiers and $$ function bodies
//   - One database transaction per migration, so a failing migration leaves
//     nothing behind
//   - A history table recording version, content hash, time applied and duration
//   - Detection of migrations edited after they were applied
//   - Serialization of concurrent runs through the lock named after the history table
//
// The run process:
//  1. Take the lock for the history table
//  2. Create the history table if needed and read what has been applied
//  3. Verify the hashes of applied migrations
//  4. Apply each pending migration, stopping at the first failure
//  5. Release the lock
//
// Example usage:
//
//	dir, err := migrate.LoadDir(os.DirFS("db/migrations"))
//	if err != nil {
//		return err
//	}
//
//	runner, err := migrate.NewRunner(migrate.Config{
//		DB:       store.DB(),
//		Dialect:  store.Dialect(),
//		Template: lock.New(lock.Config{Store: store}),
//	})
//	if err != nil {
//		return err
//	}
//
//	results, err := runner.Run(ctx, dir)
package migrate
