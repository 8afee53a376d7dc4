package utils

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidateIdentifier checks that name is a plain or schema-qualified SQL identifier that can be
// quoted safely.
//
// Examples:
//   - "schemalock_locks" -> nil
//   - "public.schemalock_locks" -> nil
//   - "locks; DROP TABLE users" -> error
//   - "" -> error
func ValidateIdentifier(name string) error {
	if name == "" {
		return errors.New("identifier must not be empty")
	}

	for _, part := range strings.Split(name, ".") {
		if !identifierPattern.MatchString(part) {
			return errors.Errorf("invalid identifier: %q", name)
		}
	}

	return nil
}

// QuoteIdentifier adds ANSI double quotes around each part of an identifier, escaping any
// embedded quotes. Callers validate name with ValidateIdentifier first.
//
// Examples:
//   - "locks" -> `"locks"`
//   - "public.locks" -> `"public"."locks"`
//   - "" -> ""
func QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}

	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}

	return strings.Join(parts, ".")
}
