package migrate

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

type (
	// Migration is a single .sql file: a version and the statements to run for it.
	//
	// Example migration content:
	//
	//	CREATE TABLE users (id BIGINT PRIMARY KEY, name TEXT NOT NULL);
	//	CREATE INDEX users_name ON users (name);
	Migration struct {
		// Version is the filename without its extension, e.g. 20240101120000_create_users
		Version string

		// Statements are the statements of the file in order
		Statements []string

		// Hash is the h1 hash (h1:<base64 sha256>) of the file content
		Hash string
	}

	// Dir is the set of migrations loaded from a directory, in lexical order.
	Dir struct {
		Migrations []*Migration
	}
)

// LoadDir loads every .sql file in dir (recursively) as a migration, ordered by version.
//
// Example usage:
//
//	dir, err := migrate.LoadDir(os.DirFS("db/migrations"))
//	if err != nil {
//		return err
//	}
//
//	for _, m := range dir.Migrations {
//		fmt.Printf("%s: %d statements\n", m.Version, len(m.Statements))
//	}
func LoadDir(dir fs.FS) (*Dir, error) {
	result := &Dir{}
	seen := make(map[string]string)

	// NB: WalkDir always walks in lexical order.
	err := fs.WalkDir(dir, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || path.Ext(p) != ".sql" {
			return nil
		}

		f, err := dir.Open(p)
		if err != nil {
			return errors.Wrapf(err, "failed to open: %s", p)
		}
		defer func() { _ = f.Close() }()

		version := strings.TrimSuffix(path.Base(p), ".sql")
		if other, ok := seen[version]; ok {
			return errors.Errorf("duplicate migration version %s in %s and %s", version, other, p)
		}
		seen[version] = p

		m, err := LoadMigration(version, f)
		if err != nil {
			return errors.Wrapf(err, "failed to load migration: %s", p)
		}

		result.Migrations = append(result.Migrations, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result.Migrations, func(a, b *Migration) int {
		return strings.Compare(a.Version, b.Version)
	})

	return result, nil
}

// LoadMigration reads a migration script from r.
func LoadMigration(version string, r io.Reader) (*Migration, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration")
	}

	stmts, err := Split(string(content))
	if err != nil {
		return nil, err
	}

	return &Migration{
		Version:    version,
		Statements: stmts,
		Hash:       Hash(content),
	}, nil
}

// Hash returns the h1 hash of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return "h1:" + base64.StdEncoding.EncodeToString(sum[:])
}

// Find returns the migration with the given version, or nil.
func (d *Dir) Find(version string) *Migration {
	for _, m := range d.Migrations {
		if m.Version == version {
			return m
		}
	}

	return nil
}
