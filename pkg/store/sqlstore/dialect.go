package sqlstore

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Dialect describes how statements are written for one database/sql driver.
type Dialect struct {
	name          string
	driver        string
	numbered      bool
	forUpdate     bool
	timestampType string
}

var (
	// PGX is PostgreSQL (and wire-compatible engines) through jackc/pgx.
	PGX = Dialect{name: "pgx", driver: "pgx", numbered: true, forUpdate: true, timestampType: "TIMESTAMPTZ"}

	// Postgres is PostgreSQL (and wire-compatible engines) through lib/pq.
	Postgres = Dialect{name: "postgres", driver: "postgres", numbered: true, forUpdate: true, timestampType: "TIMESTAMPTZ"}

	// SQLite is a local database file through modernc.org/sqlite.
	SQLite = Dialect{name: "sqlite", driver: "sqlite", timestampType: "TIMESTAMP"}

	dialects = map[string]Dialect{
		PGX.name:      PGX,
		Postgres.name: Postgres,
		SQLite.name:   SQLite,
	}
)

// DialectFor returns the dialect registered under name.
//
// Example:
//
//	d, err := sqlstore.DialectFor("sqlite")
//	if err != nil {
//		return err
//	}
//	fmt.Println(d.Placeholder(1)) // ?
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, errors.Errorf("unsupported database driver: %q", name)
	}

	return d, nil
}

// Name returns the dialect name used in configuration.
func (d Dialect) Name() string {
	return d.name
}

// DriverName returns the name the driver is registered under with database/sql.
func (d Dialect) DriverName() string {
	return d.driver
}

// TimestampType returns the column type used for timestamps.
func (d Dialect) TimestampType() string {
	return d.timestampType
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}

	return "?"
}

// Rebind rewrites a query written with ? placeholders for this dialect.
//
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var (
		sb      strings.Builder
		n       int
		literal bool
	)

	sb.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			literal = !literal
			sb.WriteRune(r)
		case r == '?' && !literal:
			n++
			sb.WriteString(d.Placeholder(n))
		default:
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

// DSN adjusts a connection string for the dialect. SQLite connections are forced into
// immediate transactions with a busy timeout so that concurrent writers queue on the
// database lock instead of failing. Timestamps are written in SQLite's own text format.
func (d Dialect) DSN(dsn string, busyTimeout time.Duration) string {
	if d.name != SQLite.name {
		return dsn
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_time_format", "sqlite")
	params.Add("_pragma", "busy_timeout("+strconv.FormatInt(busyTimeout.Milliseconds(), 10)+")")

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + params.Encode()
}

type queries struct {
	create string
	insert string
	lock   string
	update string
	list   string
}

func (d Dialect) queries(table string) queries {
	selectRow := "SELECT resource_name, locked, last_updated FROM " + table + " WHERE resource_name = ?"
	if d.forUpdate {
		selectRow += " FOR UPDATE"
	}

	return queries{
		create: "CREATE TABLE IF NOT EXISTS " + table + " (" +
			"resource_name VARCHAR(255) PRIMARY KEY, " +
			"locked BOOLEAN NOT NULL DEFAULT FALSE, " +
			"last_updated " + d.timestampType + " NOT NULL)",
		insert: d.Rebind("INSERT INTO " + table + " (resource_name, locked, last_updated) VALUES (?, ?, ?)"),
		lock:   d.Rebind(selectRow),
		update: d.Rebind("UPDATE " + table + " SET locked = ?, last_updated = ? WHERE resource_name = ?"),
		list:   "SELECT resource_name, locked, last_updated FROM " + table + " ORDER BY resource_name",
	}
}
