package consts

import (
	"os"
	"time"
)

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// ConfigFile is the name of the project configuration file
	ConfigFile = "schemalock.yaml"

	// DefaultPollInterval is how long a waiting participant sleeps between polls of a held lock
	DefaultPollInterval = time.Second

	// DefaultStaleAfter is the age after which a held lock row is considered abandoned
	DefaultStaleAfter = 30 * time.Second

	// DefaultLockTable is the name of the shared lock table
	DefaultLockTable = "schemalock_locks"

	// DefaultHistoryTable is the name of the migration history table, which is also the
	// resource name the migrate command locks
	DefaultHistoryTable = "schemalock_history"

	// DefaultMigrationsDir is where migration files are loaded from
	DefaultMigrationsDir = "db/migrations"

	// DefaultDriver is the database/sql driver used when none is configured
	DefaultDriver = "pgx"

	// DefaultBackend stores the lock table in the target database
	DefaultBackend = "database"

	// DefaultRedisPrefix is prepended to resource names when locks are kept in Redis
	DefaultRedisPrefix = "schemalock:"
)
