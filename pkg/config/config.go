package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/pseudomuto/schemalock/pkg/utils"
	"gopkg.in/yaml.v3"
)

type (
	// Database is the database the lock table and migrations live in.
	Database struct {
		// Driver is one of pgx, postgres or sqlite
		Driver string `yaml:"driver"`

		// URL is the driver-specific connection string. ${VAR} references are expanded
		// from the environment.
		URL string `yaml:"url"`
	}

	// Redis configures the redis lock backend.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db,omitempty"`

		// Prefix is prepended to resource names to form keys
		Prefix string `yaml:"prefix"`
	}

	// Lock configures the locking execution template.
	Lock struct {
		// Backend stores the lock rows: database (the lock table) or redis
		Backend string `yaml:"backend"`

		// Table is the lock table name, optionally schema-qualified
		Table string `yaml:"table"`

		// PollInterval is the wait between polls of a held lock
		PollInterval time.Duration `yaml:"poll_interval"`

		// StaleAfter is the age after which a held lock is considered abandoned
		StaleAfter time.Duration `yaml:"stale_after"`

		Redis Redis `yaml:"redis"`
	}

	// Migrations configures the migration runner.
	Migrations struct {
		// Dir holds the .sql migration files, relative to the project directory
		Dir string `yaml:"dir"`

		// HistoryTable records applied migrations. Its name is also the lock resource.
		HistoryTable string `yaml:"history_table"`
	}

	// Metrics configures the prometheus endpoint.
	Metrics struct {
		// Addr to serve /metrics on while a command runs. Empty disables the endpoint.
		Addr string `yaml:"addr,omitempty"`
	}

	// Config represents the schemalock project configuration (schemalock.yaml).
	Config struct {
		Database   Database   `yaml:"database"`
		Lock       Lock       `yaml:"lock"`
		Migrations Migrations `yaml:"migrations"`
		Metrics    Metrics    `yaml:"metrics"`
	}
)

// Default returns a configuration with every default applied and no database URL.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig parses a configuration from the provided io.Reader.
//
// Missing values are filled with defaults, environment references in connection settings are
// expanded and the result is validated.
//
// Example:
//
//	yamlData := `
//	database:
//	  driver: pgx
//	  url: ${DATABASE_URL}
//	lock:
//	  stale_after: 1m
//	`
//
//	cfg, err := config.LoadConfig(strings.NewReader(yamlData))
//	if err != nil {
//		panic(err)
//	}
//
//	fmt.Printf("Lock table: %s\n", cfg.Lock.Table)
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schemalock config")
	}

	cfg.Database.URL = os.ExpandEnv(cfg.Database.URL)
	cfg.Lock.Redis.Addr = os.ExpandEnv(cfg.Lock.Redis.Addr)
	cfg.Lock.Redis.Password = os.ExpandEnv(cfg.Lock.Redis.Password)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfigFile loads a configuration from the specified file path.
//
// Example:
//
//	cfg, err := config.LoadConfigFile("schemalock.yaml")
//	if err != nil {
//		log.Fatal("Failed to load config:", err)
//	}
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Lock.Backend {
	case "database":
		if err := utils.ValidateIdentifier(c.Lock.Table); err != nil {
			return errors.Wrap(err, "invalid lock.table")
		}
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return errors.New("lock.redis.addr is required for the redis backend")
		}
	default:
		return errors.Errorf("unsupported lock backend: %q", c.Lock.Backend)
	}

	if c.Lock.PollInterval <= 0 {
		return errors.Errorf("lock.poll_interval must be positive, got %s", c.Lock.PollInterval)
	}
	if c.Lock.StaleAfter <= 0 {
		return errors.Errorf("lock.stale_after must be positive, got %s", c.Lock.StaleAfter)
	}

	if err := utils.ValidateIdentifier(c.Migrations.HistoryTable); err != nil {
		return errors.Wrap(err, "invalid migrations.history_table")
	}

	return nil
}

// WriteTo writes the configuration as YAML. It implements io.WriterTo.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal schemalock config")
	}

	n, err := w.Write(data)
	return int64(n), err
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = consts.DefaultDriver
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = consts.DefaultBackend
	}
	if c.Lock.Table == "" {
		c.Lock.Table = consts.DefaultLockTable
	}
	if c.Lock.PollInterval == 0 {
		c.Lock.PollInterval = consts.DefaultPollInterval
	}
	if c.Lock.StaleAfter == 0 {
		c.Lock.StaleAfter = consts.DefaultStaleAfter
	}
	if c.Lock.Redis.Prefix == "" {
		c.Lock.Redis.Prefix = consts.DefaultRedisPrefix
	}
	if c.Migrations.Dir == "" {
		c.Migrations.Dir = consts.DefaultMigrationsDir
	}
	if c.Migrations.HistoryTable == "" {
		c.Migrations.HistoryTable = consts.DefaultHistoryTable
	}
}
