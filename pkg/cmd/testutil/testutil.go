package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ProjectFixture represents a test project backed by a SQLite database in a temp directory
type ProjectFixture struct {
	Dir    string
	Config *config.Config
	t      *testing.T
}

// MigrationFile represents a test migration
type MigrationFile struct {
	Version string
	SQL     string
}

// TestProject creates an isolated temp directory with a schemalock.yaml pointing at a SQLite
// database inside it. Paths in the config are absolute so commands can run from any directory.
func TestProject(t *testing.T) *ProjectFixture {
	t.Helper()

	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.URL = filepath.Join(tmpDir, "app.db")
	cfg.Migrations.Dir = filepath.Join(tmpDir, "db", "migrations")

	fixture := &ProjectFixture{
		Dir:    tmpDir,
		Config: cfg,
		t:      t,
	}

	require.NoError(t, os.MkdirAll(cfg.Migrations.Dir, consts.ModeDir), "Failed to create migrations directory")
	require.NoError(t, fixture.writeConfig(), "Failed to write config")

	return fixture
}

// WithConfig applies fn to the project configuration and writes it back to schemalock.yaml
func (p *ProjectFixture) WithConfig(fn func(*config.Config)) *ProjectFixture {
	p.t.Helper()

	fn(p.Config)
	require.NoError(p.t, p.Config.Validate(), "Invalid test config")
	require.NoError(p.t, p.writeConfig(), "Failed to write updated config")

	return p
}

// WithMigrations adds migration files to the project
func (p *ProjectFixture) WithMigrations(migrations []MigrationFile) *ProjectFixture {
	p.t.Helper()

	for _, migration := range migrations {
		filename := migration.Version + ".sql"
		err := os.WriteFile(filepath.Join(p.Config.Migrations.Dir, filename), []byte(migration.SQL), consts.ModeFile)
		require.NoError(p.t, err, "Failed to write migration file: %s", filename)
	}

	return p
}

// GetConfigPath returns the path of the project's schemalock.yaml
func (p *ProjectFixture) GetConfigPath() string {
	return filepath.Join(p.Dir, consts.ConfigFile)
}

// GetDatabasePath returns the path of the project's SQLite database
func (p *ProjectFixture) GetDatabasePath() string {
	return p.Config.Database.URL
}

func (p *ProjectFixture) writeConfig() error {
	file, err := os.Create(p.GetConfigPath())
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	encoder := yaml.NewEncoder(file)
	defer func() { _ = encoder.Close() }()

	return encoder.Encode(p.Config)
}
