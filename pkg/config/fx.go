package config

import (
	"os"

	"github.com/pseudomuto/schemalock/pkg/consts"
	"go.uber.org/fx"
)

// EnvConfigFile overrides the path of the configuration file.
const EnvConfigFile = "SCHEMALOCK_CONFIG"

var Module = fx.Module("config", fx.Provide(Find))

// Find loads the configuration from $SCHEMALOCK_CONFIG or schemalock.yaml in the working
// directory. Returns nil if the file doesn't exist, allowing commands that don't require config
// (like init and help) to function properly.
func Find() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = consts.ConfigFile
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	return LoadConfigFile(path)
}
