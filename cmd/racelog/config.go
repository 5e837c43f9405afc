package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/racelog/internal/config"
)

// environ is the process environment read for RACELOG_* overrides.
var environ = os.Environ

// commonFlags are the configuration flags shared by every subcommand that
// touches the archive.
type commonFlags struct {
	configPath string
	dbPath     string
	store      string
	racesDir   string
	units      string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON configuration file")
	fs.StringVar(&c.dbPath, "db-path", "", "SQLite database path (overrides config)")
	fs.StringVar(&c.store, "store", "", "Race store: sqlite or files (overrides config)")
	fs.StringVar(&c.racesDir, "races-dir", "", "Record directory of the files store (overrides config)")
	fs.StringVar(&c.units, "units", "", "Display units: metric or imperial (overrides config)")
}

// load reads the configuration file, applies the environment and then the
// flags that were given.
func (c *commonFlags) load() (*config.Config, error) {
	cfg := config.Empty()
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(env.ToMap(environ())); err != nil {
		return nil, err
	}

	override(&cfg.DBPath, c.dbPath)
	override(&cfg.Store, c.store)
	override(&cfg.RacesDir, c.racesDir)
	override(&cfg.Units, c.units)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func override(field **string, value string) {
	if value != "" {
		*field = &value
	}
}
