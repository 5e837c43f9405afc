// Package config loads racelog's JSON configuration file. Every field is
// optional: Get* methods supply the defaults, ApplyEnv layers RACELOG_*
// environment variables on top, and the serve command's flags override both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/racelog/internal/sensors"
	"github.com/banshee-data/racelog/internal/serialmux"
	"github.com/banshee-data/racelog/internal/units"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreFiles  = "files"
)

// EnvPrefix prefixes every environment override, e.g. RACELOG_LISTEN.
const EnvPrefix = "RACELOG_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for unset fields.
const (
	DefaultListen   = ":8080"
	DefaultDBPath   = "racelog.db"
	DefaultRacesDir = "races"
)

// Config is the on-disk configuration. Nil fields take their defaults.
type Config struct {
	Listen   *string `json:"listen,omitempty"`
	DBPath   *string `json:"db_path,omitempty"`
	Store    *string `json:"store,omitempty"`     // "sqlite" or "files"
	RacesDir *string `json:"races_dir,omitempty"` // record directory of the files store
	Units    *string `json:"units,omitempty"`     // "metric" or "imperial"
	Timezone *string `json:"timezone,omitempty"`  // tz database name; empty is local

	// Serial devices. An empty port leaves the sensor disabled.
	GPSPort   *string                `json:"gps_port,omitempty"`
	IMUPort   *string                `json:"imu_port,omitempty"`
	GPSSerial *serialmux.PortOptions `json:"gps_serial,omitempty"`
	IMUSerial *serialmux.PortOptions `json:"imu_serial,omitempty"`

	// Sensor tuning
	PositionReportInterval *string  `json:"position_report_interval,omitempty"` // duration string like "100ms"
	MinAccuracyM           *float64 `json:"min_accuracy_m,omitempty"`
	MotionReportInterval   *string  `json:"motion_report_interval,omitempty"` // duration string like "50ms"
}

// Settings is the fully resolved configuration. Its env tags name the
// RACELOG_* overrides.
type Settings struct {
	Listen                 string        `env:"LISTEN"`
	DBPath                 string        `env:"DB_PATH"`
	Store                  string        `env:"STORE"`
	RacesDir               string        `env:"RACES_DIR"`
	Units                  string        `env:"UNITS"`
	Timezone               string        `env:"TIMEZONE"`
	GPSPort                string        `env:"GPS_PORT"`
	IMUPort                string        `env:"IMU_PORT"`
	GPSBaudRate            int           `env:"GPS_BAUD_RATE"`
	IMUBaudRate            int           `env:"IMU_BAUD_RATE"`
	PositionReportInterval time.Duration `env:"POSITION_REPORT_INTERVAL"`
	MinAccuracyM           float64       `env:"MIN_ACCURACY_M"`
	MotionReportInterval   time.Duration `env:"MOTION_REPORT_INTERVAL"`

	GPSSerial serialmux.PortOptions
	IMUSerial serialmux.PortOptions
}

func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be at most 1MB. Omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Store != nil && *c.Store != StoreSQLite && *c.Store != StoreFiles {
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreSQLite, StoreFiles, *c.Store))
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		errs = append(errs, fmt.Errorf("units must be one of %s, got %q", units.GetValidSystemsString(), *c.Units))
	}
	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := units.Location(*c.Timezone); err != nil {
			errs = append(errs, err)
		}
	}
	for name, v := range map[string]*string{
		"position_report_interval": c.PositionReportInterval,
		"motion_report_interval":   c.MotionReportInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		if d, err := time.ParseDuration(*v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s '%s': %w", name, *v, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MinAccuracyM != nil && *c.MinAccuracyM <= 0 {
		errs = append(errs, fmt.Errorf("min_accuracy_m must be positive, got %f", *c.MinAccuracyM))
	}
	for name, opts := range map[string]*serialmux.PortOptions{"gps_serial": c.GPSSerial, "imu_serial": c.IMUSerial} {
		if opts == nil {
			continue
		}
		if _, err := opts.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string { return stringOr(c.Listen, DefaultListen) }

// GetDBPath returns the SQLite database path.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, DefaultDBPath) }

// GetStore returns the race store backend.
func (c *Config) GetStore() string { return stringOr(c.Store, StoreSQLite) }

// GetRacesDir returns the record directory of the files store.
func (c *Config) GetRacesDir() string { return stringOr(c.RacesDir, DefaultRacesDir) }

// GetUnits returns the display unit system.
func (c *Config) GetUnits() string { return stringOr(c.Units, units.Metric) }

// GetTimezone returns the display timezone name, "" for local time.
func (c *Config) GetTimezone() string { return stringOr(c.Timezone, "") }

// GetGPSPort returns the GPS serial device path, "" when disabled.
func (c *Config) GetGPSPort() string { return stringOr(c.GPSPort, "") }

// GetIMUPort returns the IMU serial device path, "" when disabled.
func (c *Config) GetIMUPort() string { return stringOr(c.IMUPort, "") }

// GetGPSSerial returns the GPS port options.
func (c *Config) GetGPSSerial() serialmux.PortOptions {
	if c.GPSSerial == nil {
		return serialmux.PortOptions{}
	}
	return *c.GPSSerial
}

// GetIMUSerial returns the IMU port options.
func (c *Config) GetIMUSerial() serialmux.PortOptions {
	if c.IMUSerial == nil {
		return serialmux.PortOptions{}
	}
	return *c.IMUSerial
}

// GetPositionReportInterval returns the minimum spacing of position events.
func (c *Config) GetPositionReportInterval() time.Duration {
	return durationOr(c.PositionReportInterval, sensors.DefaultPositionInterval)
}

// GetMotionReportInterval returns the minimum spacing of motion events.
func (c *Config) GetMotionReportInterval() time.Duration {
	return durationOr(c.MotionReportInterval, sensors.DefaultMotionInterval)
}

// GetMinAccuracyM returns the worst accepted GPS accuracy in metres.
func (c *Config) GetMinAccuracyM() float64 {
	if c.MinAccuracyM == nil {
		return sensors.DefaultMinAccuracy
	}
	return *c.MinAccuracyM
}

// Settings resolves every field to its effective value.
func (c *Config) Settings() Settings {
	gps, imu := c.GetGPSSerial(), c.GetIMUSerial()
	return Settings{
		Listen:                 c.GetListen(),
		DBPath:                 c.GetDBPath(),
		Store:                  c.GetStore(),
		RacesDir:               c.GetRacesDir(),
		Units:                  c.GetUnits(),
		Timezone:               c.GetTimezone(),
		GPSPort:                c.GetGPSPort(),
		IMUPort:                c.GetIMUPort(),
		GPSBaudRate:            gps.BaudRate,
		IMUBaudRate:            imu.BaudRate,
		PositionReportInterval: c.GetPositionReportInterval(),
		MinAccuracyM:           c.GetMinAccuracyM(),
		MotionReportInterval:   c.GetMotionReportInterval(),
		GPSSerial:              gps,
		IMUSerial:              imu,
	}
}

// ApplyEnv overrides fields from RACELOG_* variables in environ, or from the
// process environment when environ is nil, then validates the result.
func (c *Config) ApplyEnv(environ map[string]string) error {
	s := c.Settings()
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	c.apply(s)
	return c.Validate()
}

func (c *Config) apply(s Settings) {
	c.Listen = ptrString(s.Listen)
	c.DBPath = ptrString(s.DBPath)
	c.Store = ptrString(s.Store)
	c.RacesDir = ptrString(s.RacesDir)
	c.Units = ptrString(s.Units)
	c.Timezone = ptrString(s.Timezone)
	c.GPSPort = ptrString(s.GPSPort)
	c.IMUPort = ptrString(s.IMUPort)
	c.PositionReportInterval = ptrString(s.PositionReportInterval.String())
	c.MotionReportInterval = ptrString(s.MotionReportInterval.String())
	c.MinAccuracyM = ptrFloat64(s.MinAccuracyM)

	gps, imu := s.GPSSerial, s.IMUSerial
	gps.BaudRate, imu.BaudRate = s.GPSBaudRate, s.IMUBaudRate
	c.GPSSerial, c.IMUSerial = &gps, &imu
}
