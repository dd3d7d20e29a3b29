// Package config loads run settings from the environment, an optional .env
// file and command-line flags.
//
// Values are resolved in order of increasing priority:
//
//	defaults -> .env file -> OS environment -> flags
//
// Environment variables carry the ENSVERIF_ prefix, e.g. ENSVERIF_MEMBERS.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ENSVERIF"

// Config holds the settings of one verification run.
type Config struct {
	// Members lists NetCDF files or glob patterns, one file per ensemble
	// member, or a single file with a member dimension.
	Members   []string `envconfig:"MEMBERS" validate:"min=1,dive,required"`
	PrecipVar string   `envconfig:"PRECIP_VAR" default:"tp" validate:"required"`
	LatVar    string   `envconfig:"LAT_VAR" default:"latitude" validate:"required"`
	LonVar    string   `envconfig:"LON_VAR" default:"longitude" validate:"required"`
	TimeVar   string   `envconfig:"TIME_VAR" default:"time" validate:"required"`
	MemberDim string   `envconfig:"MEMBER_DIM" default:"number"`

	// PrecipUnit applies when the precipitation variable has no units attribute.
	PrecipUnit string `envconfig:"PRECIP_UNIT"`

	// Target point in degrees.
	Lat *float64 `envconfig:"LAT" validate:"required,gte=-90,lte=90"`
	Lon *float64 `envconfig:"LON" validate:"required,gte=-180,lte=360"`

	ObsFile        string `envconfig:"OBS_FILE" validate:"required"`
	ObsTimeColumn  string `envconfig:"OBS_TIME_COLUMN" default:"time" validate:"required"`
	ObsValueColumn string `envconfig:"OBS_VALUE_COLUMN" default:"precip" validate:"required"`
	ObsTimeLayout  string `envconfig:"OBS_TIME_LAYOUT" default:"2006-01-02T15:04:05Z07:00" validate:"required"`
	ObsUnit        string `envconfig:"OBS_UNIT" default:"mm" validate:"required"`

	// Unit scores are reported in.
	Unit string `envconfig:"UNIT" default:"mm" validate:"required"`

	Concurrency    int    `envconfig:"CONCURRENCY" validate:"gte=1"`
	VMInsertURL    string `envconfig:"VM_INSERT_URL" validate:"omitempty,url"`
	VMMetricPrefix string `envconfig:"VM_METRIC_PREFIX" default:"ensverif" validate:"alphanum"`
	RecsPerInsert  int    `envconfig:"RECS_PER_INSERT" default:"500" validate:"gte=1"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// ConfigErrorType categorizes configuration failures.
type ConfigErrorType string

const (
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load and Validate.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads a .env file if present and then the environment. The result is
// not validated, since flags may still override it.
func Load() (*Config, error) {
	// A missing .env file is not an error. Existing variables win.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	return &cfg, nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// BindFlags registers a flag for every setting on fs, using the current
// values as defaults.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.Func("members", "comma-separated NetCDF files or globs, one per ensemble member", func(s string) error {
		c.Members = splitList(s)
		return nil
	})
	fs.StringVar(&c.PrecipVar, "var", c.PrecipVar, "precipitation variable name")
	fs.StringVar(&c.LatVar, "latVar", c.LatVar, "latitude variable name")
	fs.StringVar(&c.LonVar, "lonVar", c.LonVar, "longitude variable name")
	fs.StringVar(&c.TimeVar, "timeVar", c.TimeVar, "time variable name")
	fs.StringVar(&c.MemberDim, "memberDim", c.MemberDim, "member dimension name in single-file ensembles")
	fs.StringVar(&c.PrecipUnit, "precipUnit", c.PrecipUnit, "precipitation unit for files without a units attribute")
	fs.Func("lat", "target latitude in degrees", floatPtr(&c.Lat))
	fs.Func("lon", "target longitude in degrees", floatPtr(&c.Lon))
	fs.StringVar(&c.ObsFile, "obs", c.ObsFile, "CSV file with observed precipitation increments")
	fs.StringVar(&c.ObsTimeColumn, "obsTime", c.ObsTimeColumn, "observation time column")
	fs.StringVar(&c.ObsValueColumn, "obsValue", c.ObsValueColumn, "observation increment column")
	fs.StringVar(&c.ObsTimeLayout, "obsLayout", c.ObsTimeLayout, "Go time layout of the observation time column")
	fs.StringVar(&c.ObsUnit, "obsUnit", c.ObsUnit, "unit of observed increments")
	fs.StringVar(&c.Unit, "unit", c.Unit, "unit scores are reported in")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "number of member files read concurrently")
	fs.StringVar(&c.VMInsertURL, "vmInsertUrl", c.VMInsertURL, "Victoria Metrics insert API URL; empty disables export")
	fs.StringVar(&c.VMMetricPrefix, "metricPrefix", c.VMMetricPrefix, "metric name prefix for exported series")
	fs.IntVar(&c.RecsPerInsert, "recsPerInsert", c.RecsPerInsert, "number of records sent to VM in one batch")
	fs.StringVar(&c.LogLevel, "logLevel", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "logFormat", c.LogFormat, "text or json")
}

func floatPtr(dst **float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger builds the run's logger from LogLevel and LogFormat.
func NewLogger(c *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
