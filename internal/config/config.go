// Package config loads daemon configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Config represents the shared daemon configuration. Every field has a
// default so the daemons run with an empty environment; the project
// name and shard numbers come from the command line, not from here.
type Config struct {
	CatalogHost   string `env:"SM_CATALOG_HOST" default:"catalog.cse.nd.edu:9097"`
	Owner         string `env:"SM_OWNER" default:"stockmarket"`
	LogLevel      string `env:"SM_LOG_LEVEL" default:"info"`
	DataDir       string `env:"SM_DATA_DIR" default:"."`
	BarsDir       string `env:"SM_BARS_DIR" default:"data"`
	MetricsAddr   string `env:"SM_METRICS_ADDR" default:""`
	Speedup       int    `env:"SM_SPEEDUP" default:"1"`
	MinuteSpeedup int    `env:"SM_MINUTE_SPEEDUP" default:"1"`
	SimSeed       int64  `env:"SM_SIM_SEED" default:"0"`
	PendingLimit  int    `env:"SM_PENDING_LIMIT" default:"128"`
}

var (
	instance *Config
	once     sync.Once
	err      error
)

// Get returns the application configuration
func Get() (*Config, error) {
	once.Do(func() {
		instance, err = loadConfig()
	})
	return instance, err
}

// loadConfig loads configuration from environment variables
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv loads configuration from environment variables, falling
// back to each field's default tag.
func (c *Config) loadFromEnv() error {
	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(c).Elem()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			return fmt.Errorf("missing env tag for field %s", field.Name)
		}

		value := os.Getenv(envTag)
		if value == "" {
			value = field.Tag.Get("default")
		}

		switch v.Field(i).Kind() {
		case reflect.String:
			v.Field(i).SetString(value)
		case reflect.Int, reflect.Int64:
			n, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return fmt.Errorf("env variable %s must be an integer: %w", envTag, perr)
			}
			v.Field(i).SetInt(n)
		default:
			return fmt.Errorf("unsupported config field kind %s for %s", v.Field(i).Kind(), field.Name)
		}
	}

	return nil
}

// String returns the configuration as a string
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n--------------------------------------\n")
	sb.WriteString("Configuration:\n")
	sb.WriteString("--------------------------------------\n")

	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(*c)

	for i := 0; i < t.NumField(); i++ {
		sb.WriteString(fmt.Sprintf("  %s:  %v\n", t.Field(i).Name, v.Field(i).Interface()))
	}

	sb.WriteString("--------------------------------------\n")

	return sb.String()
}
