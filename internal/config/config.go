package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultPlatform   = "purley"
	DefaultConfigPath = "/etc/bmctelemetry.toml"
	DefaultPIDFile    = "/run/bmctelemetry.pid"

	envPrefix     = "BMCTELEMETRY"
	envConfigPath = envPrefix + "_CONFIG"
)

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Platform   string           `mapstructure:"platform"`
	PIDFile    string           `mapstructure:"pid_file"`
	Controller ControllerConfig `mapstructure:"controller"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Exporter   ExporterConfig   `mapstructure:"exporter"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// ControllerConfig selects the management controller. Simulator is the
// path of a YAML fixture answering the telemetry commands.
type ControllerConfig struct {
	Simulator string `mapstructure:"simulator"`
}

// TelemetryConfig intervals are ISO8601 strings or numbers of seconds
type TelemetryConfig struct {
	DefaultInterval any `mapstructure:"default_interval"`
	ShoreUpPeriod   any `mapstructure:"shoreup_period"`

	// Metrics holds per metric property overrides, keyed by metric name
	Metrics map[string]map[string]any `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BackupDir    string        `mapstructure:"backup_dir"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type ExporterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

var defaults = map[string]any{
	"log_level":                  DefaultLogLevel,
	"platform":                   DefaultPlatform,
	"pid_file":                   DefaultPIDFile,
	"controller.simulator":       "",
	"telemetry.default_interval": "PT10S",
	"telemetry.shoreup_period":   "PT10S",
	"metrics.enabled":            false,
	"metrics.db_path":            "/var/lib/bmctelemetry/metrics.db",
	"metrics.backup_dir":         "",
	"metrics.batch_size":         100,
	"metrics.batch_timeout":      "5s",
	"exporter.enabled":           false,
	"exporter.listen":            ":9780",
	"cache.enabled":              false,
	"cache.addr":                 "localhost:6379",
	"cache.password":             "",
	"cache.db":                   0,
	"cache.ttl":                  "5m",
}

// Load reads the configuration for the process command line
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs reads the configuration file, the environment and args, in
// increasing order of precedence.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	flags := pflag.NewFlagSet("bmctelemetry", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Configuration file (default "+DefaultConfigPath+")")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	flags.String("platform", DefaultPlatform, "Platform reader set")
	flags.String("simulator", "", "Serve the controller from a simulator fixture")
	flags.String("pid-file", DefaultPIDFile, "PID file")
	flags.String("listen", ":9780", "Prometheus exporter listen address")
	flags.Bool("exporter", false, "Enable the prometheus exporter")
	flags.Bool("history", false, "Record produced metrics to the sqlite history")
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"log_level":            "log-level",
		"platform":             "platform",
		"controller.simulator": "simulator",
		"pid_file":             "pid-file",
		"exporter.listen":      "listen",
		"exporter.enabled":     "exporter",
		"metrics.enabled":      "history",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := *configPath
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
