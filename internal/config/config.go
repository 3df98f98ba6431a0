package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load,
// e.g. MVCCDB_DATA_DIR or MVCCDB_LOG_LEVEL.
const EnvPrefix = "MVCCDB"

// Engine names accepted by the engine key.
const (
	EngineMemory = "memory"
	EngineLog    = "log"
	EnginePebble = "pebble"
	EngineSQLite = "sqlite"
)

type Config struct {
	DataDir      string        `mapstructure:"data_dir"`
	Engine       string        `mapstructure:"engine"`
	GCInterval   time.Duration `mapstructure:"gc_interval"`
	CompactRatio float64       `mapstructure:"compact_ratio"` // LogStore compacts on open above this garbage ratio; 0 disables
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	Log          LogConfig     `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

var defaults = map[string]any{
	"data_dir":      "./data",
	"engine":        EngineLog,
	"gc_interval":   time.Minute,
	"compact_ratio": 0.5,
	"metrics_addr":  "",
	"log.level":     "info",
	"log.format":    "text",
}

// Load builds the configuration from, in increasing priority: defaults, the
// config file at path (optional, any format viper reads), MVCCDB_*
// environment variables and changed flags. A flag binds to a key by name
// with dots and underscores turned into dashes, so --data-dir sets data_dir.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for k := range defaults {
			name := strings.NewReplacer(".", "-", "_", "-").Replace(k)
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineMemory, EngineLog, EnginePebble, EngineSQLite:
	default:
		return fmt.Errorf("unknown engine %q (want memory, log, pebble or sqlite)", c.Engine)
	}
	if c.Engine != EngineMemory && c.DataDir == "" {
		return fmt.Errorf("engine %s needs data_dir", c.Engine)
	}
	if c.CompactRatio < 0 || c.CompactRatio >= 1 {
		return fmt.Errorf("compact_ratio must be in [0, 1), got %v", c.CompactRatio)
	}
	return nil
}
