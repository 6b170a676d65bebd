package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/yashagw/cranecursor/internal/session"
)

// DefaultPrefix is the environment variable prefix, e.g.
// CRANECURSOR_POOL_SIZE sets pool.size.
const DefaultPrefix = "CRANECURSOR_"

type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Pool struct {
		Size int `mapstructure:"size"`
	} `mapstructure:"pool"`
	Scan struct {
		OptimizeRows   int64 `mapstructure:"optimizerows"`
		MaxConstraints int   `mapstructure:"maxconstraints"`
		MaxBlobCompare int   `mapstructure:"maxblobcompare"`
	} `mapstructure:"scan"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
}

// Load reads defaults, then the optional config file at path, then
// environment variables starting with prefix.
func Load(path, prefix string) (*Config, error) {
	v := viper.New()

	def := session.DefaultSettings()
	v.SetDefault("log.level", def.LogLevel)
	v.SetDefault("log.format", def.LogFormat)
	v.SetDefault("pool.size", def.CursorPoolSize)
	v.SetDefault("scan.optimizerows", def.OptimizeRowCount)
	v.SetDefault("scan.maxconstraints", def.MaxConstraints)
	v.SetDefault("scan.maxblobcompare", def.MaxBlobCompare)
	v.SetDefault("server.addr", ":5433")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	// CRANECURSOR_SCAN_OPTIMIZEROWS -> scan.optimizerows
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || prefixUpper == "" || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		propKey = strings.TrimPrefix(propKey, ".")
		v.Set(propKey, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// Settings converts the loaded configuration into session tuning.
func (c *Config) Settings() session.Settings {
	return session.Settings{
		OptimizeRowCount: c.Scan.OptimizeRows,
		CursorPoolSize:   c.Pool.Size,
		MaxConstraints:   c.Scan.MaxConstraints,
		MaxBlobCompare:   c.Scan.MaxBlobCompare,
		LogLevel:         c.Log.Level,
		LogFormat:        c.Log.Format,
	}
}
