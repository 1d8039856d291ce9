package rowbind

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// Config is the declarative form of the Mapper options.
//
//	enum_policy: validate_or_throw
//	cache_size: 512
//	tag_name: db
//	naming: snake
//	log_level: debug
//	strict_nulls: true
type Config struct {
	EnumPolicy  string `yaml:"enum_policy"`
	CacheSize   int    `yaml:"cache_size"`
	TagName     string `yaml:"tag_name"`
	Naming      string `yaml:"naming"`
	LogLevel    string `yaml:"log_level"`
	StrictNulls bool   `yaml:"strict_nulls"`
}

// LoadConfig decodes a YAML config. Unknown keys are an error; an empty
// document yields the zero Config.
func LoadConfig(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("rowbind: decode config: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("rowbind: cache_size must not be negative, got %d", cfg.CacheSize)
	}
	return &cfg, nil
}

// LoadConfigFile reads the YAML config at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadConfig(f)
}

// Options turns the config into Mapper options. A log level installs a text
// logger on stderr at that level.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if c.EnumPolicy != "" {
		p, err := convert.ParseEnumPolicy(c.EnumPolicy)
		if err != nil {
			return nil, fmt.Errorf("rowbind: enum_policy: %w", err)
		}
		opts = append(opts, WithEnumPolicy(p))
	}
	if c.Naming != "" {
		ns, err := schema.NamingStrategyByName(c.Naming)
		if err != nil {
			return nil, fmt.Errorf("rowbind: naming: %w", err)
		}
		opts = append(opts, WithNamingStrategy(ns))
	}
	if c.TagName != "" {
		opts = append(opts, WithTagName(c.TagName))
	}
	if c.CacheSize != 0 {
		opts = append(opts, WithCacheSize(c.CacheSize))
	}
	if c.StrictNulls {
		opts = append(opts, WithStrictNulls(true))
	}
	if c.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("rowbind: log_level: %w", err)
		}
		opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))
	}
	return opts, nil
}

// NewFromConfig builds a Mapper from cfg. extra options are applied after
// the config's own.
func NewFromConfig(cfg *Config, extra ...Option) (*Mapper, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return New(append(opts, extra...)...)
}
