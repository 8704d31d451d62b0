package internal

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/tuannm99/novastore/internal/recman"
	"github.com/tuannm99/novastore/internal/strategy"
)

type NovastoreConfig struct {
	Workdir string `mapstructure:"workdir"`

	Store struct {
		Base           string `mapstructure:"base"`
		PageSize       int    `mapstructure:"page_size"`
		CachePages     int    `mapstructure:"cache_pages"`
		AllowOversized bool   `mapstructure:"allow_oversized"`
	} `mapstructure:"store"`

	Strategy struct {
		Kind           string  `mapstructure:"kind"`
		PercentageFree float64 `mapstructure:"percentage_free"`
	} `mapstructure:"strategy"`
}

func LoadConfig(path string) (*NovastoreConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NovastoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// BaseName returns the store's base file name, defaulting to "store".
func (c *NovastoreConfig) BaseName() string {
	if c.Store.Base == "" {
		return "store"
	}
	return c.Store.Base
}

// ManagerOptions maps the file config onto record manager options. Zero
// values stay zero so the manager applies its own defaults.
func (c *NovastoreConfig) ManagerOptions() (recman.Options, error) {
	kind, err := strategy.ParseKind(c.Strategy.Kind)
	if err != nil {
		return recman.Options{}, err
	}
	return recman.Options{
		PageSize:       c.Store.PageSize,
		CachePages:     c.Store.CachePages,
		AllowOversized: c.Store.AllowOversized,
		Strategy: strategy.Config{
			Kind:           kind,
			PercentageFree: c.Strategy.PercentageFree,
		},
	}, nil
}
