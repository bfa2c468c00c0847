// Package config loads the daemon's pipewired.yaml (§4 Config): pool page
// size, data-loop count/priority, log level, and the metrics listen
// address, generalising the teacher's per-component viper loader into one
// config.Load.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Priority names the data loop's scheduling class. It is loaded and
// validated; loop.DataLoop does not read it and runs every loop at the
// Go runtime's normal priority.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityRealtime Priority = "realtime"
)

// PoolConfig holds Component A's page size setting. It is loaded and
// validated; pool.Pool does not read it and rounds regions to the host
// page size.
type PoolConfig struct {
	PageSize int64 `mapstructure:"page_size"`
}

// DataLoopConfig configures how many data loops the daemon starts and at
// what scheduling priority (§5 concurrency model).
type DataLoopConfig struct {
	Count    int      `mapstructure:"count"`
	Priority Priority `mapstructure:"priority"`
}

// LogConfig configures cmn/nlog's minimum severity.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig configures the prometheus listener address.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config is the daemon's full configuration tree, loaded from
// pipewired.yaml.
type Config struct {
	Pool     PoolConfig     `mapstructure:"pool"`
	DataLoop DataLoopConfig `mapstructure:"data_loop"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Default returns the configuration the daemon uses when no file is given
// or a key is absent from it.
func Default() Config {
	return Config{
		Pool:     PoolConfig{PageSize: 4096},
		DataLoop: DataLoopConfig{Count: 1, Priority: PriorityNormal},
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Listen: ":9094"},
	}
}

// Load reads path (a YAML file) over the defaults and validates it. An
// empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("pool.page_size", cfg.Pool.PageSize)
	v.SetDefault("data_loop.count", cfg.DataLoop.Count)
	v.SetDefault("data_loop.priority", string(cfg.DataLoop.Priority))
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	if err := v.ReadInConfig(); err != nil {
		return cfg, errors.Wrapf(err, "config: reading %s", path)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: unmarshalling %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would leave a component
// unconstructible.
func (c Config) Validate() error {
	if c.Pool.PageSize <= 0 {
		return errors.Errorf("config: pool.page_size must be positive, got %d", c.Pool.PageSize)
	}
	if c.DataLoop.Count <= 0 {
		return errors.Errorf("config: data_loop.count must be positive, got %d", c.DataLoop.Count)
	}
	if c.DataLoop.Priority != PriorityNormal && c.DataLoop.Priority != PriorityRealtime {
		return errors.Errorf("config: data_loop.priority must be %q or %q, got %q", PriorityNormal, PriorityRealtime, c.DataLoop.Priority)
	}
	return nil
}
