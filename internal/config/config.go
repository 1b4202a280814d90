// Package config loads go-ntfsbox settings from a yaml file, the
// environment and defaults.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the format and maintenance settings.
type Config struct {
	SectorSize        uint32 `mapstructure:"sector_size"`
	ClusterSize       uint32 `mapstructure:"cluster_size"`
	RecordSize        uint32 `mapstructure:"record_size"`
	IndexBlockSize    uint32 `mapstructure:"index_block_size"`
	Label             string `mapstructure:"label"`
	// WriteRetries bounds short-write retries while formatting
	WriteRetries      int    `mapstructure:"write_retries"`
	CopyChunkClusters int64  `mapstructure:"copy_chunk_clusters"`
	LogLevel          string `mapstructure:"log_level"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		SectorSize:        512,
		ClusterSize:       0,
		RecordSize:        1024,
		IndexBlockSize:    4096,
		WriteRetries:      3,
		CopyChunkClusters: 256,
		LogLevel:          "info",
	}
}

// New returns a viper instance with the search paths, environment binding
// and defaults set. configFile, when not empty, replaces the search.
func New(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ntfsbox-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.ntfsbox")
		v.AddConfigPath("/etc/ntfsbox")
	}

	d := Defaults()
	v.SetDefault("sector_size", d.SectorSize)
	v.SetDefault("cluster_size", d.ClusterSize)
	v.SetDefault("record_size", d.RecordSize)
	v.SetDefault("index_block_size", d.IndexBlockSize)
	v.SetDefault("label", d.Label)
	v.SetDefault("write_retries", d.WriteRetries)
	v.SetDefault("copy_chunk_clusters", d.CopyChunkClusters)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("NTFSBOX")
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config file is not an error.
func Load(configFile string) (*Config, error) {
	return LoadFrom(New(configFile))
}

// LoadFrom decodes the settings held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if cfg.WriteRetries < 0 {
		return nil, errors.Errorf("write_retries must not be negative, got %d", cfg.WriteRetries)
	}
	if cfg.CopyChunkClusters <= 0 {
		return nil, errors.Errorf("copy_chunk_clusters must be positive, got %d", cfg.CopyChunkClusters)
	}
	return &cfg, nil
}
