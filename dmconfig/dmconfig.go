// Package dmconfig loads the engine's store/pool/cache configuration
// from a YAML or INI file using github.com/spf13/viper, decoding
// sections into typed structs with github.com/mitchellh/mapstructure
// — the same pair the teacher's broader dependency graph carries,
// adopted here instead of hand-rolling a flag/env parser. Out of
// scope functionally (spec §1), but carried as ambient stack.
package dmconfig

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// StoreSection is the on-disk shape of one store entry.
type StoreSection struct {
	Product           string `mapstructure:"product"`
	Store             string `mapstructure:"store"`
	MountRoot         string `mapstructure:"mount_root"`
	DescriptionPath   string `mapstructure:"description_path"`
	ControlSocket     string `mapstructure:"control_socket"`
	BackupServiceArgs string `mapstructure:"backup_service_args"`
	MetaCache         bool   `mapstructure:"meta_cache"`
	MetaTTLDays       int    `mapstructure:"meta_ttl_days"`
	FDCache           bool   `mapstructure:"fd_cache"`
	FDCacheSize       int    `mapstructure:"fd_cache_size"`
	ExtentBased       bool   `mapstructure:"extent_based"`
	ExtentSize        int64  `mapstructure:"extent_size"`
	Sharded           bool   `mapstructure:"sharded"`
}

// EngineSection configures the engine's pools and batching.
type EngineSection struct {
	QueueDepth        int `mapstructure:"queue_depth"`
	WorkItemsPerBatch int `mapstructure:"work_items_per_batch"`
}

// File is the top-level config document.
type File struct {
	Engine EngineSection  `mapstructure:"engine"`
	Stores []StoreSection `mapstructure:"stores"`
}

// Load reads and decodes the config file at path.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("dmconfig: read %s: %w", path, err)
	}

	var f File
	decoderOpt := func(c *mapstructure.DecoderConfig) { c.ErrorUnused = true }
	if err := v.Unmarshal(&f, decoderOpt); err != nil {
		return nil, fmt.Errorf("dmconfig: decode %s: %w", path, err)
	}
	return &f, nil
}

// StoreByName returns the StoreSection named store, if present.
func (f *File) StoreByName(store string) (StoreSection, bool) {
	for _, s := range f.Stores {
		if s.Store == store {
			return s, true
		}
	}
	return StoreSection{}, false
}
