/*
 * Copyright 2025 The EventFlux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the EventFlux runtime configuration: a YAML
// apiVersion/kind envelope layered under environment-variable overrides
// (EVENTFLUX_* keys) and built-in defaults. Per-application sections can
// override stream dispatch settings and attach sinks, applied by the
// runtime after app creation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// APIVersion is the envelope version this package understands.
	APIVersion = "eventflux.io/v1"
	// KindConfig is the envelope kind for a runtime configuration file.
	KindConfig = "EventFluxConfig"

	// ModeSingleNode runs every app in-process with local state.
	ModeSingleNode = "single-node"
	// ModeCluster enables the distributed transport hooks.
	ModeCluster = "cluster"
)

// Performance tunes the dispatch fabric defaults.
type Performance struct {
	ThreadPoolSize  int  `mapstructure:"thread_pool_size" yaml:"thread_pool_size"`
	EventBufferSize int  `mapstructure:"event_buffer_size" yaml:"event_buffer_size"`
	BatchProcessing bool `mapstructure:"batch_processing" yaml:"batch_processing"`
	AsyncProcessing bool `mapstructure:"async_processing" yaml:"async_processing"`
}

// Runtime is the eventflux.runtime subtree.
type Runtime struct {
	Mode        string      `mapstructure:"mode" yaml:"mode"`
	Performance Performance `mapstructure:"performance" yaml:"performance"`
}

// Persistence configures the snapshot store an app runtime uses.
type Persistence struct {
	// Type selects the store: memory, file, sqlite, redis.
	Type string `mapstructure:"type" yaml:"type"`
	// Path is the directory (file) or database path (sqlite).
	Path string `mapstructure:"path" yaml:"path"`
	// Addr/Password/DB/Prefix configure the redis store.
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	// Compression selects the snapshot codec: none, lz4, snappy, zstd.
	Compression string `mapstructure:"compression" yaml:"compression"`
	// MaxRevisions bounds retained snapshots per app; 0 keeps everything.
	MaxRevisions int `mapstructure:"max_revisions" yaml:"max_revisions"`
}

// StreamOverride carries per-stream settings a configuration file applies
// on top of an app's own annotations.
type StreamOverride struct {
	// Async switches the stream's junction to asynchronous dispatch.
	Async bool `mapstructure:"async" yaml:"async"`
	// BufferSize and Workers size the async queue and pool.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
	Workers    int `mapstructure:"workers" yaml:"workers"`
	// Backpressure names the queue-full policy: drop, block, store,
	// exception.
	Backpressure string `mapstructure:"backpressure" yaml:"backpressure"`
	// Sink attaches an output sink to the stream; keys are sink-type
	// specific, "type" selects the sink implementation.
	Sink map[string]string `mapstructure:"sink" yaml:"sink"`
}

// Application is one app's configuration subtree.
type Application struct {
	Persistence *Persistence              `mapstructure:"persistence" yaml:"persistence"`
	Streams     map[string]StreamOverride `mapstructure:"streams" yaml:"streams"`
}

// Config is the full decoded configuration file.
type Config struct {
	APIVersion string `mapstructure:"apiVersion" yaml:"apiVersion"`
	Kind       string `mapstructure:"kind" yaml:"kind"`
	EventFlux  struct {
		Runtime Runtime `mapstructure:"runtime" yaml:"runtime"`
	} `mapstructure:"eventflux" yaml:"eventflux"`
	Applications map[string]Application `mapstructure:"applications" yaml:"applications"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	var c Config
	c.APIVersion = APIVersion
	c.Kind = KindConfig
	c.EventFlux.Runtime = Runtime{
		Mode: ModeSingleNode,
		Performance: Performance{
			ThreadPoolSize:  4,
			EventBufferSize: 1024,
			BatchProcessing: true,
		},
	}
	return c
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("apiVersion", APIVersion)
	v.SetDefault("kind", KindConfig)
	v.SetDefault("eventflux.runtime.mode", ModeSingleNode)
	v.SetDefault("eventflux.runtime.performance.thread_pool_size", 4)
	v.SetDefault("eventflux.runtime.performance.event_buffer_size", 1024)
	v.SetDefault("eventflux.runtime.performance.batch_processing", true)
	v.SetDefault("eventflux.runtime.performance.async_processing", false)
	v.SetEnvPrefix("EVENTFLUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (YAML), layering environment overrides
// (EVENTFLUX_EVENTFLUX_RUNTIME_PERFORMANCE_THREAD_POOL_SIZE-style keys)
// over the file over the defaults, and validates the envelope.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := finish(v)
	if err != nil {
		return Config{}, err
	}
	// Viper lower-cases map keys; app and stream ids keep the file's case.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var file struct {
		Applications map[string]Application `yaml:"applications"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.Applications = file.Applications
	return c, nil
}

// Parse decodes an in-memory YAML document over the defaults, for
// embedders that assemble configuration programmatically instead of from
// a file. Environment overrides do not apply here.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadDefault builds the configuration from defaults and environment
// overrides only.
func LoadDefault() (Config, error) {
	return finish(newViper())
}

func finish(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the envelope and enumerated fields.
func (c Config) Validate() error {
	if c.APIVersion != APIVersion {
		return fmt.Errorf("config: unsupported apiVersion %q (want %q)", c.APIVersion, APIVersion)
	}
	if c.Kind != KindConfig {
		return fmt.Errorf("config: unsupported kind %q (want %q)", c.Kind, KindConfig)
	}
	switch c.EventFlux.Runtime.Mode {
	case ModeSingleNode, ModeCluster:
	default:
		return fmt.Errorf("config: unknown runtime mode %q", c.EventFlux.Runtime.Mode)
	}
	for appID, app := range c.Applications {
		for stream, ov := range app.Streams {
			switch ov.Backpressure {
			case "", "drop", "block", "store", "exception":
			default:
				return fmt.Errorf("config: app %q stream %q: unknown backpressure %q", appID, stream, ov.Backpressure)
			}
		}
		if p := app.Persistence; p != nil {
			switch p.Type {
			case "", "memory", "file", "sqlite", "redis":
			default:
				return fmt.Errorf("config: app %q: unknown persistence type %q", appID, p.Type)
			}
		}
	}
	return nil
}
