/*
 * Copyright 2020 Saffat Technologies, Ltd.
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

// Package config loads and defaults the storage and service configuration
// for kvmanagerd. Storage knobs are the TOML-facing equivalents of the
// functional options the embedded engine historically exposed directly to
// callers; the service wraps the HTTP surface on top of that storage.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// StorageConfig controls the root of the tenant-database tree and carries
// engine tuning knobs. Only RootDir is read outside this package: the other
// fields are loaded and defaulted here but are not passed to the engine or
// the reclamation worker, which run with their own built-in settings.
type StorageConfig struct {
	// RootDir is the directory each tenant database (and the meta-database)
	// is created under.
	RootDir string `toml:"root_dir"`

	// BufferSize bounds the size of the engine's write buffer pool, in
	// bytes.
	BufferSize int64 `toml:"buffer_size"`

	// MemTableSize bounds the size of the engine's in-memory table before
	// it is flushed, in bytes.
	MemTableSize int64 `toml:"memtable_size"`

	// MaxSyncIntervalMillis is the amount of time between background fsync
	// calls, in milliseconds. Zero disables background sync.
	MaxSyncIntervalMillis int64 `toml:"max_sync_interval_ms"`

	// ReclamationPollIntervalMillis bounds how long the reclamation
	// worker's drain pass waits for new work before checking for shutdown
	// again, in milliseconds.
	ReclamationPollIntervalMillis int64 `toml:"reclamation_poll_interval_ms"`
}

// MaxSyncInterval is MaxSyncIntervalMillis as a time.Duration.
func (s StorageConfig) MaxSyncInterval() time.Duration {
	return time.Duration(s.MaxSyncIntervalMillis) * time.Millisecond
}

// ReclamationPollInterval is ReclamationPollIntervalMillis as a
// time.Duration.
func (s StorageConfig) ReclamationPollInterval() time.Duration {
	return time.Duration(s.ReclamationPollIntervalMillis) * time.Millisecond
}

// ServiceConfig controls the HTTP surface wired on top of the Manager.
type ServiceConfig struct {
	// ListenAddr is the address the HTTP server binds, e.g. ":8080".
	ListenAddr string `toml:"listen_addr"`

	// ShutdownTimeoutMillis bounds how long graceful shutdown waits for
	// in-flight HTTP requests to finish before forcing the listener
	// closed, in milliseconds.
	ShutdownTimeoutMillis int64 `toml:"shutdown_timeout_ms"`
}

// ShutdownTimeout is ShutdownTimeoutMillis as a time.Duration.
func (s ServiceConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMillis) * time.Millisecond
}

// Config is the top-level document loaded from a TOML file.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Service ServiceConfig `toml:"service"`
}

// Option mutates a Config being built. Mirrors the functional-options shape
// the embedded engine used for its own open-time parameters, generalised
// here to the whole process's configuration.
type Option interface {
	set(*Config)
}

type fOption struct {
	f func(*Config)
}

func (fo *fOption) set(c *Config) {
	fo.f(c)
}

func newFuncOption(f func(*Config)) *fOption {
	return &fOption{f: f}
}

// WithRootDir overrides the storage root directory.
func WithRootDir(dir string) Option {
	return newFuncOption(func(c *Config) {
		c.Storage.RootDir = dir
	})
}

// WithListenAddr overrides the HTTP listen address.
func WithListenAddr(addr string) Option {
	return newFuncOption(func(c *Config) {
		c.Service.ListenAddr = addr
	})
}

// Default returns a Config with every knob set to its default value,
// mirroring the teacher's own WithDefaultOptions.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			RootDir:                       "./data",
			BufferSize:                    1 << 20, // 1MB
			MemTableSize:                  1 << 26, // 64MB
			MaxSyncIntervalMillis:         1000,
			ReclamationPollIntervalMillis: 50,
		},
		Service: ServiceConfig{
			ListenAddr:            ":8080",
			ShutdownTimeoutMillis: 5000,
		},
	}
}

// Load reads path as TOML, applying opts on top of Default() for every
// field the file leaves unset, then on top of the parsed file so explicit
// overrides always win.
func Load(path string, opts ...Option) (Config, error) {
	c := Default()
	for _, o := range opts {
		o.set(&c)
	}

	if path == "" {
		return c, nil
	}

	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}

	for _, o := range opts {
		o.set(&c)
	}

	if c.Storage.RootDir == "" {
		return Config{}, fmt.Errorf("config: storage.root_dir must not be empty")
	}
	if c.Service.ListenAddr == "" {
		return Config{}, fmt.Errorf("config: service.listen_addr must not be empty")
	}
	return c, nil
}
