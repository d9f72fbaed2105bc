// Package lsmkv is a thin façade over internal/lsm, the single import path
// external callers and cmd/main.go use to open and drive the engine.
package lsmkv

import (
	"errors"
	"os"

	"lsmkv/internal/config"
	"lsmkv/internal/lsm"
)

// Engine is the embedded LSM-tree key-value store.
type Engine = lsm.Engine

// Token is a handle to a single in-flight transaction.
type Token = lsm.Token

// Config holds every tunable the engine reads at open time.
type Config = config.Config

// ScanEntry is one (key, value) pair a Scan yields.
type ScanEntry = lsm.ScanEntry

// Scanner is a forward iterator produced by Scan.
type Scanner = lsm.Scanner

// Open loads a data directory under conf.Dir, reloading any sorted runs
// already on disk, and starts the background compaction goroutine.
func Open(conf *Config) (*Engine, error) {
	return lsm.Open(conf)
}

// LoadConfig reads the YAML config at path, or — if the file does not
// exist — returns Config's documented defaults, so a first run needs no
// config file present.
func LoadConfig(path string) (*Config, error) {
	conf, err := config.FromFile(path)
	if err == nil {
		return conf, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}
