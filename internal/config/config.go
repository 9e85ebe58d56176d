// Package config loads the node and hive process configuration from the
// environment: plain os.Getenv lookups with defaults, required fields
// validated after assembly, errors returned rather than panicking.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// NodeConfig is the environment-derived configuration for cmd/node.
type NodeConfig struct {
	HiveURL    string
	HiveAPIKey string

	Name               string
	MachineID          string
	PublicURL          string
	LocalAddr          string
	DataDir            string
	MaxConcurrentTasks int
	HeartbeatInterval  time.Duration
	SyncInterval       time.Duration
	ShapeBaseURL       string // hive's shape endpoint base; shape consumption disabled if empty
}

// LoadNode reads NodeConfig from the environment.
func LoadNode() (NodeConfig, error) {
	cfg := NodeConfig{
		HiveURL:            env("HIVE_URL", ""),
		HiveAPIKey:         env("HIVE_API_KEY", ""),
		Name:               env("NODE_NAME", ""),
		MachineID:          env("NODE_MACHINE_ID", machineID()),
		PublicURL:          env("NODE_PUBLIC_URL", ""),
		LocalAddr:          env("NODE_ADDR", ":8081"),
		DataDir:            env("NODE_DATA_DIR", "data/node.sqlite"),
		MaxConcurrentTasks: 4,
		HeartbeatInterval:  30 * time.Second,
		SyncInterval:       5 * time.Second,
		ShapeBaseURL:       strings.TrimRight(env("HIVE_SHAPE_BASE_URL", ""), "/"),
	}

	if v := strings.TrimSpace(env("NODE_MAX_CONCURRENT_TASKS", "")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("NODE_MAX_CONCURRENT_TASKS: %w", err)
		}
		cfg.MaxConcurrentTasks = n
	}
	if v := strings.TrimSpace(env("NODE_HEARTBEAT_INTERVAL", "")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("NODE_HEARTBEAT_INTERVAL: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if v := strings.TrimSpace(env("NODE_SYNC_INTERVAL", "")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("NODE_SYNC_INTERVAL: %w", err)
		}
		cfg.SyncInterval = d
	}

	if cfg.HiveURL == "" {
		return NodeConfig{}, errors.New("missing HIVE_URL")
	}
	if cfg.HiveAPIKey == "" {
		return NodeConfig{}, errors.New("missing HIVE_API_KEY")
	}
	if cfg.Name == "" {
		return NodeConfig{}, errors.New("missing NODE_NAME")
	}
	if cfg.MaxConcurrentTasks <= 0 {
		return NodeConfig{}, errors.New("NODE_MAX_CONCURRENT_TASKS must be positive")
	}

	return cfg, nil
}

// HiveConfig is the environment-derived configuration for cmd/hive.
type HiveConfig struct {
	Addr              string
	DatabaseURL       string
	HeartbeatInterval time.Duration // drives the stale-node sweep cadence
}

// LoadHive reads HiveConfig from the environment.
func LoadHive() (HiveConfig, error) {
	cfg := HiveConfig{
		Addr:              env("HIVE_ADDR", ":8080"),
		DatabaseURL:       env("HIVE_DATABASE_URL", ""),
		HeartbeatInterval: 30 * time.Second,
	}

	if v := strings.TrimSpace(env("HIVE_HEARTBEAT_INTERVAL", "")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return HiveConfig{}, fmt.Errorf("HIVE_HEARTBEAT_INTERVAL: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if cfg.DatabaseURL == "" {
		return HiveConfig{}, errors.New("missing HIVE_DATABASE_URL")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// machineID is the fallback when NODE_MACHINE_ID isn't set: a stable hash
// of hostname, OS, and architecture, so the node keeps its identity across
// restarts and reinstalls.
func machineID() string {
	h, err := os.Hostname()
	if err != nil {
		h = "unknown-machine"
	}
	sum := sha256.Sum256([]byte(h + "|" + runtime.GOOS + "|" + runtime.GOARCH))
	return hex.EncodeToString(sum[:16])
}
