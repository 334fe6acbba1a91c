package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/meshbridge/internal/api"
	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/outbound"
)

type serveConfig struct {
	API       api.Config
	StorePath string
	Bridge    bridge.Config
	Decrypt   decrypt.Config
	Channels  channels.Config
	Outbound  outbound.Config
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		API:       api.Config{ID: "meshbridge", Addr: ":9300"},
		StorePath: "meshbridge.db",
		Bridge:    bridge.DefaultConfig(),
		Decrypt:   decrypt.DefaultConfig(),
		Channels:  channels.DefaultConfig(),
		Outbound:  outbound.DefaultConfig(),
	}
}

type fileConfig struct {
	ID                 string   `toml:"id"`
	Addr               string   `toml:"addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	Token              string   `toml:"token"`
	StorePath          string   `toml:"store_path"`
	LocalNode          uint32   `toml:"local_node"`
	HopLimit           uint32   `toml:"hop_limit"`
	DecryptEnabled     bool     `toml:"decrypt_enabled"`
	DecryptMaxAttempts int      `toml:"decrypt_max_attempts"`
	ChannelTTL         string   `toml:"channel_ttl"`
	SendInterval       string   `toml:"send_interval"`
	RetryInterval      string   `toml:"retry_interval"`
	OrphanTimeout      string   `toml:"orphan_timeout"`
	SweepInterval      string   `toml:"sweep_interval"`
	ChannelMaxAttempts int      `toml:"channel_max_attempts"`
	DirectMaxAttempts  int      `toml:"direct_max_attempts"`
}

// envOverrides is seeded from the file config; env.Parse only touches fields
// whose variable is set.
type envOverrides struct {
	Addr           string `env:"MESHBRIDGE_ADDR"`
	Token          string `env:"MESHBRIDGE_TOKEN"`
	StorePath      string `env:"MESHBRIDGE_STORE_PATH"`
	LocalNode      uint32 `env:"MESHBRIDGE_LOCAL_NODE"`
	DecryptEnabled bool   `env:"MESHBRIDGE_DECRYPT_ENABLED"`
}

// loadServeConfig layers defaults, the TOML file at path (when non-empty) and
// MESHBRIDGE_* environment overrides.
func loadServeConfig(path string) (serveConfig, error) {
	cfg := defaultServeConfig()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return serveConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *serveConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load meshbridge config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.API.ID = id
		}
	}
	if meta.IsDefined("addr") {
		cfg.API.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.API.CORSOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("token") {
		cfg.API.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("local_node") {
		cfg.Bridge.LocalNode = raw.LocalNode
	}
	if meta.IsDefined("hop_limit") {
		cfg.Bridge.HopLimit = raw.HopLimit
	}
	if meta.IsDefined("decrypt_enabled") {
		cfg.Decrypt.Enabled = raw.DecryptEnabled
	}
	if meta.IsDefined("decrypt_max_attempts") {
		cfg.Decrypt.MaxAttempts = raw.DecryptMaxAttempts
	}
	if meta.IsDefined("channel_max_attempts") {
		cfg.Outbound.ChannelMaxAttempts = raw.ChannelMaxAttempts
	}
	if meta.IsDefined("direct_max_attempts") {
		cfg.Outbound.DirectMaxAttempts = raw.DirectMaxAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"channel_ttl", raw.ChannelTTL, &cfg.Channels.TTL},
		{"send_interval", raw.SendInterval, &cfg.Outbound.SendInterval},
		{"retry_interval", raw.RetryInterval, &cfg.Outbound.RetryInterval},
		{"orphan_timeout", raw.OrphanTimeout, &cfg.Outbound.OrphanTimeout},
		{"sweep_interval", raw.SweepInterval, &cfg.Outbound.SweepInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *serveConfig) error {
	ov := envOverrides{
		Addr:           cfg.API.Addr,
		Token:          cfg.API.Token,
		StorePath:      cfg.StorePath,
		LocalNode:      cfg.Bridge.LocalNode,
		DecryptEnabled: cfg.Decrypt.Enabled,
	}
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	cfg.API.Addr = ov.Addr
	cfg.API.Token = ov.Token
	cfg.StorePath = ov.StorePath
	cfg.Bridge.LocalNode = ov.LocalNode
	cfg.Decrypt.Enabled = ov.DecryptEnabled
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
