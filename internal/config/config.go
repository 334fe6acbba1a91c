package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ChannelSeed is one [[channels]] entry of a channel seed file.
type ChannelSeed struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	// Key is the base64 pre-shared key. A single byte selects a variant of
	// the well-known default key.
	Key         string `toml:"key"`
	EnforceName bool   `toml:"enforce_name"`
	Enabled     *bool  `toml:"enabled"`
}

type SeedFile struct {
	Channels []ChannelSeed `toml:"channels"`
}

func LoadSeedFile(path string) (SeedFile, error) {
	var f SeedFile
	if err := loadToml(path, &f); err != nil {
		return SeedFile{}, err
	}
	if err := ValidateSeedFile(f); err != nil {
		return SeedFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return f, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateSeedFile(f SeedFile) error {
	seen := make(map[string]struct{}, len(f.Channels))
	for i, ch := range f.Channels {
		if err := ValidateChannelSeed(ch); err != nil {
			return fmt.Errorf("channel[%d] invalid: %w", i, err)
		}
		id := strings.TrimSpace(ch.ID)
		if _, dup := seen[id]; dup {
			return fmt.Errorf("channel[%d] invalid: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func ValidateChannelSeed(ch ChannelSeed) error {
	if strings.TrimSpace(ch.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(ch.Key) == "" {
		return fmt.Errorf("key is required")
	}
	if _, err := ExpandPSK(ch.Key); err != nil {
		return err
	}
	return nil
}

// defaultPSK is the well-known key shared by stock radios on the default
// channel.
var defaultPSK = [16]byte{
	0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59,
	0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01,
}

// ExpandPSK decodes a base64 key. One-byte keys 1..255 expand to the default
// key with its last byte offset by index-1.
func ExpandPSK(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", err)
	}
	switch len(raw) {
	case 1:
		if raw[0] == 0 {
			return nil, fmt.Errorf("key index 0 means no encryption")
		}
		key := defaultPSK
		key[len(key)-1] += raw[0] - 1
		return key[:], nil
	case 16, 32:
		return raw, nil
	default:
		return nil, fmt.Errorf("key must be 16 or 32 bytes, got %d", len(raw))
	}
}
