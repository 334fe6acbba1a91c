package config

import (
	"encoding/base64"
	"strings"

	"github.com/danmuck/meshbridge/internal/channels"
)

// StoredChannels converts a validated seed file into store entries with
// expanded keys. Entries default to enabled.
func StoredChannels(f SeedFile) ([]channels.StoredChannel, error) {
	out := make([]channels.StoredChannel, 0, len(f.Channels))
	for _, seed := range f.Channels {
		key, err := ExpandPSK(seed.Key)
		if err != nil {
			return nil, err
		}
		enabled := true
		if seed.Enabled != nil {
			enabled = *seed.Enabled
		}
		out = append(out, channels.StoredChannel{
			ID:                    strings.TrimSpace(seed.ID),
			Name:                  strings.TrimSpace(seed.Name),
			KeyB64:                base64.StdEncoding.EncodeToString(key),
			KeyLen:                len(key),
			EnforceNameValidation: seed.EnforceName,
			Enabled:               enabled,
		})
	}
	return out, nil
}
