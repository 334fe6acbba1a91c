package channels

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingID  = errors.New("channels: missing id")
	ErrInvalidKey = errors.New("channels: invalid key")
)

// StoredChannel is a channel entry as the config store holds it.
type StoredChannel struct {
	ID                    string `cbor:"id"`
	Name                  string `cbor:"name"`
	KeyB64                string `cbor:"key"`
	KeyLen                int    `cbor:"key_len"`
	EnforceNameValidation bool   `cbor:"enforce_name"`
	Enabled               bool   `cbor:"enabled"`
	Decrypted             uint64 `cbor:"decrypted"`
}

// Store is the config store the cache loads from.
type Store interface {
	EnabledChannels(ctx context.Context) ([]StoredChannel, error)
	IncrementDecrypted(ctx context.Context, id string) error
}

// ChannelKey is a validated channel with its raw key bytes.
type ChannelKey struct {
	ID                    string
	Name                  string
	Key                   []byte
	EnforceNameValidation bool
}

// ParseKey decodes and validates a stored channel. The decoded key must match
// the declared length and be 16 or 32 bytes.
func ParseKey(sc StoredChannel) (ChannelKey, error) {
	if sc.ID == "" {
		return ChannelKey{}, ErrMissingID
	}
	key, err := base64.StdEncoding.DecodeString(sc.KeyB64)
	if err != nil {
		return ChannelKey{}, fmt.Errorf("%w: %s: %v", ErrInvalidKey, sc.ID, err)
	}
	if len(key) != sc.KeyLen {
		return ChannelKey{}, fmt.Errorf("%w: %s: decoded %d bytes, declared %d", ErrInvalidKey, sc.ID, len(key), sc.KeyLen)
	}
	if len(key) != 16 && len(key) != 32 {
		return ChannelKey{}, fmt.Errorf("%w: %s: length %d", ErrInvalidKey, sc.ID, len(key))
	}
	return ChannelKey{
		ID:                    sc.ID,
		Name:                  sc.Name,
		Key:                   key,
		EnforceNameValidation: sc.EnforceNameValidation,
	}, nil
}

type Config struct {
	// TTL bounds how long a snapshot is served before the next read reloads it.
	TTL time.Duration
}

func DefaultConfig() Config {
	return Config{TTL: 60 * time.Second}
}

func (c Config) WithDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultConfig().TTL
	}
	return c
}

type snapshot struct {
	keys     []ChannelKey
	byID     map[string]int
	loadedAt time.Time
}

// Cache holds the ordered set of usable channel keys. Readers always see one
// complete snapshot; Refresh swaps the pointer.
type Cache struct {
	store Store
	cfg   Config
	now   func() time.Time

	snap        atomic.Pointer[snapshot]
	invalidated atomic.Bool
	refreshMu   sync.Mutex
}

func NewCache(store Store, cfg Config) *Cache {
	return &Cache{
		store: store,
		cfg:   cfg.WithDefaults(),
		now:   time.Now,
	}
}

// Refresh reloads enabled channels from the store. On failure the previous
// snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// An Invalidate landing after this point survives into the next read.
	wasInvalidated := c.invalidated.Swap(false)
	stored, err := c.store.EnabledChannels(ctx)
	if err != nil {
		if wasInvalidated {
			c.invalidated.Store(true)
		}
		observability.RecordChannelRefresh(false, 0)
		log.Warn().Err(err).Msg("channel cache refresh failed; keeping previous snapshot")
		return fmt.Errorf("channels: refresh: %w", err)
	}

	next := &snapshot{
		keys:     make([]ChannelKey, 0, len(stored)),
		byID:     make(map[string]int, len(stored)),
		loadedAt: c.now(),
	}
	for _, sc := range stored {
		ck, err := ParseKey(sc)
		if err != nil {
			log.Warn().Err(err).Str("channel", sc.ID).Msg("channel excluded")
			continue
		}
		if _, dup := next.byID[ck.ID]; dup {
			log.Warn().Str("channel", ck.ID).Msg("duplicate channel id excluded")
			continue
		}
		next.byID[ck.ID] = len(next.keys)
		next.keys = append(next.keys, ck)
	}

	c.snap.Store(next)
	observability.RecordChannelRefresh(true, len(next.keys))
	log.Debug().Int("loaded", len(next.keys)).Int("stored", len(stored)).Msg("channel cache refreshed")
	return nil
}

// Invalidate forces the next read to reload regardless of TTL.
func (c *Cache) Invalidate() {
	c.invalidated.Store(true)
}

func (c *Cache) current(ctx context.Context) *snapshot {
	s := c.snap.Load()
	if s == nil || c.invalidated.Load() || c.now().Sub(s.loadedAt) >= c.cfg.TTL {
		_ = c.Refresh(ctx)
		s = c.snap.Load()
	}
	if s == nil {
		return &snapshot{}
	}
	return s
}

// Snapshot returns the current keys in registration order. The slice is
// shared and must not be modified.
func (c *Cache) Snapshot(ctx context.Context) []ChannelKey {
	return c.current(ctx).keys
}

// EnabledIDs returns the ids of the usable channels in registration order.
func (c *Cache) EnabledIDs(ctx context.Context) []string {
	keys := c.current(ctx).keys
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return ids
}

// Info returns the channel with the given id.
func (c *Cache) Info(ctx context.Context, id string) (ChannelKey, bool) {
	s := c.current(ctx)
	idx, ok := s.byID[id]
	if !ok {
		return ChannelKey{}, false
	}
	return s.keys[idx], true
}

// LoadedAt reports when the current snapshot was built. Zero means never.
func (c *Cache) LoadedAt() time.Time {
	if s := c.snap.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// RecordDecrypted bumps the channel's decrypted counter in the store.
func (c *Cache) RecordDecrypted(ctx context.Context, id string) error {
	return c.store.IncrementDecrypted(ctx, id)
}
