// Package boltstore implements the channel config store with a bbolt backend.
// Entries are CBOR encoded and keyed by channel id; an order bucket keeps
// registration order stable across reloads.
package boltstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	metadataBucket = "metadata"
	channelsBucket = "channels"
	orderBucket    = "order"
	versionKey     = "version"
	schemaVersion  = 0

	// openTimeout bounds the wait for another process's file lock.
	openTimeout = 2 * time.Second
)

var ErrNoSuchChannel = errors.New("boltstore: no such channel")

// Store persists channel entries. It satisfies channels.Store.
type Store struct {
	db *bolt.DB
}

var _ channels.Store = (*Store)(nil)

// Open creates (or loads) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(channelsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(orderBucket)); err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("boltstore: incompatible version: %x", b)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Put inserts or replaces a channel. New ids are appended to the
// registration order; the decrypted counter survives replacement.
func (s *Store) Put(ctx context.Context, ch channels.StoredChannel) error {
	if ch.ID == "" {
		return channels.ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(channelsBucket))
		if raw := bkt.Get([]byte(ch.ID)); raw != nil {
			var prev channels.StoredChannel
			if err := cbor.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("boltstore: decode %s: %w", ch.ID, err)
			}
			ch.Decrypted = prev.Decrypted
		} else {
			order := tx.Bucket([]byte(orderBucket))
			seq, err := order.NextSequence()
			if err != nil {
				return err
			}
			if err := order.Put(seqKey(seq), []byte(ch.ID)); err != nil {
				return err
			}
		}
		raw, err := cbor.Marshal(ch)
		if err != nil {
			return fmt.Errorf("boltstore: encode %s: %w", ch.ID, err)
		}
		return bkt.Put([]byte(ch.ID), raw)
	})
}

// Delete removes a channel and its order entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(channelsBucket))
		if bkt.Get([]byte(id)) == nil {
			return ErrNoSuchChannel
		}
		order := tx.Bucket([]byte(orderBucket))
		cur := order.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if string(v) == id {
				if err := cur.Delete(); err != nil {
					return err
				}
				break
			}
		}
		return bkt.Delete([]byte(id))
	})
}

// Get returns one channel by id.
func (s *Store) Get(ctx context.Context, id string) (channels.StoredChannel, error) {
	var out channels.StoredChannel
	if err := ctx.Err(); err != nil {
		return out, err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(channelsBucket)).Get([]byte(id))
		if raw == nil {
			return ErrNoSuchChannel
		}
		return cbor.Unmarshal(raw, &out)
	})
	return out, err
}

// List returns every channel in registration order.
func (s *Store) List(ctx context.Context) ([]channels.StoredChannel, error) {
	return s.list(ctx, false)
}

// EnabledChannels returns the enabled channels in registration order.
func (s *Store) EnabledChannels(ctx context.Context) ([]channels.StoredChannel, error) {
	return s.list(ctx, true)
}

func (s *Store) list(ctx context.Context, enabledOnly bool) ([]channels.StoredChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []channels.StoredChannel
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(channelsBucket))
		return tx.Bucket([]byte(orderBucket)).ForEach(func(_, id []byte) error {
			raw := bkt.Get(id)
			if raw == nil {
				return nil
			}
			var ch channels.StoredChannel
			if err := cbor.Unmarshal(raw, &ch); err != nil {
				return fmt.Errorf("boltstore: decode %s: %w", id, err)
			}
			if enabledOnly && !ch.Enabled {
				return nil
			}
			out = append(out, ch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementDecrypted bumps the channel's decrypted-message counter.
func (s *Store) IncrementDecrypted(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(channelsBucket))
		raw := bkt.Get([]byte(id))
		if raw == nil {
			return ErrNoSuchChannel
		}
		var ch channels.StoredChannel
		if err := cbor.Unmarshal(raw, &ch); err != nil {
			return fmt.Errorf("boltstore: decode %s: %w", id, err)
		}
		ch.Decrypted++
		next, err := cbor.Marshal(ch)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(id), next)
	})
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
