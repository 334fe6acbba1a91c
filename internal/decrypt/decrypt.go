package decrypt

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Enabled bool
	// MaxAttempts caps how many candidate keys one packet is tried against.
	MaxAttempts int
	// CounterTimeout bounds the background decrypted-count write.
	CounterTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxAttempts:    10,
		CounterTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.CounterTimeout <= 0 {
		c.CounterTimeout = def.CounterTimeout
	}
	return c
}

// Keys is the view of the channel cache the decryptor needs.
type Keys interface {
	Snapshot(ctx context.Context) []channels.ChannelKey
	Info(ctx context.Context, id string) (channels.ChannelKey, bool)
	RecordDecrypted(ctx context.Context, id string) error
}

// Result is the outcome of one trial decryption. Err is nil exactly when
// Success is true.
type Result struct {
	Success     bool
	ChannelID   string
	ChannelName string
	PortNum     schema.PortNum
	Payload     []byte
	Data        schema.Data
	// Attempted counts candidates that were decrypted and decoded.
	Attempted int
	Err       error
}

type Decryptor struct {
	cfg  Config
	keys Keys
	reg  *schema.Registry

	counters sync.WaitGroup
}

func New(cfg Config, keys Keys, reg *schema.Registry) *Decryptor {
	if reg == nil {
		reg = schema.Default()
	}
	return &Decryptor{cfg: cfg.WithDefaults(), keys: keys, reg: reg}
}

// TryDecrypt tries the registered channel keys in order until one yields a
// cleanly decoding envelope with a valid port. hint is the sender's channel
// hash, when known.
func (d *Decryptor) TryDecrypt(ctx context.Context, ciphertext []byte, packetID, fromNode uint32, hint *uint8) Result {
	if res, done := d.precheck(ciphertext); done {
		return res
	}
	keys := d.keys.Snapshot(ctx)
	if len(keys) == 0 {
		return d.fail(ErrNoChannels, 0, "no_channels")
	}
	return d.run(ctx, keys, ciphertext, packetID, fromNode, hint)
}

// TryDecryptWithChannel runs the same pipeline against one channel only.
func (d *Decryptor) TryDecryptWithChannel(ctx context.Context, ciphertext []byte, packetID, fromNode uint32, channelID string) Result {
	if res, done := d.precheck(ciphertext); done {
		return res
	}
	ck, ok := d.keys.Info(ctx, channelID)
	if !ok {
		return d.fail(ErrChannelNotFound, 0, "not_found")
	}
	return d.run(ctx, []channels.ChannelKey{ck}, ciphertext, packetID, fromNode, nil)
}

// Wait blocks until background counter writes have finished.
func (d *Decryptor) Wait() {
	d.counters.Wait()
}

func (d *Decryptor) precheck(ciphertext []byte) (Result, bool) {
	if !d.cfg.Enabled {
		return d.fail(ErrDisabled, 0, "disabled"), true
	}
	if len(ciphertext) == 0 {
		return d.fail(ErrEmptyPayload, 0, "empty"), true
	}
	return Result{}, false
}

func (d *Decryptor) run(ctx context.Context, keys []channels.ChannelKey, ciphertext []byte, packetID, fromNode uint32, hint *uint8) Result {
	iv := nonce(packetID, fromNode)
	attempted := 0
	for _, ck := range keys {
		if attempted >= d.cfg.MaxAttempts {
			break
		}
		if ck.EnforceNameValidation && hint != nil && ChannelHash(ck.Name, ck.Key) != *hint {
			continue
		}
		attempted++
		data, ok := d.attempt(ck, iv, ciphertext)
		if !ok {
			continue
		}

		d.recordDecrypted(ctx, ck.ID)
		observability.RecordDecrypt(attempted, "success")
		log.Debug().
			Str("channel", ck.ID).
			Uint32("packet_id", packetID).
			Uint32("from", fromNode).
			Str("port", data.PortNum.String()).
			Int("attempted", attempted).
			Msg("packet decrypted")
		return Result{
			Success:     true,
			ChannelID:   ck.ID,
			ChannelName: ck.Name,
			PortNum:     data.PortNum,
			Payload:     data.Payload,
			Data:        data,
			Attempted:   attempted,
		}
	}
	return d.fail(AttemptsExhaustedError{N: attempted}, attempted, "exhausted")
}

func (d *Decryptor) attempt(ck channels.ChannelKey, iv [nonceSize]byte, ciphertext []byte) (schema.Data, bool) {
	plain, err := xorKeyStream(ck.Key, iv, ciphertext)
	if err != nil {
		log.Warn().Err(err).Str("channel", ck.ID).Msg("channel key unusable")
		return schema.Data{}, false
	}
	data, ok := d.reg.DecodeDataStrict(plain)
	if !ok || !schema.ValidPortNum(data.PortNum) {
		return schema.Data{}, false
	}
	return data, true
}

func (d *Decryptor) recordDecrypted(ctx context.Context, id string) {
	d.counters.Add(1)
	go func() {
		defer d.counters.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CounterTimeout)
		defer cancel()
		if err := d.keys.RecordDecrypted(cctx, id); err != nil {
			log.Warn().Err(err).Str("channel", id).Msg("decrypted counter update failed")
		}
	}()
}

func (d *Decryptor) fail(err error, attempted int, outcome string) Result {
	observability.RecordDecrypt(attempted, outcome)
	log.Trace().Err(err).Int("attempted", attempted).Msg("packet not decrypted")
	return Result{Err: err, Attempted: attempted}
}
