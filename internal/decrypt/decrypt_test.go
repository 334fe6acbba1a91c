package decrypt

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/danmuck/meshbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	keys []channels.ChannelKey

	mu        sync.Mutex
	decrypted map[string]int
}

func (f *fakeKeys) Snapshot(context.Context) []channels.ChannelKey { return f.keys }

func (f *fakeKeys) Info(_ context.Context, id string) (channels.ChannelKey, bool) {
	for _, k := range f.keys {
		if k.ID == id {
			return k, true
		}
	}
	return channels.ChannelKey{}, false
}

func (f *fakeKeys) RecordDecrypted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decrypted == nil {
		f.decrypted = map[string]int{}
	}
	f.decrypted[id]++
	return nil
}

func (f *fakeKeys) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decrypted[id]
}

func key(seed byte, n int) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = seed + byte(i*7)
	}
	return k
}

func channel(id, name string, k []byte, enforce bool) channels.ChannelKey {
	return channels.ChannelKey{ID: id, Name: name, Key: k, EnforceNameValidation: enforce}
}

func sealText(t *testing.T, k []byte, packetID, from uint32, text string) []byte {
	t.Helper()
	plain, err := schema.Default().EncodeData(schema.Data{
		PortNum: schema.PortTextMessage,
		Payload: []byte(text),
	})
	require.NoError(t, err)
	ct, err := Encrypt(k, packetID, from, plain)
	require.NoError(t, err)
	return ct
}

func newDecryptor(keys Keys, maxAttempts int) *Decryptor {
	cfg := DefaultConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	return New(cfg, keys, schema.Default())
}

func TestXorHash(t *testing.T) {
	require.Equal(t, uint8(0), XorHash([]byte{0xFF, 0xFF}))
	require.Equal(t, uint8(0), XorHash(nil))
	require.Equal(t, uint8(0), XorHash([]byte{}))
	require.Equal(t, uint8(0x42), XorHash([]byte{0x42}))
	require.Equal(t, uint8(0x01^0x02^0x04), XorHash([]byte{1, 2, 4}))
}

func TestNonceLayout(t *testing.T) {
	n := nonce(0x01020304, 0xAABBCCDD)
	want := []byte{
		0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0,
		0xDD, 0xCC, 0xBB, 0xAA, 0, 0, 0, 0,
	}
	require.Equal(t, want, n[:])
}

func TestRoundTripBothKeySizes(t *testing.T) {
	testlog.Start(t)
	for _, size := range []int{16, 32} {
		k := key(byte(size), size)
		keys := &fakeKeys{keys: []channels.ChannelKey{channel("primary", "LongFast", k, false)}}
		d := newDecryptor(keys, 0)

		ct := sealText(t, k, 0x1234, 0xAABBCCDD, "hello from the ridge line")
		res := d.TryDecrypt(context.Background(), ct, 0x1234, 0xAABBCCDD, nil)
		require.Truef(t, res.Success, "size %d: %v", size, res.Err)
		require.NoError(t, res.Err)
		require.Equal(t, "primary", res.ChannelID)
		require.Equal(t, "LongFast", res.ChannelName)
		require.Equal(t, schema.PortTextMessage, res.PortNum)
		require.Equal(t, []byte("hello from the ridge line"), res.Payload)
		require.Equal(t, schema.TextPayload{Text: "hello from the ridge line"}, res.Data.Decoded)

		d.Wait()
		require.Equal(t, 1, keys.count("primary"))
	}
}

func TestWrongNonceFails(t *testing.T) {
	testlog.Start(t)
	k := key(3, 16)
	d := newDecryptor(&fakeKeys{keys: []channels.ChannelKey{channel("a", "A", k, false)}}, 0)
	ct := sealText(t, k, 10, 20, "nonce bound payload text")
	res := d.TryDecrypt(context.Background(), ct, 11, 20, nil)
	require.False(t, res.Success)
}

func TestUnknownKeyFailsRegardlessOfChannelCount(t *testing.T) {
	testlog.Start(t)
	foreign := key(200, 16)
	ct := sealText(t, foreign, 99, 5, "sealed under a key nobody registered")

	for _, n := range []int{1, 4, 9} {
		var ks []channels.ChannelKey
		for i := 0; i < n; i++ {
			ks = append(ks, channel(string(rune('a'+i)), "ch", key(byte(i*13), 16), false))
		}
		res := newDecryptor(&fakeKeys{keys: ks}, 0).TryDecrypt(context.Background(), ct, 99, 5, nil)
		require.False(t, res.Success)
		var exhausted AttemptsExhaustedError
		require.True(t, errors.As(res.Err, &exhausted))
		require.Equal(t, n, exhausted.N)
	}
}

func TestAttemptCapCitesAttemptedCount(t *testing.T) {
	testlog.Start(t)
	target := key(90, 16)
	keys := &fakeKeys{keys: []channels.ChannelKey{
		channel("c1", "one", key(10, 16), false),
		channel("c2", "two", key(20, 16), false),
		channel("c3", "three", target, false),
		channel("c4", "four", key(40, 16), false),
	}}
	ct := sealText(t, target, 7, 8, "only the third key opens this")

	res := newDecryptor(keys, 2).TryDecrypt(context.Background(), ct, 7, 8, nil)
	require.False(t, res.Success)
	require.Equal(t, AttemptsExhaustedError{N: 2}, res.Err)
	require.Equal(t, "decrypt: attempt cap exhausted (2 channels)", res.Err.Error())

	res = newDecryptor(keys, 3).TryDecrypt(context.Background(), ct, 7, 8, nil)
	require.True(t, res.Success)
	require.Equal(t, "c3", res.ChannelID)
	require.Equal(t, 3, res.Attempted)
}

func TestHintSelectsEnforcedChannel(t *testing.T) {
	testlog.Start(t)
	target := key(55, 32)
	others := []channels.ChannelKey{
		channel("x", "Alpha", key(1, 16), true),
		channel("y", "Bravo", key(2, 16), true),
	}
	match := channel("z", "Secure", target, true)
	hint := ChannelHash(match.Name, match.Key)
	for _, o := range others {
		require.NotEqual(t, hint, ChannelHash(o.Name, o.Key), "fixture hashes must differ")
	}

	keys := &fakeKeys{keys: append(others, match)}
	ct := sealText(t, target, 300, 400, "enforced channel with a good hint")

	res := newDecryptor(keys, 0).TryDecrypt(context.Background(), ct, 300, 400, &hint)
	require.True(t, res.Success)
	require.Equal(t, "z", res.ChannelID)
	require.Equal(t, 1, res.Attempted, "non-matching enforced channels must be skipped")

	wrong := hint ^ 0x5A
	res = newDecryptor(&fakeKeys{keys: []channels.ChannelKey{match}}, 0).TryDecrypt(context.Background(), ct, 300, 400, &wrong)
	require.False(t, res.Success)
	require.Equal(t, 0, res.Attempted)
	require.Equal(t, AttemptsExhaustedError{N: 0}, res.Err)
}

func TestHintIgnoredWithoutEnforcement(t *testing.T) {
	testlog.Start(t)
	k := key(77, 16)
	keys := &fakeKeys{keys: []channels.ChannelKey{channel("legacy", "Legacy", k, false)}}
	ct := sealText(t, k, 1, 2, "brute force still reaches this one")
	wrong := ChannelHash("Legacy", k) ^ 0xFF

	res := newDecryptor(keys, 0).TryDecrypt(context.Background(), ct, 1, 2, &wrong)
	require.True(t, res.Success)
	require.Equal(t, "legacy", res.ChannelID)
}

func TestPrecheckFailures(t *testing.T) {
	testlog.Start(t)
	k := key(9, 16)
	keys := &fakeKeys{keys: []channels.ChannelKey{channel("a", "A", k, false)}}

	cfg := DefaultConfig()
	cfg.Enabled = false
	res := New(cfg, keys, nil).TryDecrypt(context.Background(), []byte{1}, 1, 1, nil)
	require.ErrorIs(t, res.Err, ErrDisabled)

	res = newDecryptor(keys, 0).TryDecrypt(context.Background(), nil, 1, 1, nil)
	require.ErrorIs(t, res.Err, ErrEmptyPayload)

	res = newDecryptor(&fakeKeys{}, 0).TryDecrypt(context.Background(), []byte{1, 2, 3}, 1, 1, nil)
	require.ErrorIs(t, res.Err, ErrNoChannels)
	require.False(t, res.Success)
}

func TestTryDecryptWithChannel(t *testing.T) {
	testlog.Start(t)
	first := key(30, 16)
	second := key(60, 16)
	keys := &fakeKeys{keys: []channels.ChannelKey{
		channel("first", "First", first, false),
		channel("second", "Second", second, false),
	}}
	d := newDecryptor(keys, 0)
	ct := sealText(t, second, 42, 43, "addressed to the second channel")

	res := d.TryDecryptWithChannel(context.Background(), ct, 42, 43, "second")
	require.True(t, res.Success)
	require.Equal(t, 1, res.Attempted)

	res = d.TryDecryptWithChannel(context.Background(), ct, 42, 43, "first")
	require.False(t, res.Success)
	require.Equal(t, AttemptsExhaustedError{N: 1}, res.Err)

	res = d.TryDecryptWithChannel(context.Background(), ct, 42, 43, "missing")
	require.ErrorIs(t, res.Err, ErrChannelNotFound)
	d.Wait()
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := Encrypt(bytes.Repeat([]byte{1}, 24), 1, 1, []byte("x"))
	require.ErrorIs(t, err, ErrKeyLength)
}
