package decrypt

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled        = errors.New("decrypt: disabled")
	ErrEmptyPayload    = errors.New("decrypt: empty payload")
	ErrNoChannels      = errors.New("decrypt: no channels configured")
	ErrChannelNotFound = errors.New("decrypt: channel not found")
	ErrKeyLength       = errors.New("decrypt: key must be 16 or 32 bytes")
)

// AttemptsExhaustedError reports a trial decryption that found no key after
// trying N channels.
type AttemptsExhaustedError struct {
	N int
}

func (e AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("decrypt: attempt cap exhausted (%d channels)", e.N)
}
