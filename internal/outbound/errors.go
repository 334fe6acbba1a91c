package outbound

import "errors"

var (
	ErrEmptyText  = errors.New("outbound: empty text")
	ErrClosed     = errors.New("outbound: queue closed")
	ErrTransmit   = errors.New("outbound: transmit failed")
	ErrRouting    = errors.New("outbound: routing failure")
	ErrAckTimeout = errors.New("outbound: ack timeout")
	ErrCleared    = errors.New("outbound: queue cleared")
)
