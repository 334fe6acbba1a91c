package outbound

import (
	"context"
	"fmt"
	"time"
)

// BroadcastNode addresses every node on a channel.
const BroadcastNode uint32 = 0xFFFFFFFF

// Destination is either a node (direct) or a channel index (broadcast).
type Destination struct {
	// Node is the target node number. Zero or BroadcastNode means the
	// message goes to the whole channel.
	Node    uint32 `json:"node"`
	Channel uint32 `json:"channel"`
}

func ToNode(node uint32) Destination {
	return Destination{Node: node}
}

func ToChannel(index uint32) Destination {
	return Destination{Node: BroadcastNode, Channel: index}
}

// IsChannel reports whether the destination is a broadcast.
func (d Destination) IsChannel() bool {
	return d.Node == 0 || d.Node == BroadcastNode
}

func (d Destination) String() string {
	if d.IsChannel() {
		return fmt.Sprintf("channel:%d", d.Channel)
	}
	return fmt.Sprintf("!%08x", d.Node)
}

type State int

const (
	StateQueued State = iota
	StateSending
	StateAwaitingAck
	StateAcked
	StateSentNoAck
	StateFailed
)

var stateNames = map[State]string{
	StateQueued:      "queued",
	StateSending:     "sending",
	StateAwaitingAck: "awaiting_ack",
	StateAcked:       "acked",
	StateSentNoAck:   "sent_no_ack",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) terminal() bool {
	return s >= StateAcked
}

// Request is what the queue hands to the transmit function.
type Request struct {
	MessageID   string
	Text        string
	Destination Destination
	ReplyID     uint32
	Attempt     int
}

// TransmitFunc sends one attempt and returns the transport correlation id the
// eventual ack will carry. A zero id means the transport cannot report acks.
type TransmitFunc func(ctx context.Context, req Request) (uint32, error)

// Report describes a message at its terminal transition.
type Report struct {
	MessageID     string
	Destination   Destination
	CorrelationID uint32
	Attempts      int
	State         State
	Err           error
}

// Callback receives a terminal report. It runs outside the queue lock.
type Callback func(Report)

// MessageInfo is a read-only view of a held message.
type MessageInfo struct {
	ID            string      `json:"id"`
	Text          string      `json:"text"`
	Destination   Destination `json:"destination"`
	ReplyID       uint32      `json:"reply_id,omitempty"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	State         string      `json:"state"`
	CorrelationID uint32      `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitzero"`
	AwaitingSince time.Time   `json:"awaiting_since,omitzero"`
}

type message struct {
	id            string
	text          string
	dest          Destination
	replyID       uint32
	attempts      int
	maxAttempts   int
	enqueuedAt    time.Time
	lastAttemptAt time.Time
	awaitingSince time.Time
	correlationID uint32
	state         State
	onSuccess     Callback
	onFailure     Callback
}

func (m *message) info() MessageInfo {
	return MessageInfo{
		ID:            m.id,
		Text:          m.text,
		Destination:   m.dest,
		ReplyID:       m.replyID,
		Attempts:      m.attempts,
		MaxAttempts:   m.maxAttempts,
		State:         m.state.String(),
		CorrelationID: m.correlationID,
		EnqueuedAt:    m.enqueuedAt,
		LastAttemptAt: m.lastAttemptAt,
		AwaitingSince: m.awaitingSince,
	}
}

func (m *message) report(err error) Report {
	return Report{
		MessageID:     m.id,
		Destination:   m.dest,
		CorrelationID: m.correlationID,
		Attempts:      m.attempts,
		State:         m.state,
		Err:           err,
	}
}

// Option customizes a single Enqueue call.
type Option func(*message)

func WithReplyID(id uint32) Option {
	return func(m *message) { m.replyID = id }
}

// WithMaxAttempts overrides the destination's default attempt budget.
func WithMaxAttempts(n int) Option {
	return func(m *message) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func OnSuccess(cb Callback) Option {
	return func(m *message) { m.onSuccess = cb }
}

func OnFailure(cb Callback) Option {
	return func(m *message) { m.onFailure = cb }
}
