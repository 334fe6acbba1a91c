package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Queue paces outbound messages onto the shared channel, retries the
// unacknowledged ones, and reports each message's terminal outcome once.
//
// A message is in exactly one of pending (never sent) or awaiting (sent,
// keyed by its latest correlation id) until it reaches a terminal state.
type Queue struct {
	cfg      Config
	transmit TransmitFunc
	clock    clock

	mu        sync.Mutex
	pending   []*message
	awaiting  map[uint32]*message
	lastSend  time.Time
	holdUntil time.Time
	running   bool
	closed    bool

	// inFlight is set while transmit runs. Signals for ids not yet in
	// awaiting are held in early until that transmit finishes.
	inFlight bool
	early    map[uint32]signal

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	halt   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// signal is an ack (failed false) or a routing failure that reached the
// queue before its correlation id was registered.
type signal struct {
	failed bool
	reason string
}

func New(cfg Config, transmit TransmitFunc) *Queue {
	return newQueue(cfg, transmit, realClock{})
}

func newQueue(cfg Config, transmit TransmitFunc, clk clock) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:      cfg.WithDefaults(),
		transmit: transmit,
		clock:    clk,
		awaiting: make(map[uint32]*message),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		halt:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.sweepLoop()
	return q
}

// Enqueue accepts text for delivery and returns the message id. Broadcasts
// default to ChannelMaxAttempts, direct messages to DirectMaxAttempts.
func (q *Queue) Enqueue(text string, dest Destination, opts ...Option) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	m := &message{
		id:         uuid.NewString(),
		text:       text,
		dest:       dest,
		enqueuedAt: q.clock.Now(),
		state:      StateQueued,
	}
	if dest.IsChannel() {
		m.maxAttempts = q.cfg.ChannelMaxAttempts
	} else {
		m.maxAttempts = q.cfg.DirectMaxAttempts
	}
	for _, opt := range opts {
		opt(m)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.pending = append(q.pending, m)
	q.startLocked()
	q.recordDepthLocked()
	q.mu.Unlock()

	observability.RecordOutbound("enqueued")
	log.Debug().
		Str("message_id", m.id).
		Str("dest", dest.String()).
		Int("max_attempts", m.maxAttempts).
		Msg("outbound message queued")
	return m.id, nil
}

// HandleAck completes the message awaiting correlationID. It reports false
// when nothing is waiting on that id; an ack racing the transmit that
// produced the id is held and applied once that transmit returns.
func (q *Queue) HandleAck(correlationID uint32) bool {
	q.mu.Lock()
	m, ok := q.awaiting[correlationID]
	if !ok {
		q.holdEarlyLocked(correlationID, signal{})
		q.mu.Unlock()
		return false
	}
	q.removeLocked(m)
	m.state = StateAcked
	q.recordDepthLocked()
	q.mu.Unlock()

	observability.RecordOutbound("acked")
	log.Debug().Str("message_id", m.id).Uint32("correlation_id", correlationID).Msg("outbound message acked")
	q.notify(m.onSuccess, m.report(nil))
	return true
}

// HandleFailure fails the message awaiting correlationID with reason. It
// reports false when nothing is waiting on that id.
func (q *Queue) HandleFailure(correlationID uint32, reason string) bool {
	q.mu.Lock()
	m, ok := q.awaiting[correlationID]
	if !ok {
		q.holdEarlyLocked(correlationID, signal{failed: true, reason: reason})
		q.mu.Unlock()
		return false
	}
	q.removeLocked(m)
	m.state = StateFailed
	q.recordDepthLocked()
	q.mu.Unlock()

	observability.RecordOutbound("routing_failed")
	log.Info().
		Str("message_id", m.id).
		Uint32("correlation_id", correlationID).
		Str("reason", reason).
		Msg("outbound message failed")
	q.notify(m.onFailure, m.report(fmt.Errorf("%w: %s", ErrRouting, reason)))
	return true
}

func (q *Queue) holdEarlyLocked(correlationID uint32, sig signal) {
	if !q.inFlight || correlationID == 0 {
		return
	}
	if q.early == nil {
		q.early = make(map[uint32]signal)
	}
	q.early[correlationID] = sig
}

// SweepOrphans fails every message that has awaited an ack for longer than
// OrphanTimeout. It returns how many were failed.
func (q *Queue) SweepOrphans() int {
	now := q.clock.Now()
	q.mu.Lock()
	var expired []*message
	for _, m := range q.awaiting {
		if m.state != StateAwaitingAck {
			continue
		}
		if now.Sub(m.awaitingSince) >= q.cfg.OrphanTimeout {
			expired = append(expired, m)
		}
	}
	for _, m := range expired {
		q.removeLocked(m)
		m.state = StateFailed
	}
	if len(expired) > 0 {
		q.recordDepthLocked()
	}
	q.mu.Unlock()

	for _, m := range expired {
		observability.RecordOutbound("ack_timeout")
		log.Info().Str("message_id", m.id).Uint32("correlation_id", m.correlationID).Msg("outbound ack timed out")
		q.notify(m.onFailure, m.report(ErrAckTimeout))
	}
	return len(expired)
}

// Clear fails every held message, including one mid-transmit, and lets the
// loop wind down. It returns how many messages were failed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	seen := make(map[*message]struct{}, len(q.pending)+len(q.awaiting))
	var cleared []*message
	collect := func(m *message) {
		if _, dup := seen[m]; dup {
			return
		}
		seen[m] = struct{}{}
		m.state = StateFailed
		cleared = append(cleared, m)
	}
	for _, m := range q.pending {
		collect(m)
	}
	for _, m := range q.awaiting {
		collect(m)
	}
	q.pending = nil
	q.awaiting = make(map[uint32]*message)
	q.recordDepthLocked()
	q.signalLocked()
	q.mu.Unlock()

	for _, m := range cleared {
		observability.RecordOutbound("cleared")
		q.notify(m.onFailure, m.report(ErrCleared))
	}
	if len(cleared) > 0 {
		log.Info().Int("messages", len(cleared)).Msg("outbound queue cleared")
	}
	return len(cleared)
}

// RecordExternalSend marks a transmission made outside the queue so queued
// sends keep the global spacing.
func (q *Queue) RecordExternalSend() {
	q.mu.Lock()
	q.lastSend = q.clock.Now()
	q.mu.Unlock()
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued   int           `json:"queued"`
	Awaiting int           `json:"awaiting"`
	Running  bool          `json:"running"`
	LastSend time.Time     `json:"last_send,omitzero"`
	Messages []MessageInfo `json:"messages"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{
		Queued:   len(q.pending),
		Awaiting: len(q.awaiting),
		Running:  q.running,
		LastSend: q.lastSend,
		Messages: make([]MessageInfo, 0, len(q.pending)+len(q.awaiting)),
	}
	for _, m := range q.pending {
		st.Messages = append(st.Messages, m.info())
	}
	for _, m := range q.awaiting {
		st.Messages = append(st.Messages, m.info())
	}
	return st
}

// Tracking reports whether correlationID is awaiting an ack.
func (q *Queue) Tracking(correlationID uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.awaiting[correlationID]
	return ok
}

// Close stops the loop and the sweeper. An in-flight transmit is allowed to
// settle first; held messages are left unreported.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.halt)
		q.wg.Wait()
		q.cancel()
	})
}

func (q *Queue) startLocked() {
	if q.running {
		q.signalLocked()
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.loop()
}

func (q *Queue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.halt:
			q.stop()
			return
		default:
		}

		q.mu.Lock()
		m, wait, idle := q.nextLocked(q.clock.Now())
		if idle {
			q.running = false
			q.mu.Unlock()
			log.Trace().Msg("outbound loop idle")
			return
		}
		if m == nil {
			q.mu.Unlock()
			select {
			case <-q.clock.After(wait):
			case <-q.wake:
			case <-q.halt:
				q.stop()
				return
			}
			continue
		}
		req := q.beginLocked(m)
		q.mu.Unlock()

		correlationID, err := q.transmit(q.ctx, req)
		q.finish(m, correlationID, err)
	}
}

func (q *Queue) stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// nextLocked picks the next message to send. A due retry wins over a fresh
// message. With nothing sendable now it returns how long to wait, or idle
// when nothing can become sendable without outside input.
func (q *Queue) nextLocked(now time.Time) (*message, time.Duration, bool) {
	var (
		pick      *message
		retryWait time.Duration = -1
	)
	for _, m := range q.awaiting {
		if m.state != StateAwaitingAck || m.attempts >= m.maxAttempts {
			continue
		}
		due := m.lastAttemptAt.Add(q.retryDelay(m.attempts))
		if !now.Before(due) {
			if pick == nil || m.lastAttemptAt.Before(pick.lastAttemptAt) {
				pick = m
			}
			continue
		}
		if w := due.Sub(now); retryWait < 0 || w < retryWait {
			retryWait = w
		}
	}
	if pick == nil && len(q.pending) > 0 {
		pick = q.pending[0]
	}
	if pick == nil {
		if retryWait < 0 {
			return nil, 0, true
		}
		return nil, retryWait, false
	}

	gate := q.holdUntil
	if !q.lastSend.IsZero() {
		if next := q.lastSend.Add(q.cfg.SendInterval); next.After(gate) {
			gate = next
		}
	}
	if now.Before(gate) {
		return nil, gate.Sub(now), false
	}
	return pick, 0, false
}

func (q *Queue) retryDelay(attempts int) time.Duration {
	return NextBackoffDelay(q.cfg.Backoff, attempts, q.cfg.RetryInterval, nil)
}

func (q *Queue) beginLocked(m *message) Request {
	m.attempts++
	m.lastAttemptAt = q.clock.Now()
	m.state = StateSending
	q.inFlight = true
	return Request{
		MessageID:   m.id,
		Text:        m.text,
		Destination: m.dest,
		ReplyID:     m.replyID,
		Attempt:     m.attempts,
	}
}

// finish applies the outcome of one transmit. A message that went terminal
// while the transmit was in flight (late ack, Clear) is left alone. Signals
// held during the transmit are consumed here and never outlive it.
func (q *Queue) finish(m *message, correlationID uint32, err error) {
	now := q.clock.Now()
	var (
		cb     Callback
		report Report
		event  string
	)

	q.mu.Lock()
	early := q.early
	q.early = nil
	q.inFlight = false
	if m.state.terminal() {
		q.mu.Unlock()
		return
	}
	switch {
	case err != nil && m.attempts < m.maxAttempts:
		// Still eligible: it keeps its place in pending, or its last
		// correlation id in awaiting.
		m.state = StateQueued
		if m.correlationID != 0 && q.awaiting[m.correlationID] == m {
			m.state = StateAwaitingAck
		}
		q.holdUntil = now.Add(q.cfg.SendInterval)
		event = "transmit_retry"
		log.Warn().Err(err).Str("message_id", m.id).Int("attempt", m.attempts).Msg("outbound transmit failed; will retry")
	case err != nil:
		q.removeLocked(m)
		m.state = StateFailed
		q.holdUntil = now.Add(q.cfg.SendInterval)
		cb, report, event = m.onFailure, m.report(fmt.Errorf("%w: %w", ErrTransmit, err)), "transmit_failed"
		log.Warn().Err(err).Str("message_id", m.id).Int("attempt", m.attempts).Msg("outbound transmit failed; giving up")
	case correlationID == 0:
		q.lastSend = now
		q.removeLocked(m)
		m.state = StateSentNoAck
		cb, report, event = m.onSuccess, m.report(nil), "sent_no_ack"
	default:
		q.lastSend = now
		q.removeLocked(m)
		m.correlationID = correlationID
		if sig, ok := early[correlationID]; ok {
			if sig.failed {
				m.state = StateFailed
				cb, report, event = m.onFailure, m.report(fmt.Errorf("%w: %s", ErrRouting, sig.reason)), "routing_failed"
			} else {
				m.state = StateAcked
				cb, report, event = m.onSuccess, m.report(nil), "acked"
			}
			log.Debug().
				Str("message_id", m.id).
				Uint32("correlation_id", correlationID).
				Str("state", m.state.String()).
				Msg("outbound signal arrived before transmit returned")
			break
		}
		m.awaitingSince = now
		m.state = StateAwaitingAck
		q.awaiting[correlationID] = m
		event = "sent"
		log.Debug().
			Str("message_id", m.id).
			Uint32("correlation_id", correlationID).
			Int("attempt", m.attempts).
			Int("max_attempts", m.maxAttempts).
			Msg("outbound message sent")
	}
	q.recordDepthLocked()
	q.mu.Unlock()

	observability.RecordOutbound(event)
	q.notify(cb, report)
}

// removeLocked drops m from pending and from awaiting under its current id.
func (q *Queue) removeLocked(m *message) {
	for i, p := range q.pending {
		if p == m {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	if m.correlationID != 0 && q.awaiting[m.correlationID] == m {
		delete(q.awaiting, m.correlationID)
	}
}

func (q *Queue) recordDepthLocked() {
	observability.SetOutboundDepth(len(q.pending), len(q.awaiting))
}

func (q *Queue) notify(cb Callback, r Report) {
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("message_id", r.MessageID).
				Str("state", r.State.String()).
				Interface("panic", rec).
				Msg("outbound callback panicked")
		}
	}()
	cb(r)
}

func (q *Queue) sweepLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.halt:
			return
		case <-ticker.C:
			if n := q.SweepOrphans(); n > 0 {
				log.Debug().Int("expired", n).Msg("outbound orphan sweep")
			}
		}
	}
}
