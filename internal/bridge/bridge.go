package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/danmuck/meshbridge/internal/outbound"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrUndecodableFrame = errors.New("bridge: undecodable radio frame")
	ErrNoSessionKey     = errors.New("bridge: no admin session key for node")
	ErrUnknownAdminKind = errors.New("bridge: unknown admin request kind")
)

// Link writes encoded ToRadio frames to the gateway radio.
type Link interface {
	WriteToRadio(ctx context.Context, frame []byte) error
}

// Sink receives inbound records once the bridge has decoded them.
type Sink interface {
	OnPacket(ctx context.Context, rec Record)
	OnNodeInfo(ctx context.Context, info schema.NodeInfo)
}

// Decryptor is the part of the packet decryptor the bridge drives.
type Decryptor interface {
	TryDecrypt(ctx context.Context, ciphertext []byte, packetID, fromNode uint32, hint *uint8) decrypt.Result
}

// Tracker is the part of the outbound queue that consumes delivery signals.
type Tracker interface {
	HandleAck(correlationID uint32) bool
	HandleFailure(correlationID uint32, reason string) bool
	RecordExternalSend()
}

type Config struct {
	// LocalNode is the gateway's node number. Zero means learn it from the
	// radio's my_info frame.
	LocalNode uint32
	HopLimit  uint32
}

func DefaultConfig() Config {
	return Config{HopLimit: 3}
}

// Record is one inbound packet as handed to the sink.
type Record struct {
	Packet     schema.MeshPacket
	ChannelID  string
	Decrypted  bool
	DecryptErr error
	ReceivedAt time.Time
}

// Bridge connects the radio link to the decryptor, the schema codecs and the
// outbound queue.
type Bridge struct {
	cfg       Config
	reg       *schema.Registry
	decryptor Decryptor
	tracker   Tracker
	link      Link
	sink      Sink

	localNode atomic.Uint32
	nextID    func() uint32

	mu       sync.RWMutex
	sessions map[uint32][]byte
}

// New wires a bridge. tracker may be nil when nothing is sent through a queue.
func New(cfg Config, reg *schema.Registry, decryptor Decryptor, tracker Tracker, link Link, sink Sink) *Bridge {
	if reg == nil {
		reg = schema.Default()
	}
	if cfg.HopLimit == 0 {
		cfg.HopLimit = DefaultConfig().HopLimit
	}
	b := &Bridge{
		cfg:       cfg,
		reg:       reg,
		decryptor: decryptor,
		tracker:   tracker,
		link:      link,
		sink:      sink,
		nextID:    randomPacketID,
		sessions:  make(map[uint32][]byte),
	}
	b.localNode.Store(cfg.LocalNode)
	return b
}

// SetTracker attaches the queue after construction; the queue's transmit
// function is usually the bridge itself.
func (b *Bridge) SetTracker(t Tracker) {
	b.tracker = t
}

func (b *Bridge) LocalNode() uint32 {
	return b.localNode.Load()
}

// Transmit sends one queued text message. The fresh packet id is returned as
// the correlation id the routing ack will carry.
func (b *Bridge) Transmit(ctx context.Context, req outbound.Request) (uint32, error) {
	id := b.nextID()
	to := req.Destination.Node
	if req.Destination.IsChannel() {
		to = schema.BroadcastAddr
	}
	pkt := schema.MeshPacket{
		From:     b.LocalNode(),
		To:       to,
		Channel:  req.Destination.Channel,
		ID:       id,
		HopLimit: b.cfg.HopLimit,
		HopStart: b.cfg.HopLimit,
		// Broadcasts also ask for an ack: the first rebroadcast heard
		// comes back as an implicit one.
		WantAck:  true,
		Priority: schema.PriorityReliable,
	}
	frame, err := b.reg.EncodeTextPacket(pkt, req.Text, req.ReplyID)
	if err != nil {
		return 0, err
	}
	if err := b.link.WriteToRadio(ctx, frame); err != nil {
		return 0, fmt.Errorf("bridge: write to radio: %w", err)
	}
	log.Debug().
		Str("message_id", req.MessageID).
		Uint32("packet_id", id).
		Str("dest", req.Destination.String()).
		Int("attempt", req.Attempt).
		Msg("text packet written")
	return id, nil
}

// HandleFromRadio decodes one FromRadio frame and routes its contents.
func (b *Bridge) HandleFromRadio(ctx context.Context, raw []byte) error {
	frame, ok := b.reg.DecodeFromRadio(raw)
	if !ok {
		return ErrUndecodableFrame
	}
	switch {
	case frame.Packet != nil:
		b.HandlePacket(ctx, *frame.Packet)
	case frame.MyInfo != nil:
		if b.localNode.CompareAndSwap(0, frame.MyInfo.MyNodeNum) {
			log.Info().Str("node", nodeName(frame.MyInfo.MyNodeNum)).Msg("gateway node learned")
		}
	case frame.NodeInfo != nil:
		if b.sink != nil {
			b.sink.OnNodeInfo(ctx, *frame.NodeInfo)
		}
	}
	return nil
}

// HandlePacket decrypts pkt when needed, feeds routing and admin payloads back
// into the bridge, and hands the record to the sink.
func (b *Bridge) HandlePacket(ctx context.Context, pkt schema.MeshPacket) Record {
	rec := Record{Packet: pkt, ReceivedAt: time.Now()}

	if pkt.Decoded == nil && len(pkt.Encrypted) > 0 && b.decryptor != nil {
		var hint *uint8
		if pkt.Channel <= 0xFF {
			h := uint8(pkt.Channel)
			hint = &h
		}
		res := b.decryptor.TryDecrypt(ctx, pkt.Encrypted, pkt.ID, pkt.From, hint)
		if res.Success {
			data := res.Data
			rec.Packet.Decoded = &data
			rec.ChannelID = res.ChannelID
			rec.Decrypted = true
		} else {
			rec.DecryptErr = res.Err
		}
	}

	port := "encrypted"
	if d := rec.Packet.Decoded; d != nil {
		if d.Decoded == nil && len(d.Payload) > 0 {
			data := *d
			data.Decoded = b.reg.DecodePayload(data.PortNum, data.Payload)
			rec.Packet.Decoded = &data
			d = &data
		}
		port = d.PortNum.String()
		b.dispatch(rec.Packet, *d)
	}
	observability.RecordInboundPacket(port)

	if b.sink != nil {
		b.sink.OnPacket(ctx, rec)
	}
	return rec
}

func (b *Bridge) dispatch(pkt schema.MeshPacket, d schema.Data) {
	switch p := d.Decoded.(type) {
	case schema.Routing:
		if d.RequestID == 0 || b.tracker == nil || p.RouteRequest != nil || p.RouteReply != nil {
			return
		}
		if p.ErrorReason == schema.RoutingNone {
			b.tracker.HandleAck(d.RequestID)
			return
		}
		b.tracker.HandleFailure(d.RequestID, p.ErrorReason.String())
	case schema.AdminMessage:
		if len(p.SessionPasskey) == 0 {
			return
		}
		key := make([]byte, len(p.SessionPasskey))
		copy(key, p.SessionPasskey)
		b.mu.Lock()
		b.sessions[pkt.From] = key
		b.mu.Unlock()
		log.Debug().Str("node", nodeName(pkt.From)).Msg("admin session key cached")
	}
}

// SessionKey returns the last admin session passkey seen from node.
func (b *Bridge) SessionKey(node uint32) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.sessions[node]
	return key, ok
}

type AdminKind string

const (
	AdminSessionKey     AdminKind = "session_key"
	AdminSetFavorite    AdminKind = "set_favorite"
	AdminRemoveFavorite AdminKind = "remove_favorite"
)

// AdminRequest names an administrative operation against Node. Favorite is
// the node being (un)marked for the favorite kinds.
type AdminRequest struct {
	Kind     AdminKind
	Node     uint32
	Favorite uint32
	Channel  uint32
}

// SendAdmin writes an administrative request outside the queue and returns
// its packet id. Favorite changes need a session key fetched first.
func (b *Bridge) SendAdmin(ctx context.Context, req AdminRequest) (uint32, error) {
	target := schema.AdminTarget{
		From:     b.LocalNode(),
		To:       req.Node,
		PacketID: b.nextID(),
		Channel:  req.Channel,
		HopLimit: b.cfg.HopLimit,
	}

	var (
		frame []byte
		err   error
	)
	switch req.Kind {
	case AdminSessionKey:
		frame, err = b.reg.BuildSessionKeyRequest(target)
	case AdminSetFavorite, AdminRemoveFavorite:
		key, ok := b.SessionKey(req.Node)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrNoSessionKey, nodeName(req.Node))
		}
		target.SessionPasskey = key
		if req.Kind == AdminSetFavorite {
			frame, err = b.reg.BuildSetFavoriteRequest(target, req.Favorite)
		} else {
			frame, err = b.reg.BuildRemoveFavoriteRequest(target, req.Favorite)
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAdminKind, req.Kind)
	}
	if err != nil {
		return 0, err
	}
	if err := b.link.WriteToRadio(ctx, frame); err != nil {
		return 0, fmt.Errorf("bridge: write to radio: %w", err)
	}
	if b.tracker != nil {
		b.tracker.RecordExternalSend()
	}
	log.Info().Str("kind", string(req.Kind)).Str("node", nodeName(req.Node)).Uint32("packet_id", target.PacketID).Msg("admin request written")
	return target.PacketID, nil
}

func randomPacketID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

func nodeName(n uint32) string {
	return fmt.Sprintf("!%08x", n)
}
