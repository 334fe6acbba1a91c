package main

import (
	"context"
	"encoding/hex"

	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/rs/zerolog"
)

// logLink stands in for the radio transport: frames are logged, not sent.
// Frames read back from the radio arrive through POST /frames.
type logLink struct {
	logger zerolog.Logger
}

func newLogLink(logger zerolog.Logger) *logLink {
	return &logLink{logger: logger}
}

func (l *logLink) WriteToRadio(_ context.Context, frame []byte) error {
	l.logger.Info().Int("bytes", len(frame)).Str("frame", hex.EncodeToString(frame)).Msg("to_radio")
	return nil
}

type logSink struct {
	logger zerolog.Logger
}

func newLogSink(logger zerolog.Logger) *logSink {
	return &logSink{logger: logger}
}

func (s *logSink) OnPacket(_ context.Context, rec bridge.Record) {
	event := s.logger.Info().
		Uint32("id", rec.Packet.ID).
		Uint32("from", rec.Packet.From).
		Uint32("to", rec.Packet.To).
		Bool("decrypted", rec.Decrypted)
	if rec.ChannelID != "" {
		event = event.Str("channel", rec.ChannelID)
	}
	if d := rec.Packet.Decoded; d != nil {
		event = event.Str("port", d.PortNum.String())
		if text, ok := d.Decoded.(schema.TextPayload); ok {
			event = event.Str("text", text.Text)
		}
	}
	if rec.DecryptErr != nil {
		event = event.AnErr("decrypt_err", rec.DecryptErr)
	}
	event.Msg("mesh_packet")
}

func (s *logSink) OnNodeInfo(_ context.Context, info schema.NodeInfo) {
	s.logger.Info().
		Uint32("num", info.Num).
		Str("long_name", info.User.LongName).
		Uint32("hops_away", info.HopsAway).
		Msg("node_info")
}
