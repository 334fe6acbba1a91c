package schema

import (
	"testing"

	"github.com/danmuck/meshbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestLoadBuildsEveryFamily(t *testing.T) {
	testlog.Start(t)
	r, err := Load()
	require.NoError(t, err)
	for _, name := range []string{
		MsgPosition, MsgUser, MsgNodeInfo, MsgData, MsgMeshPacket,
		MsgToRadio, MsgFromRadio, MsgRouting, MsgTelemetry, MsgAdminMessage,
	} {
		_, ok := r.Descriptor(name)
		require.Truef(t, ok, "missing descriptor %s", name)
	}
	require.Same(t, Default(), Default())
}

func TestPositionRoundTripAndDegrees(t *testing.T) {
	testlog.Start(t)
	r := Default()
	latI, lonI := FromDegrees(40.7128, -74.0060)
	in := Position{
		LatitudeI:     latI,
		LongitudeI:    lonI,
		Altitude:      -12,
		FixQuality:    1,
		FixType:       3,
		SatsInView:    9,
		PrecisionBits: 32,
		Time:          1700000000,
	}
	raw, err := r.EncodePosition(in)
	require.NoError(t, err)

	got, ok := r.DecodePosition(raw)
	require.True(t, ok)
	require.Equal(t, in, got)

	lat, lon := got.Degrees()
	require.InDelta(t, 40.7128, lat, 1e-7)
	require.InDelta(t, -74.0060, lon, 1e-7)
}

func TestToDegrees(t *testing.T) {
	lat, lon := ToDegrees(123456789, -987654321)
	require.InDelta(t, 12.3456789, lat, 1e-9)
	require.InDelta(t, -98.7654321, lon, 1e-9)
}

func TestNodeInfoDefaultsNestedRecords(t *testing.T) {
	testlog.Start(t)
	r := Default()
	raw, err := r.EncodeNodeInfo(NodeInfo{Num: 0xAABBCCDD, SNR: 6.25})
	require.NoError(t, err)

	got, ok := r.DecodeNodeInfo(raw)
	require.True(t, ok)
	require.Equal(t, uint32(0xAABBCCDD), got.Num)
	require.Equal(t, float32(6.25), got.SNR)
	require.Equal(t, User{}, got.User)
	require.Equal(t, Position{}, got.Position)
	require.Equal(t, DeviceMetrics{}, got.DeviceMetrics)
}

func TestNodeInfoEmbeddedRecords(t *testing.T) {
	testlog.Start(t)
	r := Default()
	in := NodeInfo{
		Num: 42,
		User: User{
			ID:         "!0000002a",
			LongName:   "Base Camp",
			ShortName:  "BC",
			MAC:        []byte{1, 2, 3, 4, 5, 6},
			HwModel:    9,
			IsLicensed: true,
			Role:       2,
			PublicKey:  make([]byte, 32),
		},
		Position:   Position{LatitudeI: 1, LongitudeI: 2, SatsInView: 4},
		HopsAway:   2,
		IsFavorite: true,
	}
	in.User.PublicKey[0] = 0x7F
	raw, err := r.EncodeNodeInfo(in)
	require.NoError(t, err)

	got, ok := r.DecodeNodeInfo(raw)
	require.True(t, ok)
	require.Equal(t, in.User, got.User)
	require.Equal(t, in.Position, got.Position)
	require.Equal(t, uint32(2), got.HopsAway)
	require.True(t, got.IsFavorite)
}

func TestDecodeGarbageFailsWithoutPanic(t *testing.T) {
	testlog.Start(t)
	r := Default()
	garbage := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	_, ok := r.DecodePosition(garbage)
	require.False(t, ok)
	_, ok = r.DecodeMeshPacket(garbage)
	require.False(t, ok)
	_, ok = r.DecodeDataStrict(nil)
	require.False(t, ok)
}

func TestDataDispatchAttachesKnownPayloads(t *testing.T) {
	testlog.Start(t)
	r := Default()

	pos, err := r.EncodePosition(Position{LatitudeI: 515000000, LongitudeI: -1200000})
	require.NoError(t, err)
	tel, err := r.EncodeTelemetry(Telemetry{Time: 5, Device: &DeviceMetrics{BatteryLevel: 87, Voltage: 4.1}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		port  PortNum
		body  []byte
		check func(t *testing.T, p Payload)
	}{
		{
			name: "position",
			port: PortPosition,
			body: pos,
			check: func(t *testing.T, p Payload) {
				got, ok := p.(Position)
				require.True(t, ok)
				require.Equal(t, int32(515000000), got.LatitudeI)
			},
		},
		{
			name: "telemetry",
			port: PortTelemetry,
			body: tel,
			check: func(t *testing.T, p Payload) {
				got, ok := p.(Telemetry)
				require.True(t, ok)
				require.NotNil(t, got.Device)
				require.Equal(t, uint32(87), got.Device.BatteryLevel)
				require.Nil(t, got.Environment)
			},
		},
		{
			name: "text",
			port: PortTextMessage,
			body: []byte("hello mesh"),
			check: func(t *testing.T, p Payload) {
				require.Equal(t, TextPayload{Text: "hello mesh"}, p)
			},
		},
		{
			name: "unrecognized passes through",
			port: PortRangeTest,
			body: []byte{0xDE, 0xAD},
			check: func(t *testing.T, p Payload) {
				require.Equal(t, Unrecognized{PortNum: PortRangeTest, Raw: []byte{0xDE, 0xAD}}, p)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := r.EncodeData(Data{PortNum: tc.port, Payload: tc.body, RequestID: 9})
			require.NoError(t, err)
			d, ok := r.DecodeData(raw)
			require.True(t, ok)
			require.Equal(t, tc.port, d.PortNum)
			require.Equal(t, uint32(9), d.RequestID)
			require.Equal(t, tc.port, d.Decoded.Port())
			tc.check(t, d.Decoded)
		})
	}
}

func TestMeshPacketEnvelope(t *testing.T) {
	testlog.Start(t)
	r := Default()

	withBody := MeshPacket{
		From:     0x11223344,
		To:       BroadcastAddr,
		Channel:  0,
		ID:       77,
		HopLimit: 3,
		HopStart: 3,
		WantAck:  true,
		Priority: PriorityReliable,
		Decoded:  &Data{PortNum: PortTextMessage, Payload: []byte("hi")},
	}
	raw, err := r.EncodeMeshPacket(withBody)
	require.NoError(t, err)
	got, ok := r.DecodeMeshPacket(raw)
	require.True(t, ok)
	require.True(t, got.IsBroadcast())
	require.NotNil(t, got.Decoded)
	require.Equal(t, PortTextMessage, got.Decoded.PortNum)
	require.Nil(t, got.Encrypted)
	require.Equal(t, PriorityReliable, got.Priority)

	encrypted := MeshPacket{From: 1, To: 2, Channel: 0x5A, ID: 3, Encrypted: []byte{1, 2, 3}}
	raw, err = r.EncodeMeshPacket(encrypted)
	require.NoError(t, err)
	got, ok = r.DecodeMeshPacket(raw)
	require.True(t, ok)
	require.Nil(t, got.Decoded)
	require.Equal(t, []byte{1, 2, 3}, got.Encrypted)
	require.Equal(t, uint32(0x5A), got.Channel)
}

func TestRadioFrames(t *testing.T) {
	testlog.Start(t)
	r := Default()

	raw, err := r.EncodeTextPacket(MeshPacket{From: 1, To: 0xAABBCCDD, ID: 500}, "ping", 12)
	require.NoError(t, err)
	to, ok := r.DecodeToRadio(raw)
	require.True(t, ok)
	require.NotNil(t, to.Packet)
	require.Equal(t, uint32(500), to.Packet.ID)
	require.Equal(t, uint32(12), to.Packet.Decoded.ReplyID)
	require.Equal(t, TextPayload{Text: "ping"}, to.Packet.Decoded.Decoded)

	raw, err = r.EncodeFromRadio(FromRadio{ID: 8, NodeInfo: &NodeInfo{Num: 99}})
	require.NoError(t, err)
	from, ok := r.DecodeFromRadio(raw)
	require.True(t, ok)
	require.Nil(t, from.Packet)
	require.NotNil(t, from.NodeInfo)
	require.Equal(t, uint32(99), from.NodeInfo.Num)

	raw, err = r.EncodeFromRadio(FromRadio{MyInfo: &MyNodeInfo{MyNodeNum: 0x1234}})
	require.NoError(t, err)
	from, ok = r.DecodeFromRadio(raw)
	require.True(t, ok)
	require.NotNil(t, from.MyInfo)
	require.Equal(t, uint32(0x1234), from.MyInfo.MyNodeNum)
}

func TestRoutingAckKeepsNoneReason(t *testing.T) {
	testlog.Start(t)
	r := Default()
	raw, err := r.EncodeRouting(Routing{ErrorReason: RoutingNone})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, ok := r.DecodeRouting(raw)
	require.True(t, ok)
	require.Equal(t, RoutingNone, got.ErrorReason)

	raw, err = r.EncodeRouting(Routing{RouteReply: &RouteDiscovery{Route: []uint32{5, 6}}})
	require.NoError(t, err)
	got, ok = r.DecodeRouting(raw)
	require.True(t, ok)
	require.NotNil(t, got.RouteReply)
	require.Equal(t, []uint32{5, 6}, got.RouteReply.Route)
	require.Equal(t, "MAX_RETRANSMIT", RoutingMaxRetransmit.String())
}

func TestValidPortNum(t *testing.T) {
	require.False(t, ValidPortNum(PortUnknown))
	require.True(t, ValidPortNum(PortTextMessage))
	require.True(t, ValidPortNum(PortMax))
	require.False(t, ValidPortNum(PortMax+1))
	require.False(t, ValidPortNum(-1))
}
