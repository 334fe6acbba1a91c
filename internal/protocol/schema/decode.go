package schema

import (
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// Every exported Decode* function swallows decode failures: the error is
// logged and the caller receives ok=false.

func (r *Registry) DecodePosition(b []byte) (Position, bool) {
	m, ok := r.decode(MsgPosition, b)
	if !ok {
		return Position{}, false
	}
	return readPosition(m), true
}

func (r *Registry) DecodeUser(b []byte) (User, bool) {
	m, ok := r.decode(MsgUser, b)
	if !ok {
		return User{}, false
	}
	return readUser(m), true
}

func (r *Registry) DecodeNodeInfo(b []byte) (NodeInfo, bool) {
	m, ok := r.decode(MsgNodeInfo, b)
	if !ok {
		return NodeInfo{}, false
	}
	return readNodeInfo(m), true
}

func (r *Registry) DecodeTelemetry(b []byte) (Telemetry, bool) {
	m, ok := r.decode(MsgTelemetry, b)
	if !ok {
		return Telemetry{}, false
	}
	return readTelemetry(m), true
}

func (r *Registry) DecodeRouting(b []byte) (Routing, bool) {
	m, ok := r.decode(MsgRouting, b)
	if !ok {
		return Routing{}, false
	}
	return readRouting(m), true
}

// DecodeAdminResponse decodes an ADMIN_APP payload.
func (r *Registry) DecodeAdminResponse(b []byte) (AdminMessage, bool) {
	m, ok := r.decode(MsgAdminMessage, b)
	if !ok {
		return AdminMessage{}, false
	}
	return readAdmin(m), true
}

// DecodeData decodes an inner envelope and, when the port is known, its
// application payload.
func (r *Registry) DecodeData(b []byte) (Data, bool) {
	m, ok := r.decode(MsgData, b)
	if !ok {
		return Data{}, false
	}
	return r.readData(m), true
}

// DecodeDataStrict is DecodeData that also rejects unknown fields. Trial
// decryption uses it as its plausibility check.
func (r *Registry) DecodeDataStrict(b []byte) (Data, bool) {
	if len(b) == 0 {
		return Data{}, false
	}
	m, err := r.unmarshal(MsgData, b, true)
	if err != nil {
		log.Trace().Err(err).Msg("schema strict data decode rejected")
		return Data{}, false
	}
	return r.readData(reader{m: m}), true
}

func (r *Registry) DecodeMeshPacket(b []byte) (MeshPacket, bool) {
	m, ok := r.decode(MsgMeshPacket, b)
	if !ok {
		return MeshPacket{}, false
	}
	return r.readMeshPacket(m), true
}

func (r *Registry) DecodeFromRadio(b []byte) (FromRadio, bool) {
	rd, ok := r.decode(MsgFromRadio, b)
	if !ok {
		return FromRadio{}, false
	}
	out := FromRadio{ID: rd.u32("id")}
	switch rd.oneof("payload_variant") {
	case "packet":
		pkt := r.readMeshPacket(rd.sub("packet"))
		out.Packet = &pkt
	case "my_info":
		mi := readMyInfo(rd.sub("my_info"))
		out.MyInfo = &mi
	case "node_info":
		ni := readNodeInfo(rd.sub("node_info"))
		out.NodeInfo = &ni
	case "config_complete_id":
		out.ConfigCompleteID = rd.u32("config_complete_id")
	case "rebooted":
		out.Rebooted = rd.boolean("rebooted")
	}
	return out, true
}

func (r *Registry) DecodeToRadio(b []byte) (ToRadio, bool) {
	rd, ok := r.decode(MsgToRadio, b)
	if !ok {
		return ToRadio{}, false
	}
	out := ToRadio{
		WantConfigID: rd.u32("want_config_id"),
		Disconnect:   rd.boolean("disconnect"),
	}
	if rd.has("packet") {
		pkt := r.readMeshPacket(rd.sub("packet"))
		out.Packet = &pkt
	}
	return out, true
}

// DecodePayload decodes b according to port. Unknown ports, and known ports
// whose body fails to decode, come back as Unrecognized.
func (r *Registry) DecodePayload(port PortNum, b []byte) Payload {
	switch port {
	case PortTextMessage:
		if utf8.Valid(b) {
			return TextPayload{Text: string(b)}
		}
	case PortPosition:
		if p, ok := r.DecodePosition(b); ok {
			return p
		}
	case PortNodeInfo:
		if u, ok := r.DecodeUser(b); ok {
			return u
		}
	case PortTelemetry:
		if t, ok := r.DecodeTelemetry(b); ok {
			return t
		}
	case PortRouting:
		if rt, ok := r.DecodeRouting(b); ok {
			return rt
		}
	case PortAdmin:
		if a, ok := r.DecodeAdminResponse(b); ok {
			return a
		}
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return Unrecognized{PortNum: port, Raw: raw}
}

func (r *Registry) decode(name string, b []byte) (reader, bool) {
	if len(b) == 0 {
		// An empty buffer is a valid all-defaults message on the wire.
		m, err := r.newMessage(name)
		if err != nil {
			log.Error().Err(err).Str("message", name).Msg("schema decode failed")
			return reader{}, false
		}
		return reader{m: m}, true
	}
	m, err := r.unmarshal(name, b, false)
	if err != nil {
		log.Debug().Err(err).Str("message", name).Int("bytes", len(b)).Msg("schema decode failed")
		return reader{}, false
	}
	return reader{m: m}, true
}

func readPosition(rd reader) Position {
	return Position{
		LatitudeI:      rd.i32("latitude_i"),
		LongitudeI:     rd.i32("longitude_i"),
		Altitude:       rd.i32("altitude"),
		Time:           rd.u32("time"),
		LocationSource: rd.i32("location_source"),
		AltitudeSource: rd.i32("altitude_source"),
		Timestamp:      rd.u32("timestamp"),
		GroundSpeed:    rd.u32("ground_speed"),
		GroundTrack:    rd.u32("ground_track"),
		FixQuality:     rd.u32("fix_quality"),
		FixType:        rd.u32("fix_type"),
		SatsInView:     rd.u32("sats_in_view"),
		PrecisionBits:  rd.u32("precision_bits"),
	}
}

func readUser(rd reader) User {
	return User{
		ID:         rd.str("id"),
		LongName:   rd.str("long_name"),
		ShortName:  rd.str("short_name"),
		MAC:        rd.bytes("macaddr"),
		HwModel:    rd.i32("hw_model"),
		IsLicensed: rd.boolean("is_licensed"),
		Role:       rd.i32("role"),
		PublicKey:  rd.bytes("public_key"),
	}
}

func readDeviceMetrics(rd reader) DeviceMetrics {
	return DeviceMetrics{
		BatteryLevel:       rd.u32("battery_level"),
		Voltage:            rd.f32("voltage"),
		ChannelUtilization: rd.f32("channel_utilization"),
		AirUtilTx:          rd.f32("air_util_tx"),
		UptimeSeconds:      rd.u32("uptime_seconds"),
	}
}

func readEnvironmentMetrics(rd reader) EnvironmentMetrics {
	return EnvironmentMetrics{
		Temperature:        rd.f32("temperature"),
		RelativeHumidity:   rd.f32("relative_humidity"),
		BarometricPressure: rd.f32("barometric_pressure"),
		GasResistance:      rd.f32("gas_resistance"),
		Voltage:            rd.f32("voltage"),
		Current:            rd.f32("current"),
	}
}

func readTelemetry(rd reader) Telemetry {
	out := Telemetry{Time: rd.u32("time")}
	switch rd.oneof("variant") {
	case "device_metrics":
		dm := readDeviceMetrics(rd.sub("device_metrics"))
		out.Device = &dm
	case "environment_metrics":
		em := readEnvironmentMetrics(rd.sub("environment_metrics"))
		out.Environment = &em
	}
	return out
}

func readNodeInfo(rd reader) NodeInfo {
	return NodeInfo{
		Num:           rd.u32("num"),
		User:          readUser(rd.sub("user")),
		Position:      readPosition(rd.sub("position")),
		SNR:           rd.f32("snr"),
		LastHeard:     rd.u32("last_heard"),
		DeviceMetrics: readDeviceMetrics(rd.sub("device_metrics")),
		Channel:       rd.u32("channel"),
		ViaMQTT:       rd.boolean("via_mqtt"),
		HopsAway:      rd.u32("hops_away"),
		IsFavorite:    rd.boolean("is_favorite"),
		IsIgnored:     rd.boolean("is_ignored"),
	}
}

func readMyInfo(rd reader) MyNodeInfo {
	return MyNodeInfo{
		MyNodeNum:     rd.u32("my_node_num"),
		RebootCount:   rd.u32("reboot_count"),
		MinAppVersion: rd.u32("min_app_version"),
	}
}

func (r *Registry) readData(rd reader) Data {
	d := Data{
		PortNum:      PortNum(rd.i32("portnum")),
		Payload:      rd.bytes("payload"),
		WantResponse: rd.boolean("want_response"),
		Dest:         rd.u32("dest"),
		Source:       rd.u32("source"),
		RequestID:    rd.u32("request_id"),
		ReplyID:      rd.u32("reply_id"),
		Emoji:        rd.u32("emoji"),
		Bitfield:     rd.u32("bitfield"),
	}
	d.Decoded = r.DecodePayload(d.PortNum, d.Payload)
	return d
}

func (r *Registry) readMeshPacket(rd reader) MeshPacket {
	pkt := MeshPacket{
		From:         rd.u32("from"),
		To:           rd.u32("to"),
		Channel:      rd.u32("channel"),
		ID:           rd.u32("id"),
		RxTime:       rd.u32("rx_time"),
		RxSNR:        rd.f32("rx_snr"),
		RxRSSI:       rd.i32("rx_rssi"),
		HopLimit:     rd.u32("hop_limit"),
		HopStart:     rd.u32("hop_start"),
		WantAck:      rd.boolean("want_ack"),
		Priority:     Priority(rd.i32("priority")),
		ViaMQTT:      rd.boolean("via_mqtt"),
		Encrypted:    rd.bytes("encrypted"),
		PublicKey:    rd.bytes("public_key"),
		PKIEncrypted: rd.boolean("pki_encrypted"),
	}
	if rd.has("decoded") {
		d := r.readData(rd.sub("decoded"))
		pkt.Decoded = &d
	}
	return pkt
}

func readRouteDiscovery(rd reader) RouteDiscovery {
	return RouteDiscovery{
		Route:     rd.u32List("route"),
		RouteBack: rd.u32List("route_back"),
	}
}

func readRouting(rd reader) Routing {
	out := Routing{ErrorReason: RoutingError(rd.i32("error_reason"))}
	switch rd.oneof("variant") {
	case "route_request":
		rdisc := readRouteDiscovery(rd.sub("route_request"))
		out.RouteRequest = &rdisc
	case "route_reply":
		rdisc := readRouteDiscovery(rd.sub("route_reply"))
		out.RouteReply = &rdisc
	}
	return out
}

func readAdmin(rd reader) AdminMessage {
	out := AdminMessage{
		Variant:            rd.oneof("payload_variant"),
		GetChannelRequest:  rd.u32("get_channel_request"),
		GetOwnerRequest:    rd.boolean("get_owner_request"),
		GetConfigRequest:   ConfigType(rd.i32("get_config_request")),
		ConfigResponse:     rd.bytes("get_config_response"),
		SetFavoriteNode:    rd.u32("set_favorite_node"),
		RemoveFavoriteNode: rd.u32("remove_favorite_node"),
		SessionPasskey:     rd.bytes("session_passkey"),
	}
	if rd.has("get_owner_response") {
		u := readUser(rd.sub("get_owner_response"))
		out.OwnerResponse = &u
	}
	return out
}
