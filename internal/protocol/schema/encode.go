package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

func (r *Registry) EncodePosition(p Position) ([]byte, error) {
	return r.encode(MsgPosition, func() (*dynamicpb.Message, error) { return r.buildPosition(p) })
}

func (r *Registry) EncodeUser(u User) ([]byte, error) {
	return r.encode(MsgUser, func() (*dynamicpb.Message, error) { return r.buildUser(u) })
}

func (r *Registry) EncodeNodeInfo(n NodeInfo) ([]byte, error) {
	return r.encode(MsgNodeInfo, func() (*dynamicpb.Message, error) { return r.buildNodeInfo(n) })
}

func (r *Registry) EncodeTelemetry(t Telemetry) ([]byte, error) {
	return r.encode(MsgTelemetry, func() (*dynamicpb.Message, error) { return r.buildTelemetry(t) })
}

func (r *Registry) EncodeRouting(rt Routing) ([]byte, error) {
	return r.encode(MsgRouting, func() (*dynamicpb.Message, error) { return r.buildRouting(rt) })
}

func (r *Registry) EncodeAdmin(a AdminMessage) ([]byte, error) {
	return r.encode(MsgAdminMessage, func() (*dynamicpb.Message, error) { return r.buildAdmin(a) })
}

func (r *Registry) EncodeData(d Data) ([]byte, error) {
	return r.encode(MsgData, func() (*dynamicpb.Message, error) { return r.buildData(d) })
}

func (r *Registry) EncodeMeshPacket(p MeshPacket) ([]byte, error) {
	return r.encode(MsgMeshPacket, func() (*dynamicpb.Message, error) { return r.buildMeshPacket(p) })
}

func (r *Registry) EncodeToRadio(t ToRadio) ([]byte, error) {
	return r.encode(MsgToRadio, func() (*dynamicpb.Message, error) {
		m, err := r.newMessage(MsgToRadio)
		if err != nil {
			return nil, err
		}
		w := writer{m: m}
		switch {
		case t.Packet != nil:
			pkt, err := r.buildMeshPacket(*t.Packet)
			if err != nil {
				return nil, err
			}
			w.msg("packet", pkt)
		case t.WantConfigID != 0:
			w.u32("want_config_id", t.WantConfigID)
		case t.Disconnect:
			w.boolean("disconnect", true)
		}
		return m, nil
	})
}

func (r *Registry) EncodeFromRadio(f FromRadio) ([]byte, error) {
	return r.encode(MsgFromRadio, func() (*dynamicpb.Message, error) {
		m, err := r.newMessage(MsgFromRadio)
		if err != nil {
			return nil, err
		}
		w := writer{m: m}.u32("id", f.ID)
		switch {
		case f.Packet != nil:
			pkt, err := r.buildMeshPacket(*f.Packet)
			if err != nil {
				return nil, err
			}
			w.msg("packet", pkt)
		case f.MyInfo != nil:
			mi, err := r.newMessage(MsgMyNodeInfo)
			if err != nil {
				return nil, err
			}
			writer{m: mi}.
				u32("my_node_num", f.MyInfo.MyNodeNum).
				u32("reboot_count", f.MyInfo.RebootCount).
				u32("min_app_version", f.MyInfo.MinAppVersion)
			w.msg("my_info", mi)
		case f.NodeInfo != nil:
			ni, err := r.buildNodeInfo(*f.NodeInfo)
			if err != nil {
				return nil, err
			}
			w.msg("node_info", ni)
		case f.ConfigCompleteID != 0:
			w.u32("config_complete_id", f.ConfigCompleteID)
		case f.Rebooted:
			w.boolean("rebooted", true)
		}
		return m, nil
	})
}

// EncodeTextPacket wraps text in a TEXT_MESSAGE_APP envelope addressed by pkt.
func (r *Registry) EncodeTextPacket(pkt MeshPacket, text string, replyID uint32) ([]byte, error) {
	pkt.Decoded = &Data{
		PortNum: PortTextMessage,
		Payload: []byte(text),
		ReplyID: replyID,
	}
	pkt.Encrypted = nil
	return r.EncodeToRadio(ToRadio{Packet: &pkt})
}

func (r *Registry) encode(name string, build func() (*dynamicpb.Message, error)) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("schema: encode %s: panic: %v", name, rec)
		}
		if err != nil {
			log.Error().Err(err).Str("message", name).Msg("schema encode failed")
		}
	}()
	m, err := build()
	if err != nil {
		return nil, err
	}
	return r.marshal(m)
}

func (r *Registry) buildPosition(p Position) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgPosition)
	if err != nil {
		return nil, err
	}
	writer{m: m}.
		i32("latitude_i", p.LatitudeI).
		i32("longitude_i", p.LongitudeI).
		i32("altitude", p.Altitude).
		u32("time", p.Time).
		i32("location_source", p.LocationSource).
		i32("altitude_source", p.AltitudeSource).
		u32("timestamp", p.Timestamp).
		u32("ground_speed", p.GroundSpeed).
		u32("ground_track", p.GroundTrack).
		u32("fix_quality", p.FixQuality).
		u32("fix_type", p.FixType).
		u32("sats_in_view", p.SatsInView).
		u32("precision_bits", p.PrecisionBits)
	return m, nil
}

func (r *Registry) buildUser(u User) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgUser)
	if err != nil {
		return nil, err
	}
	writer{m: m}.
		str("id", u.ID).
		str("long_name", u.LongName).
		str("short_name", u.ShortName).
		bytes("macaddr", u.MAC).
		i32("hw_model", u.HwModel).
		boolean("is_licensed", u.IsLicensed).
		i32("role", u.Role).
		bytes("public_key", u.PublicKey)
	return m, nil
}

func (r *Registry) buildDeviceMetrics(d DeviceMetrics) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgDeviceMetrics)
	if err != nil {
		return nil, err
	}
	writer{m: m}.
		u32("battery_level", d.BatteryLevel).
		f32("voltage", d.Voltage).
		f32("channel_utilization", d.ChannelUtilization).
		f32("air_util_tx", d.AirUtilTx).
		u32("uptime_seconds", d.UptimeSeconds)
	return m, nil
}

func (r *Registry) buildTelemetry(t Telemetry) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgTelemetry)
	if err != nil {
		return nil, err
	}
	w := writer{m: m}.u32("time", t.Time)
	switch {
	case t.Device != nil:
		dm, err := r.buildDeviceMetrics(*t.Device)
		if err != nil {
			return nil, err
		}
		w.msg("device_metrics", dm)
	case t.Environment != nil:
		em, err := r.newMessage(MsgEnvironmentMetrics)
		if err != nil {
			return nil, err
		}
		writer{m: em}.
			f32("temperature", t.Environment.Temperature).
			f32("relative_humidity", t.Environment.RelativeHumidity).
			f32("barometric_pressure", t.Environment.BarometricPressure).
			f32("gas_resistance", t.Environment.GasResistance).
			f32("voltage", t.Environment.Voltage).
			f32("current", t.Environment.Current)
		w.msg("environment_metrics", em)
	}
	return m, nil
}

func (r *Registry) buildNodeInfo(n NodeInfo) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgNodeInfo)
	if err != nil {
		return nil, err
	}
	user, err := r.buildUser(n.User)
	if err != nil {
		return nil, err
	}
	pos, err := r.buildPosition(n.Position)
	if err != nil {
		return nil, err
	}
	dm, err := r.buildDeviceMetrics(n.DeviceMetrics)
	if err != nil {
		return nil, err
	}
	writer{m: m}.
		u32("num", n.Num).
		msg("user", user).
		msg("position", pos).
		f32("snr", n.SNR).
		u32("last_heard", n.LastHeard).
		msg("device_metrics", dm).
		u32("channel", n.Channel).
		boolean("via_mqtt", n.ViaMQTT).
		u32("hops_away", n.HopsAway).
		boolean("is_favorite", n.IsFavorite).
		boolean("is_ignored", n.IsIgnored)
	return m, nil
}

func (r *Registry) buildData(d Data) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgData)
	if err != nil {
		return nil, err
	}
	writer{m: m}.
		i32("portnum", int32(d.PortNum)).
		bytes("payload", d.Payload).
		boolean("want_response", d.WantResponse).
		u32("dest", d.Dest).
		u32("source", d.Source).
		u32("request_id", d.RequestID).
		u32("reply_id", d.ReplyID).
		u32("emoji", d.Emoji).
		u32("bitfield", d.Bitfield)
	return m, nil
}

func (r *Registry) buildMeshPacket(p MeshPacket) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgMeshPacket)
	if err != nil {
		return nil, err
	}
	w := writer{m: m}.
		u32("from", p.From).
		u32("to", p.To).
		u32("channel", p.Channel).
		u32("id", p.ID).
		u32("rx_time", p.RxTime).
		f32("rx_snr", p.RxSNR).
		u32("hop_limit", p.HopLimit).
		boolean("want_ack", p.WantAck).
		i32("priority", int32(p.Priority)).
		i32("rx_rssi", p.RxRSSI).
		boolean("via_mqtt", p.ViaMQTT).
		u32("hop_start", p.HopStart).
		bytes("public_key", p.PublicKey).
		boolean("pki_encrypted", p.PKIEncrypted)
	switch {
	case p.Decoded != nil:
		data, err := r.buildData(*p.Decoded)
		if err != nil {
			return nil, err
		}
		w.msg("decoded", data)
	case len(p.Encrypted) > 0:
		w.bytes("encrypted", p.Encrypted)
	}
	return m, nil
}

func (r *Registry) buildRouting(rt Routing) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgRouting)
	if err != nil {
		return nil, err
	}
	w := writer{m: m}
	discovery := func(d *RouteDiscovery) (*dynamicpb.Message, error) {
		dm, err := r.newMessage(MsgRouteDiscovery)
		if err != nil {
			return nil, err
		}
		writer{m: dm}.u32List("route", d.Route).u32List("route_back", d.RouteBack)
		return dm, nil
	}
	switch {
	case rt.RouteRequest != nil:
		dm, err := discovery(rt.RouteRequest)
		if err != nil {
			return nil, err
		}
		w.msg("route_request", dm)
	case rt.RouteReply != nil:
		dm, err := discovery(rt.RouteReply)
		if err != nil {
			return nil, err
		}
		w.msg("route_reply", dm)
	default:
		// error_reason is a oneof member: NONE must still be present on the
		// wire to mark an ack.
		w.set("error_reason", protoreflect.ValueOfInt32(int32(rt.ErrorReason)))
	}
	return m, nil
}

func (r *Registry) buildAdmin(a AdminMessage) (*dynamicpb.Message, error) {
	m, err := r.newMessage(MsgAdminMessage)
	if err != nil {
		return nil, err
	}
	w := writer{m: m}
	switch {
	case a.SetFavoriteNode != 0:
		w.u32("set_favorite_node", a.SetFavoriteNode)
	case a.RemoveFavoriteNode != 0:
		w.u32("remove_favorite_node", a.RemoveFavoriteNode)
	case a.GetOwnerRequest:
		w.boolean("get_owner_request", true)
	case a.OwnerResponse != nil:
		u, err := r.buildUser(*a.OwnerResponse)
		if err != nil {
			return nil, err
		}
		w.msg("get_owner_response", u)
	case a.ConfigResponse != nil:
		w.set("get_config_response", protoreflect.ValueOfBytes(a.ConfigResponse))
	case a.GetChannelRequest != 0:
		w.u32("get_channel_request", a.GetChannelRequest)
	case a.Variant == "get_config_request":
		w.set("get_config_request", protoreflect.ValueOfInt32(int32(a.GetConfigRequest)))
	}
	w.bytes("session_passkey", a.SessionPasskey)
	return m, nil
}
