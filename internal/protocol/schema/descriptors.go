package schema

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	protoFile    = "meshbridge/mesh.proto"
	protoPackage = "meshtastic"
)

// Message family names within the mesh schema.
const (
	MsgPosition           = "Position"
	MsgUser               = "User"
	MsgDeviceMetrics      = "DeviceMetrics"
	MsgEnvironmentMetrics = "EnvironmentMetrics"
	MsgTelemetry          = "Telemetry"
	MsgNodeInfo           = "NodeInfo"
	MsgMyNodeInfo         = "MyNodeInfo"
	MsgData               = "Data"
	MsgMeshPacket         = "MeshPacket"
	MsgRouteDiscovery     = "RouteDiscovery"
	MsgRouting            = "Routing"
	MsgAdminMessage       = "AdminMessage"
	MsgToRadio            = "ToRadio"
	MsgFromRadio          = "FromRadio"
)

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tU32      = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tI32      = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tFixed32  = descriptorpb.FieldDescriptorProto_TYPE_FIXED32
	tSFixed32 = descriptorpb.FieldDescriptorProto_TYPE_SFIXED32
	tFloat    = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tBool     = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tString   = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes    = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMessage  = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func scalar(name string, num int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(name string, num int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, num, typ)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func message(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, num, tMessage)
	f.TypeName = proto.String("." + protoPackage + "." + typeName)
	return f
}

func oneof(idx int32, f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(idx)
	return f
}

func oneofDecl(names ...string) []*descriptorpb.OneofDescriptorProto {
	out := make([]*descriptorpb.OneofDescriptorProto, 0, len(names))
	for _, n := range names {
		out = append(out, &descriptorpb.OneofDescriptorProto{Name: proto.String(n)})
	}
	return out
}

// meshFileDescriptor declares the subset of the Meshtastic wire schema the
// bridge understands. Enum-typed fields are declared as int32: the varint
// encoding is identical and unknown enum values survive decoding.
func meshFileDescriptor() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String(MsgPosition),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("latitude_i", 1, tSFixed32),
					scalar("longitude_i", 2, tSFixed32),
					scalar("altitude", 3, tI32),
					scalar("time", 4, tFixed32),
					scalar("location_source", 5, tI32),
					scalar("altitude_source", 6, tI32),
					scalar("timestamp", 7, tFixed32),
					scalar("ground_speed", 15, tU32),
					scalar("ground_track", 16, tU32),
					scalar("fix_quality", 17, tU32),
					scalar("fix_type", 18, tU32),
					scalar("sats_in_view", 19, tU32),
					scalar("precision_bits", 23, tU32),
				},
			},
			{
				Name: proto.String(MsgUser),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tString),
					scalar("long_name", 2, tString),
					scalar("short_name", 3, tString),
					scalar("macaddr", 4, tBytes),
					scalar("hw_model", 5, tI32),
					scalar("is_licensed", 6, tBool),
					scalar("role", 7, tI32),
					scalar("public_key", 8, tBytes),
				},
			},
			{
				Name: proto.String(MsgDeviceMetrics),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("battery_level", 1, tU32),
					scalar("voltage", 2, tFloat),
					scalar("channel_utilization", 3, tFloat),
					scalar("air_util_tx", 4, tFloat),
					scalar("uptime_seconds", 5, tU32),
				},
			},
			{
				Name: proto.String(MsgEnvironmentMetrics),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("temperature", 1, tFloat),
					scalar("relative_humidity", 2, tFloat),
					scalar("barometric_pressure", 3, tFloat),
					scalar("gas_resistance", 4, tFloat),
					scalar("voltage", 5, tFloat),
					scalar("current", 6, tFloat),
				},
			},
			{
				Name:      proto.String(MsgTelemetry),
				OneofDecl: oneofDecl("variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("time", 1, tFixed32),
					oneof(0, message("device_metrics", 2, MsgDeviceMetrics)),
					oneof(0, message("environment_metrics", 3, MsgEnvironmentMetrics)),
				},
			},
			{
				Name: proto.String(MsgNodeInfo),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("num", 1, tU32),
					message("user", 2, MsgUser),
					message("position", 3, MsgPosition),
					scalar("snr", 4, tFloat),
					scalar("last_heard", 5, tFixed32),
					message("device_metrics", 6, MsgDeviceMetrics),
					scalar("channel", 7, tU32),
					scalar("via_mqtt", 8, tBool),
					scalar("hops_away", 9, tU32),
					scalar("is_favorite", 10, tBool),
					scalar("is_ignored", 11, tBool),
				},
			},
			{
				Name: proto.String(MsgMyNodeInfo),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("my_node_num", 1, tU32),
					scalar("reboot_count", 8, tU32),
					scalar("min_app_version", 11, tU32),
				},
			},
			{
				Name: proto.String(MsgData),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("portnum", 1, tI32),
					scalar("payload", 2, tBytes),
					scalar("want_response", 3, tBool),
					scalar("dest", 4, tFixed32),
					scalar("source", 5, tFixed32),
					scalar("request_id", 6, tFixed32),
					scalar("reply_id", 7, tFixed32),
					scalar("emoji", 8, tFixed32),
					scalar("bitfield", 9, tU32),
				},
			},
			{
				Name:      proto.String(MsgMeshPacket),
				OneofDecl: oneofDecl("payload_variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("from", 1, tFixed32),
					scalar("to", 2, tFixed32),
					scalar("channel", 3, tU32),
					oneof(0, message("decoded", 4, MsgData)),
					oneof(0, scalar("encrypted", 5, tBytes)),
					scalar("id", 6, tFixed32),
					scalar("rx_time", 7, tFixed32),
					scalar("rx_snr", 8, tFloat),
					scalar("hop_limit", 9, tU32),
					scalar("want_ack", 10, tBool),
					scalar("priority", 11, tI32),
					scalar("rx_rssi", 12, tI32),
					scalar("via_mqtt", 14, tBool),
					scalar("hop_start", 15, tU32),
					scalar("public_key", 16, tBytes),
					scalar("pki_encrypted", 17, tBool),
				},
			},
			{
				Name: proto.String(MsgRouteDiscovery),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeated("route", 1, tFixed32),
					repeated("route_back", 3, tFixed32),
				},
			},
			{
				Name:      proto.String(MsgRouting),
				OneofDecl: oneofDecl("variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					oneof(0, message("route_request", 1, MsgRouteDiscovery)),
					oneof(0, message("route_reply", 2, MsgRouteDiscovery)),
					oneof(0, scalar("error_reason", 3, tI32)),
				},
			},
			{
				Name:      proto.String(MsgAdminMessage),
				OneofDecl: oneofDecl("payload_variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					oneof(0, scalar("get_channel_request", 1, tU32)),
					oneof(0, scalar("get_owner_request", 3, tBool)),
					oneof(0, message("get_owner_response", 4, MsgUser)),
					oneof(0, scalar("get_config_request", 5, tI32)),
					// Config is opaque to the bridge; bytes is wire compatible
					// with the embedded message.
					oneof(0, scalar("get_config_response", 6, tBytes)),
					oneof(0, scalar("set_favorite_node", 39, tFixed32)),
					oneof(0, scalar("remove_favorite_node", 40, tFixed32)),
					scalar("session_passkey", 101, tBytes),
				},
			},
			{
				Name:      proto.String(MsgToRadio),
				OneofDecl: oneofDecl("payload_variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					oneof(0, message("packet", 1, MsgMeshPacket)),
					oneof(0, scalar("want_config_id", 3, tU32)),
					oneof(0, scalar("disconnect", 4, tBool)),
				},
			},
			{
				Name:      proto.String(MsgFromRadio),
				OneofDecl: oneofDecl("payload_variant"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tU32),
					oneof(0, message("packet", 2, MsgMeshPacket)),
					oneof(0, message("my_info", 3, MsgMyNodeInfo)),
					oneof(0, message("node_info", 4, MsgNodeInfo)),
					oneof(0, scalar("config_complete_id", 7, tU32)),
					oneof(0, scalar("rebooted", 8, tBool)),
				},
			},
		},
	}
}
