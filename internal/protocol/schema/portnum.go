package schema

import "strconv"

// PortNum tags the application carried inside a Data envelope.
type PortNum int32

const (
	PortUnknown        PortNum = 0
	PortTextMessage    PortNum = 1
	PortRemoteHardware PortNum = 2
	PortPosition       PortNum = 3
	PortNodeInfo       PortNum = 4
	PortRouting        PortNum = 5
	PortAdmin          PortNum = 6
	PortTextCompressed PortNum = 7
	PortWaypoint       PortNum = 8
	PortDetection      PortNum = 10
	PortAlert          PortNum = 11
	PortReply          PortNum = 32
	PortPaxcounter     PortNum = 34
	PortSerial         PortNum = 64
	PortStoreForward   PortNum = 65
	PortRangeTest      PortNum = 66
	PortTelemetry      PortNum = 67
	PortTraceroute     PortNum = 70
	PortNeighborInfo   PortNum = 71
	PortMapReport      PortNum = 73
	PortPrivate        PortNum = 256
	PortMax            PortNum = 511
)

var portNames = map[PortNum]string{
	PortUnknown:        "UNKNOWN_APP",
	PortTextMessage:    "TEXT_MESSAGE_APP",
	PortRemoteHardware: "REMOTE_HARDWARE_APP",
	PortPosition:       "POSITION_APP",
	PortNodeInfo:       "NODEINFO_APP",
	PortRouting:        "ROUTING_APP",
	PortAdmin:          "ADMIN_APP",
	PortTextCompressed: "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypoint:       "WAYPOINT_APP",
	PortDetection:      "DETECTION_SENSOR_APP",
	PortAlert:          "ALERT_APP",
	PortReply:          "REPLY_APP",
	PortPaxcounter:     "PAXCOUNTER_APP",
	PortSerial:         "SERIAL_APP",
	PortStoreForward:   "STORE_FORWARD_APP",
	PortRangeTest:      "RANGE_TEST_APP",
	PortTelemetry:      "TELEMETRY_APP",
	PortTraceroute:     "TRACEROUTE_APP",
	PortNeighborInfo:   "NEIGHBORINFO_APP",
	PortMapReport:      "MAP_REPORT_APP",
	PortPrivate:        "PRIVATE_APP",
	PortMax:            "MAX",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return "PORT_" + strconv.Itoa(int(p))
}

// ValidPortNum reports whether p lies inside the enumerated application
// range. UNKNOWN_APP is excluded: a zero tag is what garbage decodes to.
func ValidPortNum(p PortNum) bool {
	return p > PortUnknown && p <= PortMax
}

// RoutingError is the error_reason carried by a Routing payload.
type RoutingError int32

const (
	RoutingNone                 RoutingError = 0
	RoutingNoRoute              RoutingError = 1
	RoutingGotNak               RoutingError = 2
	RoutingTimeout              RoutingError = 3
	RoutingNoInterface          RoutingError = 4
	RoutingMaxRetransmit        RoutingError = 5
	RoutingNoChannel            RoutingError = 6
	RoutingTooLarge             RoutingError = 7
	RoutingNoResponse           RoutingError = 8
	RoutingDutyCycleLimit       RoutingError = 9
	RoutingBadRequest           RoutingError = 32
	RoutingNotAuthorized        RoutingError = 33
	RoutingPKIFailed            RoutingError = 34
	RoutingPKIUnknownPubkey     RoutingError = 35
	RoutingAdminBadSessionKey   RoutingError = 36
	RoutingAdminPubkeyNotAuthed RoutingError = 37
	RoutingRateLimitExceeded    RoutingError = 38
)

var routingErrorNames = map[RoutingError]string{
	RoutingNone:                 "NONE",
	RoutingNoRoute:              "NO_ROUTE",
	RoutingGotNak:               "GOT_NAK",
	RoutingTimeout:              "TIMEOUT",
	RoutingNoInterface:          "NO_INTERFACE",
	RoutingMaxRetransmit:        "MAX_RETRANSMIT",
	RoutingNoChannel:            "NO_CHANNEL",
	RoutingTooLarge:             "TOO_LARGE",
	RoutingNoResponse:           "NO_RESPONSE",
	RoutingDutyCycleLimit:       "DUTY_CYCLE_LIMIT",
	RoutingBadRequest:           "BAD_REQUEST",
	RoutingNotAuthorized:        "NOT_AUTHORIZED",
	RoutingPKIFailed:            "PKI_FAILED",
	RoutingPKIUnknownPubkey:     "PKI_UNKNOWN_PUBKEY",
	RoutingAdminBadSessionKey:   "ADMIN_BAD_SESSION_KEY",
	RoutingAdminPubkeyNotAuthed: "ADMIN_PUBLIC_KEY_UNAUTHORIZED",
	RoutingRateLimitExceeded:    "RATE_LIMIT_EXCEEDED",
}

func (e RoutingError) String() string {
	if name, ok := routingErrorNames[e]; ok {
		return name
	}
	return "ROUTING_ERROR_" + strconv.Itoa(int(e))
}

// ConfigType selects the config section an admin get_config_request asks for.
type ConfigType int32

const (
	ConfigDevice     ConfigType = 0
	ConfigPosition   ConfigType = 1
	ConfigPower      ConfigType = 2
	ConfigNetwork    ConfigType = 3
	ConfigDisplay    ConfigType = 4
	ConfigLora       ConfigType = 5
	ConfigBluetooth  ConfigType = 6
	ConfigSecurity   ConfigType = 7
	ConfigSessionKey ConfigType = 8
)

// Priority is the MeshPacket transmit priority.
type Priority int32

const (
	PriorityUnset      Priority = 0
	PriorityMin        Priority = 1
	PriorityBackground Priority = 10
	PriorityDefault    Priority = 64
	PriorityReliable   Priority = 70
	PriorityResponse   Priority = 80
	PriorityHigh       Priority = 100
	PriorityAck        Priority = 120
	PriorityMax        Priority = 127
)

// BroadcastAddr is the node number addressing every node on a channel.
const BroadcastAddr uint32 = 0xFFFFFFFF
