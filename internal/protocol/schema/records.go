package schema

// Position is a location fix. Latitude and longitude are fixed point, scaled by 1e7.
type Position struct {
	LatitudeI      int32
	LongitudeI     int32
	Altitude       int32
	Time           uint32
	LocationSource int32
	AltitudeSource int32
	Timestamp      uint32
	GroundSpeed    uint32
	GroundTrack    uint32
	FixQuality     uint32
	FixType        uint32
	SatsInView     uint32
	PrecisionBits  uint32
}

// Degrees returns the fix in decimal degrees.
func (p Position) Degrees() (lat, lon float64) {
	return ToDegrees(p.LatitudeI, p.LongitudeI)
}

// User is the identity record a node advertises.
type User struct {
	ID         string
	LongName   string
	ShortName  string
	MAC        []byte
	HwModel    int32
	IsLicensed bool
	Role       int32
	PublicKey  []byte
}

type DeviceMetrics struct {
	BatteryLevel       uint32
	Voltage            float32
	ChannelUtilization float32
	AirUtilTx          float32
	UptimeSeconds      uint32
}

type EnvironmentMetrics struct {
	Temperature        float32
	RelativeHumidity   float32
	BarometricPressure float32
	GasResistance      float32
	Voltage            float32
	Current            float32
}

// Telemetry carries at most one metrics variant.
type Telemetry struct {
	Time        uint32
	Device      *DeviceMetrics
	Environment *EnvironmentMetrics
}

// NodeInfo is the node summary record. Nested records are always populated
// with zero values when absent on the wire.
type NodeInfo struct {
	Num           uint32
	User          User
	Position      Position
	SNR           float32
	LastHeard     uint32
	DeviceMetrics DeviceMetrics
	Channel       uint32
	ViaMQTT       bool
	HopsAway      uint32
	IsFavorite    bool
	IsIgnored     bool
}

type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
}

// Data is the decoded inner envelope of a MeshPacket.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
	Bitfield     uint32

	// Decoded is set when PortNum names a known application.
	Decoded Payload
}

// MeshPacket is the routed envelope. Decoded is nil unless the packet carries
// a plaintext body.
type MeshPacket struct {
	From         uint32
	To           uint32
	Channel      uint32
	ID           uint32
	RxTime       uint32
	RxSNR        float32
	RxRSSI       int32
	HopLimit     uint32
	HopStart     uint32
	WantAck      bool
	Priority     Priority
	ViaMQTT      bool
	Encrypted    []byte
	PublicKey    []byte
	PKIEncrypted bool
	Decoded      *Data
}

// IsBroadcast reports whether the packet is addressed to every node.
func (p MeshPacket) IsBroadcast() bool {
	return p.To == BroadcastAddr
}

type RouteDiscovery struct {
	Route     []uint32
	RouteBack []uint32
}

// Routing is the ROUTING_APP payload: an ack/nak or a traceroute leg.
type Routing struct {
	RouteRequest *RouteDiscovery
	RouteReply   *RouteDiscovery
	ErrorReason  RoutingError
}

// AdminMessage is the ADMIN_APP payload. Variant names the populated oneof
// member; SessionPasskey rides alongside any variant.
type AdminMessage struct {
	Variant            string
	GetChannelRequest  uint32
	GetOwnerRequest    bool
	OwnerResponse      *User
	GetConfigRequest   ConfigType
	ConfigResponse     []byte
	SetFavoriteNode    uint32
	RemoveFavoriteNode uint32
	SessionPasskey     []byte
}

type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID uint32
	Disconnect   bool
}

type FromRadio struct {
	ID               uint32
	Packet           *MeshPacket
	MyInfo           *MyNodeInfo
	NodeInfo         *NodeInfo
	ConfigCompleteID uint32
	Rebooted         bool
}

// Payload is the decoded application payload of a Data envelope.
type Payload interface {
	Port() PortNum
}

// TextPayload is a TEXT_MESSAGE_APP body.
type TextPayload struct {
	Text string
}

// Unrecognized carries the raw bytes of a payload whose port has no decoder.
type Unrecognized struct {
	PortNum PortNum
	Raw     []byte
}

func (TextPayload) Port() PortNum    { return PortTextMessage }
func (Position) Port() PortNum       { return PortPosition }
func (User) Port() PortNum           { return PortNodeInfo }
func (Routing) Port() PortNum        { return PortRouting }
func (AdminMessage) Port() PortNum   { return PortAdmin }
func (Telemetry) Port() PortNum      { return PortTelemetry }
func (u Unrecognized) Port() PortNum { return u.PortNum }
