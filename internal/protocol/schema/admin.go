package schema

import (
	"errors"
	"fmt"
)

var ErrInvalidAdminTarget = errors.New("schema: invalid admin target")

// AdminTarget addresses an administrative request.
type AdminTarget struct {
	// From is the local node number.
	From uint32
	// To is the node being administered.
	To uint32
	// PacketID becomes the request id the response echoes back.
	PacketID uint32
	// Channel is the channel index the request is sent on.
	Channel uint32
	// SessionPasskey is required by remote nodes for mutating requests.
	SessionPasskey []byte
	HopLimit       uint32
}

// BuildSessionKeyRequest asks a node for its admin session passkey.
func (r *Registry) BuildSessionKeyRequest(t AdminTarget) ([]byte, error) {
	return r.buildAdminRequest(t, AdminMessage{
		Variant:          "get_config_request",
		GetConfigRequest: ConfigSessionKey,
	})
}

// BuildSetFavoriteRequest marks node as a favorite on the target.
func (r *Registry) BuildSetFavoriteRequest(t AdminTarget, node uint32) ([]byte, error) {
	if node == 0 {
		return nil, fmt.Errorf("%w: favorite node is zero", ErrInvalidAdminTarget)
	}
	return r.buildAdminRequest(t, AdminMessage{
		Variant:         "set_favorite_node",
		SetFavoriteNode: node,
		SessionPasskey:  t.SessionPasskey,
	})
}

// BuildRemoveFavoriteRequest clears the favorite flag for node on the target.
func (r *Registry) BuildRemoveFavoriteRequest(t AdminTarget, node uint32) ([]byte, error) {
	if node == 0 {
		return nil, fmt.Errorf("%w: favorite node is zero", ErrInvalidAdminTarget)
	}
	return r.buildAdminRequest(t, AdminMessage{
		Variant:            "remove_favorite_node",
		RemoveFavoriteNode: node,
		SessionPasskey:     t.SessionPasskey,
	})
}

// buildAdminRequest wraps the admin payload in Data(ADMIN_APP), then a
// MeshPacket, then a ToRadio frame.
func (r *Registry) buildAdminRequest(t AdminTarget, msg AdminMessage) ([]byte, error) {
	if t.To == 0 {
		return nil, fmt.Errorf("%w: missing destination", ErrInvalidAdminTarget)
	}
	payload, err := r.EncodeAdmin(msg)
	if err != nil {
		return nil, err
	}
	pkt := MeshPacket{
		From:     t.From,
		To:       t.To,
		Channel:  t.Channel,
		ID:       t.PacketID,
		HopLimit: t.HopLimit,
		WantAck:  true,
		Priority: PriorityReliable,
		Decoded: &Data{
			PortNum:      PortAdmin,
			Payload:      payload,
			WantResponse: true,
		},
	}
	return r.EncodeToRadio(ToRadio{Packet: &pkt})
}
