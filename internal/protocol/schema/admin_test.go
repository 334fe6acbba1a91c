package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/meshbridge/internal/testutil/testlog"
)

func decodeAdminFrame(t *testing.T, r *Registry, raw []byte) (MeshPacket, AdminMessage) {
	t.Helper()
	to, ok := r.DecodeToRadio(raw)
	if !ok || to.Packet == nil || to.Packet.Decoded == nil {
		t.Fatalf("expected ToRadio with decoded packet, got %+v", to)
	}
	if to.Packet.Decoded.PortNum != PortAdmin {
		t.Fatalf("unexpected port: %v", to.Packet.Decoded.PortNum)
	}
	admin, ok := to.Packet.Decoded.Decoded.(AdminMessage)
	if !ok {
		t.Fatalf("expected admin payload, got %T", to.Packet.Decoded.Decoded)
	}
	return *to.Packet, admin
}

func TestBuildSessionKeyRequest(t *testing.T) {
	testlog.Start(t)
	r := Default()
	raw, err := r.BuildSessionKeyRequest(AdminTarget{From: 1, To: 0xAABBCCDD, PacketID: 4242})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pkt, admin := decodeAdminFrame(t, r, raw)
	if pkt.To != 0xAABBCCDD || pkt.ID != 4242 || !pkt.WantAck {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	if !pkt.Decoded.WantResponse {
		t.Fatalf("admin request must want a response")
	}
	if admin.Variant != "get_config_request" || admin.GetConfigRequest != ConfigSessionKey {
		t.Fatalf("unexpected admin message: %+v", admin)
	}
}

func TestBuildFavoriteRequests(t *testing.T) {
	testlog.Start(t)
	r := Default()
	target := AdminTarget{From: 1, To: 2, PacketID: 3, SessionPasskey: []byte{9, 9, 9}}

	raw, err := r.BuildSetFavoriteRequest(target, 0xCAFE)
	if err != nil {
		t.Fatalf("build set favorite: %v", err)
	}
	_, admin := decodeAdminFrame(t, r, raw)
	if admin.Variant != "set_favorite_node" || admin.SetFavoriteNode != 0xCAFE {
		t.Fatalf("unexpected set favorite: %+v", admin)
	}
	if string(admin.SessionPasskey) != string([]byte{9, 9, 9}) {
		t.Fatalf("passkey not carried: %v", admin.SessionPasskey)
	}

	raw, err = r.BuildRemoveFavoriteRequest(target, 0xCAFE)
	if err != nil {
		t.Fatalf("build remove favorite: %v", err)
	}
	_, admin = decodeAdminFrame(t, r, raw)
	if admin.Variant != "remove_favorite_node" || admin.RemoveFavoriteNode != 0xCAFE {
		t.Fatalf("unexpected remove favorite: %+v", admin)
	}

	if _, err := r.BuildSetFavoriteRequest(target, 0); !errors.Is(err, ErrInvalidAdminTarget) {
		t.Fatalf("expected invalid target, got %v", err)
	}
	if _, err := r.BuildSessionKeyRequest(AdminTarget{}); !errors.Is(err, ErrInvalidAdminTarget) {
		t.Fatalf("expected invalid target, got %v", err)
	}
}

func TestDecodeAdminResponseSessionPasskey(t *testing.T) {
	testlog.Start(t)
	r := Default()
	raw, err := r.EncodeAdmin(AdminMessage{
		ConfigResponse: []byte{0x0A, 0x00},
		SessionPasskey: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := r.DecodeAdminResponse(raw)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Variant != "get_config_response" {
		t.Fatalf("unexpected variant: %q", got.Variant)
	}
	if len(got.SessionPasskey) != 8 || got.SessionPasskey[7] != 8 {
		t.Fatalf("unexpected passkey: %v", got.SessionPasskey)
	}
}
