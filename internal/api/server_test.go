package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/outbound"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/danmuck/meshbridge/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type stubChannels struct {
	keys     []channels.ChannelKey
	loadedAt time.Time
	err      error
	calls    int
}

func (s *stubChannels) Snapshot(context.Context) []channels.ChannelKey { return s.keys }

func (s *stubChannels) Refresh(context.Context) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.loadedAt = time.Unix(1700000000, 0)
	return nil
}

func (s *stubChannels) LoadedAt() time.Time { return s.loadedAt }

func (s *stubChannels) Info(_ context.Context, id string) (channels.ChannelKey, bool) {
	for _, k := range s.keys {
		if k.ID == id {
			return k, true
		}
	}
	return channels.ChannelKey{}, false
}

func (s *stubChannels) RecordDecrypted(context.Context, string) error { return nil }

type stubQueue struct {
	lastText string
	lastDest outbound.Destination
	lastOpts int
	err      error
	cleared  int
}

func (q *stubQueue) Enqueue(text string, dest outbound.Destination, opts ...outbound.Option) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.lastText, q.lastDest, q.lastOpts = text, dest, len(opts)
	return "msg-1", nil
}

func (q *stubQueue) Stats() outbound.Stats {
	return outbound.Stats{Queued: 2, Awaiting: 1}
}

func (q *stubQueue) Clear() int {
	q.cleared++
	return 3
}

type stubAdmin struct {
	err  error
	last bridge.AdminRequest
}

func (a *stubAdmin) SendAdmin(_ context.Context, req bridge.AdminRequest) (uint32, error) {
	a.last = req
	return 99, a.err
}

func testKey() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(0x10 + i)
	}
	return k
}

func newTestServer(t *testing.T, cfg Config) (*Server, *stubChannels, *stubQueue, *stubAdmin) {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ch := &stubChannels{keys: []channels.ChannelKey{{ID: "ops", Name: "Ops", Key: testKey()}}}
	q := &stubQueue{}
	adm := &stubAdmin{}
	dec := decrypt.New(decrypt.DefaultConfig(), ch, schema.Default())
	t.Cleanup(dec.Wait)
	s := New(cfg, Deps{Channels: ch, Queue: q, Decryptor: dec, Admin: adm})
	return s, ch, q, adm
}

func do(t *testing.T, s *Server, method, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	out := map[string]any{}
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(rr.Body.Bytes()), []byte("{")) {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthAndReady(t *testing.T) {
	s, ch, _, _ := newTestServer(t, Config{ID: "mb-test"})

	rr, body := do(t, s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || body["service"] != "mb-test" {
		t.Fatalf("unexpected health response: %d %v", rr.Code, body)
	}

	rr, _ = do(t, s, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before keys load, got %d", rr.Code)
	}

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	rr, body = do(t, s, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK || body["ready"] != true {
		t.Fatalf("expected ready, got %d %v", rr.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{})
	do(t, s, http.MethodGet, "/health", nil)
	rr, _ := do(t, s, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("meshbridge_http_requests_total")) {
		t.Fatalf("metrics missing http counter: %d", rr.Code)
	}
}

func TestListChannelsHidesKeys(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{})
	rr, body := do(t, s, http.MethodGet, "/channels", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	list, ok := body["channels"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected channels body: %v", body)
	}
	entry := list[0].(map[string]any)
	if entry["id"] != "ops" || entry["key_len"] != float64(16) {
		t.Fatalf("unexpected channel entry: %v", entry)
	}
	if _, leaked := entry["key"]; leaked {
		t.Fatalf("key bytes leaked: %v", entry)
	}
	if entry["hash"] != float64(decrypt.ChannelHash("Ops", testKey())) {
		t.Fatalf("unexpected hash: %v", entry["hash"])
	}
}

func TestRefreshChannels(t *testing.T) {
	s, ch, _, _ := newTestServer(t, Config{})
	rr, body := do(t, s, http.MethodPost, "/channels/refresh", nil)
	if rr.Code != http.StatusOK || body["loaded"] != float64(1) {
		t.Fatalf("unexpected refresh response: %d %v", rr.Code, body)
	}

	ch.err = errors.New("store offline")
	rr, _ = do(t, s, http.MethodPost, "/channels/refresh", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on store failure, got %d", rr.Code)
	}
	if ch.calls != 2 {
		t.Fatalf("expected two refresh calls, got %d", ch.calls)
	}
}

func TestEnqueueMessage(t *testing.T) {
	s, _, q, _ := newTestServer(t, Config{})

	rr, body := do(t, s, http.MethodPost, "/messages", map[string]any{
		"text": "ping", "node": 0xAABBCCDD, "reply_id": 7, "max_attempts": 2,
	})
	if rr.Code != http.StatusAccepted || body["id"] != "msg-1" {
		t.Fatalf("unexpected enqueue response: %d %v", rr.Code, body)
	}
	if q.lastText != "ping" || q.lastDest.Node != 0xAABBCCDD || q.lastOpts != 2 {
		t.Fatalf("queue saw %q %+v opts=%d", q.lastText, q.lastDest, q.lastOpts)
	}
	if body["destination"] != "!aabbccdd" {
		t.Fatalf("unexpected destination: %v", body["destination"])
	}

	rr, _ = do(t, s, http.MethodPost, "/messages", map[string]any{"node": 1})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without text, got %d", rr.Code)
	}

	q.err = outbound.ErrClosed
	rr, _ = do(t, s, http.MethodPost, "/messages", map[string]any{"text": "late"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on closed queue, got %d", rr.Code)
	}
}

func TestQueueStatsAndClear(t *testing.T) {
	s, _, q, _ := newTestServer(t, Config{})

	rr, body := do(t, s, http.MethodGet, "/queue", nil)
	if rr.Code != http.StatusOK || body["queued"] != float64(2) || body["awaiting"] != float64(1) {
		t.Fatalf("unexpected stats: %d %v", rr.Code, body)
	}

	rr, body = do(t, s, http.MethodDelete, "/queue", nil)
	if rr.Code != http.StatusOK || body["cleared"] != float64(3) || q.cleared != 1 {
		t.Fatalf("unexpected clear response: %d %v", rr.Code, body)
	}
}

func TestDecodeEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{})
	plain, err := schema.Default().EncodeData(schema.Data{PortNum: schema.PortTextMessage, Payload: []byte("over")})
	if err != nil {
		t.Fatalf("encode data: %v", err)
	}
	ct, err := decrypt.Encrypt(testKey(), 1234, 0x55, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rr, body := do(t, s, http.MethodPost, "/decode", map[string]any{
		"ciphertext": base64.StdEncoding.EncodeToString(ct),
		"packet_id":  1234,
		"from":       0x55,
	})
	if rr.Code != http.StatusOK || body["success"] != true || body["channel_id"] != "ops" {
		t.Fatalf("unexpected decode response: %d %v", rr.Code, body)
	}
	if body["port"] != "TEXT_MESSAGE_APP" {
		t.Fatalf("unexpected port: %v", body["port"])
	}
	payload, ok := body["payload"].(map[string]any)
	if !ok || payload["Text"] != "over" {
		t.Fatalf("unexpected payload: %v", body["payload"])
	}

	rr, body = do(t, s, http.MethodPost, "/decode", map[string]any{
		"ciphertext": base64.StdEncoding.EncodeToString(ct),
		"packet_id":  1234,
		"from":       0x55,
		"channel_id": "missing",
	})
	if rr.Code != http.StatusUnprocessableEntity || body["success"] != false {
		t.Fatalf("expected 422 for unknown channel, got %d %v", rr.Code, body)
	}

	rr, _ = do(t, s, http.MethodPost, "/decode", map[string]any{"ciphertext": "%%%"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", rr.Code)
	}
}

func TestAdminEndpoint(t *testing.T) {
	s, _, _, adm := newTestServer(t, Config{})

	rr, body := do(t, s, http.MethodPost, "/admin", map[string]any{"kind": "session_key", "node": 0x42})
	if rr.Code != http.StatusAccepted || body["packet_id"] != float64(99) {
		t.Fatalf("unexpected admin response: %d %v", rr.Code, body)
	}
	if adm.last.Kind != bridge.AdminSessionKey || adm.last.Node != 0x42 {
		t.Fatalf("unexpected admin request: %+v", adm.last)
	}

	adm.err = bridge.ErrNoSessionKey
	rr, _ = do(t, s, http.MethodPost, "/admin", map[string]any{"kind": "set_favorite", "node": 0x42, "favorite": 7})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without session key, got %d", rr.Code)
	}
}

type radioLink struct {
	mu     sync.Mutex
	frames int
}

func (l *radioLink) WriteToRadio(context.Context, []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames++
	return nil
}

func routingAckFrame(t *testing.T, from, to, requestID uint32) string {
	t.Helper()
	payload, err := schema.Default().EncodeRouting(schema.Routing{ErrorReason: schema.RoutingNone})
	if err != nil {
		t.Fatalf("encode routing: %v", err)
	}
	pkt := schema.MeshPacket{
		From: from,
		To:   to,
		ID:   555,
		Decoded: &schema.Data{
			PortNum:   schema.PortRouting,
			Payload:   payload,
			RequestID: requestID,
		},
	}
	raw, err := schema.Default().EncodeFromRadio(schema.FromRadio{ID: 9, Packet: &pkt})
	if err != nil {
		t.Fatalf("encode from_radio: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestFramesRouteDeliversAckToQueue(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	const gateway, peer = 0x0A0B0C0D, 0x1234

	link := &radioLink{}
	b := bridge.New(bridge.Config{LocalNode: gateway}, schema.Default(), nil, nil, link, nil)
	q := outbound.New(outbound.DefaultConfig(), b.Transmit)
	t.Cleanup(q.Close)
	b.SetTracker(q)
	s := New(Config{Token: "t0k"}, Deps{Queue: q, Frames: b})
	bearer := []string{"Authorization", "Bearer t0k"}

	acked := make(chan outbound.Report, 1)
	if _, err := q.Enqueue("over the air", outbound.ToNode(peer), outbound.OnSuccess(func(r outbound.Report) { acked <- r })); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var packetID uint32
	deadline := time.Now().Add(2 * time.Second)
	for packetID == 0 {
		if time.Now().After(deadline) {
			t.Fatal("message never reached the radio")
		}
		if st := q.Stats(); st.Awaiting == 1 {
			packetID = st.Messages[0].CorrelationID
		} else {
			time.Sleep(2 * time.Millisecond)
		}
	}

	if rr, _ := do(t, s, http.MethodPost, "/frames", map[string]any{"frame": routingAckFrame(t, peer, gateway, packetID)}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	rr, body := do(t, s, http.MethodPost, "/frames", map[string]any{"frame": routingAckFrame(t, peer, gateway, packetID)}, bearer...)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected frames response: %d %v", rr.Code, body)
	}

	select {
	case r := <-acked:
		if r.State != outbound.StateAcked || r.CorrelationID != packetID {
			t.Fatalf("unexpected report: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack posted to /frames never completed the message")
	}
	if st := q.Stats(); st.Awaiting != 0 {
		t.Fatalf("expected nothing awaiting, got %d", st.Awaiting)
	}
	if link.frames != 1 {
		t.Fatalf("expected one frame written, got %d", link.frames)
	}
}

func TestFramesRouteRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	b := bridge.New(bridge.Config{LocalNode: 1}, schema.Default(), nil, nil, &radioLink{}, nil)
	s := New(Config{}, Deps{Frames: b})

	rr, _ := do(t, s, http.MethodPost, "/frames", map[string]any{"frame": "%%%"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", rr.Code)
	}
	garbage := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	rr, body := do(t, s, http.MethodPost, "/frames", map[string]any{"frame": garbage})
	if rr.Code != http.StatusBadRequest || body["error"] != bridge.ErrUndecodableFrame.Error() {
		t.Fatalf("expected 400 for undecodable frame, got %d %v", rr.Code, body)
	}
	rr, _ = do(t, s, http.MethodPost, "/frames", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without frame, got %d", rr.Code)
	}
}

func TestBearerAuthGuardsEngineRoutes(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{Token: "hunter2"})

	if rr, _ := do(t, s, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodGet, "/queue", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodGet, "/queue", nil, "Authorization", "Bearer hunter2"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestBearerAuthAcceptsRotatedTokens(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{Token: "next, hunter2"})
	for _, tok := range []string{"next", "hunter2"} {
		if rr, _ := do(t, s, http.MethodGet, "/queue", nil, "Authorization", "Bearer "+tok); rr.Code != http.StatusOK {
			t.Fatalf("token %q: expected 200, got %d", tok, rr.Code)
		}
	}
	if rr, _ := do(t, s, http.MethodGet, "/queue", nil, "Authorization", "Bearer next, hunter2"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected raw list rejected, got %d", rr.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
