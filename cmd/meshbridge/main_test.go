package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/meshbridge/internal/testutil/testlog"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChannelsImportListSealDecode(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	seed := filepath.Join(dir, "channels.toml")
	store := filepath.Join(dir, "meshbridge.db")

	if _, err := run(t, "init", "--kind", "channels", seed); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := run(t, "channels", "import", "--store", store, seed)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2 channels") {
		t.Fatalf("unexpected import output: %q", out)
	}

	out, err = run(t, "channels", "list", "--store", store)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "primary") || !strings.Contains(out, "LongFast") || !strings.Contains(out, "ops") {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = run(t, "seal", "--store", store, "--channel", "primary", "--packet-id", "77", "--from", "12", "meet at the ridge")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "hash=") {
		t.Fatalf("unexpected seal output: %q", out)
	}
	ct := lines[0]
	hint := strings.TrimPrefix(lines[1], "hash=")

	out, err = run(t, "decode", "--store", store, "--packet-id", "77", "--from", "12", "--hint", hint, ct)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var res struct {
		Success bool           `json:"success"`
		Channel string         `json:"channel"`
		Port    string         `json:"port"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output not json: %v %q", err, out)
	}
	if !res.Success || res.Channel != "primary" || res.Port != "TEXT_MESSAGE_APP" || res.Payload["Text"] != "meet at the ridge" {
		t.Fatalf("unexpected decode result: %+v", res)
	}

	out, err = run(t, "decode", "--store", store, "--packet-id", "78", "--from", "12", ct)
	if err != nil {
		t.Fatalf("decode with wrong nonce: %v", err)
	}
	if !strings.Contains(out, `"success": false`) {
		t.Fatalf("expected failed decode, got %q", out)
	}

	if _, err := run(t, "channels", "delete", "--store", store, "primary"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, "seal", "--store", store, "--channel", "primary", "x"); err == nil {
		t.Fatalf("expected seal against deleted channel to fail")
	}
}

func TestSealRequiresChannel(t *testing.T) {
	testlog.Start(t)
	if _, err := run(t, "seal", "--store", filepath.Join(t.TempDir(), "x.db"), "hello"); err == nil {
		t.Fatalf("expected missing --channel to fail")
	}
}
