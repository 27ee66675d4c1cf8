package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/neboloop/relay/internal/config"
)

func TestVersionEndpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if payload.Version != Version {
		t.Fatalf("version = %q, want %q", payload.Version, Version)
	}
}

func TestExtensionStatusEndpoint(t *testing.T) {
	r, srv := newTestServer(t, nil)

	readStatus := func() (bool, []TargetInfo) {
		resp, err := http.Get(srv.URL + "/extension/status")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		var payload struct {
			Connected bool         `json:"connected"`
			Targets   []TargetInfo `json:"targets"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		return payload.Connected, payload.Targets
	}

	if connected, _ := readStatus(); connected {
		t.Fatalf("reported connected before extension dial")
	}

	ext := dialExtension(t, r, srv)
	sendAttachedTarget(t, r, ext, "T1", "S1")

	connected, targets := readStatus()
	if !connected {
		t.Fatalf("reported disconnected while extension is up")
	}
	if len(targets) != 1 || targets[0].TargetID != "T1" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestMCPLogEndpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"level":"info","args":["hello",42]}`)
	resp, err := http.Post(srv.URL+"/mcp-log", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	// malformed bodies are swallowed, not surfaced
	resp, err = http.Post(srv.URL+"/mcp-log", "application/json", bytes.NewBufferString("{nope"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestJSONDiscoveryEndpoints(t *testing.T) {
	r, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/json/version")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var version map[string]any
	json.NewDecoder(resp.Body).Decode(&version)
	resp.Body.Close()
	if version["Browser"] != "Nebo/extension-relay" {
		t.Fatalf("Browser = %v", version["Browser"])
	}
	if _, ok := version["webSocketDebuggerUrl"]; ok {
		t.Fatalf("debugger URL advertised without an extension")
	}

	ext := dialExtension(t, r, srv)
	sendAttachedTarget(t, r, ext, "T1", "S1")

	resp, err = http.Get(srv.URL + "/json/version")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	version = map[string]any{}
	json.NewDecoder(resp.Body).Decode(&version)
	resp.Body.Close()
	if _, ok := version["webSocketDebuggerUrl"]; !ok {
		t.Fatalf("debugger URL missing while connected")
	}

	resp, err = http.Get(srv.URL + "/json/list")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var list []map[string]string
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0]["id"] != "T1" {
		t.Fatalf("list = %+v", list)
	}

	// activate goes through the extension as a CDP command
	resp, err = http.Get(srv.URL + "/json/activate/T1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	cmd := readCommand(t, ext)
	if cmd.Params.Method != "Target.activateTarget" {
		t.Fatalf("forwarded %q, want Target.activateTarget", cmd.Params.Method)
	}
}

func TestJSONEndpointsRequireToken(t *testing.T) {
	_, srv := newTestServer(t, func(cfg *config.RelayConfig) {
		cfg.BearerToken = "s3cret"
	})

	resp, err := http.Get(srv.URL + "/json/list")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/json/list", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
