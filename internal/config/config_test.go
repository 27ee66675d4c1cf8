package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	c, err := LoadFromBytes([]byte("relay: {}\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Relay.Host != "127.0.0.1" {
		t.Fatalf("host = %q", c.Relay.Host)
	}
	if c.Relay.Port != 9223 {
		t.Fatalf("port = %d", c.Relay.Port)
	}
	if c.Relay.RequestTimeoutMs != 30000 {
		t.Fatalf("requestTimeoutMs = %d", c.Relay.RequestTimeoutMs)
	}
	if c.Relay.WriteQueueCapacity != 256 {
		t.Fatalf("writeQueueCapacity = %d", c.Relay.WriteQueueCapacity)
	}
	if c.Relay.BearerToken != "" {
		t.Fatalf("token should default empty")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	os.Setenv("RELAY_TEST_TOKEN", "tok123")
	defer os.Unsetenv("RELAY_TEST_TOKEN")

	c, err := LoadFromBytes([]byte("relay:\n  bearerToken: \"${RELAY_TEST_TOKEN}\"\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Relay.BearerToken != "tok123" {
		t.Fatalf("token = %q", c.Relay.BearerToken)
	}
}

func TestLoadFull(t *testing.T) {
	doc := `
relay:
  host: 0.0.0.0
  port: 9300
  bearerToken: abc
  extensionOrigins:
    - chrome-extension://one
    - chrome-extension://two
  requestTimeoutMs: 5000
  writeQueueCapacity: 32
log:
  debug: true
`
	c, err := LoadFromBytes([]byte(doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Relay.Host != "0.0.0.0" || c.Relay.Port != 9300 {
		t.Fatalf("listener config wrong: %+v", c.Relay)
	}
	if len(c.Relay.ExtensionOrigins) != 2 {
		t.Fatalf("origins = %v", c.Relay.ExtensionOrigins)
	}
	if c.Relay.RequestTimeoutMs != 5000 || c.Relay.WriteQueueCapacity != 32 {
		t.Fatalf("tuning config wrong: %+v", c.Relay)
	}
	if !c.Log.Debug {
		t.Fatalf("debug flag lost")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	if _, err := LoadFromBytes([]byte("relay:\n  port: 70000\n")); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("relay: [nope")); err == nil {
		t.Fatalf("expected parse error")
	}
}
