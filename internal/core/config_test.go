package core

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func baseConfig() *Config {
	cfg := &Config{
		Name:                  "test",
		Hostname:              "127.0.0.1",
		MaxSession:            10,
		SessionUpdateInterval: 30,
		AliveTimeout:          30000,
	}
	cfg.TCPServer.Port = 9000
	cfg.UDPServer.Port = 9001
	return cfg
}

func TestConfig_TCPAddress(t *testing.T) {
	cfg := baseConfig()

	addr := cfg.TCPAddress()
	expected := "127.0.0.1:9000"
	if addr != expected {
		t.Errorf("TCPAddress() want = %s, got = %s", expected, addr)
	}
}

func TestConfig_UDPAddress(t *testing.T) {
	cfg := baseConfig()

	if addr := cfg.UDPAddress(); addr != "127.0.0.1:9001" {
		t.Errorf("UDPAddress() want = 127.0.0.1:9001, got = %s", addr)
	}

	cfg.UDPServer.Address = "10.0.0.5"
	if addr := cfg.UDPAddress(); addr != "10.0.0.5:9001" {
		t.Errorf("UDPAddress() with explicit address want = 10.0.0.5:9001, got = %s", addr)
	}
}

func TestConfig_UpdateIntervalAdvisories(t *testing.T) {
	tests := []struct {
		name       string
		udpEnabled bool
		interval   int
		wantCount  int
		wantPhrase string
	}{
		{
			name:       "udp with fast interval is fine",
			udpEnabled: true,
			interval:   30,
			wantCount:  0,
		},
		{
			name:       "udp above 30ms gets a nudge",
			udpEnabled: true,
			interval:   60,
			wantCount:  1,
			wantPhrase: "recommended 30ms",
		},
		{
			name:       "udp above 100ms gets a warning",
			udpEnabled: true,
			interval:   250,
			wantCount:  1,
			wantPhrase: "too slow",
		},
		{
			name:       "tcp only with slow interval is fine",
			udpEnabled: false,
			interval:   2000,
			wantCount:  0,
		},
		{
			name:       "tcp only with fast interval is wasteful",
			udpEnabled: false,
			interval:   30,
			wantCount:  1,
			wantPhrase: "unnecessarily fast",
		},
		{
			name:       "zero interval is never flagged",
			udpEnabled: false,
			interval:   0,
			wantCount:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.UDPServer.Enabled = tt.udpEnabled
			cfg.SessionUpdateInterval = tt.interval

			advisories := cfg.UpdateIntervalAdvisories()
			if len(advisories) != tt.wantCount {
				t.Fatalf("got %d advisories, want %d: %v", len(advisories), tt.wantCount, advisories)
			}
			if tt.wantPhrase != "" && !strings.Contains(advisories[0], tt.wantPhrase) {
				t.Errorf("advisory %q does not contain %q", advisories[0], tt.wantPhrase)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := baseConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on a valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero max_session", mutate: func(c *Config) { c.MaxSession = 0 }},
		{name: "negative max_session", mutate: func(c *Config) { c.MaxSession = -1 }},
		{name: "max_session past the id space", mutate: func(c *Config) { c.MaxSession = 70000 }},
		{name: "tcp port too large", mutate: func(c *Config) { c.TCPServer.Port = 70000 }},
		{name: "udp port too large", mutate: func(c *Config) {
			c.UDPServer.Enabled = true
			c.UDPServer.Port = 70000
		}},
		{name: "negative update interval", mutate: func(c *Config) { c.SessionUpdateInterval = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}

func TestConfig_UpdateInterval(t *testing.T) {
	cfg := baseConfig()
	cfg.SessionUpdateInterval = 250

	if diff := cmp.Diff("250ms", cfg.UpdateInterval().String()); diff != "" {
		t.Errorf("UpdateInterval() diff:\n%s", diff)
	}
}
