package oscquery

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/oscquery/api"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Fatalf("expected service name default, got %q", cfg.ServiceName)
	}
	if cfg.RootDescription != DefaultRootDescription {
		t.Fatalf("expected root description default, got %q", cfg.RootDescription)
	}
	if cfg.OSCTransport != api.TransportUDP {
		t.Fatalf("expected osc transport default, got %q", cfg.OSCTransport)
	}
	if cfg.MDNSDomain != DefaultMDNSDomain {
		t.Fatalf("expected mdns domain default, got %q", cfg.MDNSDomain)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("expected shutdown timeout default, got %s", cfg.ShutdownTimeout)
	}
}

func TestConfigValidateNormalizes(t *testing.T) {
	cfg := Config{ServiceName: "  Synth  ", OSCTransport: " tcp ", ShutdownTimeout: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ServiceName != "Synth" || cfg.OSCTransport != api.TransportTCP || cfg.ShutdownTimeout != time.Second {
		t.Fatalf("unexpected normalized config %+v", cfg)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bind address", Config{BindAddress: "localhost"}, "bind address"},
		{"http port", Config{HTTPPort: 70000}, "http port"},
		{"osc port", Config{OSCPort: -1}, "osc port"},
		{"ws port", Config{WSPort: 65536}, "ws port"},
		{"transport", Config{OSCTransport: "sctp"}, "osc transport"},
		{"watch without manifest", Config{WatchManifest: true}, "watch manifest"},
		{"shutdown timeout", Config{ShutdownTimeout: -time.Second}, "shutdown timeout"},
		{"profiling without metrics", Config{EnableProfilingMetrics: true}, "profiling"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.HasPrefix(err.Error(), "config: ") || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error %q", err)
			}
		})
	}
}

func TestConfigExpandsManifestPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OSCQUERY_TEST_MANIFEST_DIR", dir)
	cfg := Config{ManifestPath: "$OSCQUERY_TEST_MANIFEST_DIR/methods.yaml"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ManifestPath != filepath.Join(dir, "methods.yaml") {
		t.Fatalf("unexpected manifest path %q", cfg.ManifestPath)
	}
}

func TestDefaultConfigPathHonoursOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OSCQUERY_CONFIG_DIR", dir)
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path != filepath.Join(dir, DefaultConfigFileName) {
		t.Fatalf("unexpected config path %q", path)
	}
}
