package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"

	"pkt.systems/oscquery"
	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/discovery"
)

func TestInvocationTargetsRootCommand(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
	cases := []struct {
		args []string
		want bool
	}{
		{nil, true},
		{[]string{"--name", "Synth"}, true},
		{[]string{"--log-level=debug", "--disable-mdns"}, true},
		{[]string{"-c", "cfg.yaml", "discover"}, false},
		{[]string{"version"}, false},
		{[]string{"serve"}, false},
		{[]string{"--", "discover"}, true},
	}
	for _, tc := range cases {
		if got := invocationTargetsRootCommand(root, tc.args); got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.args, got, tc.want)
		}
	}
}

func TestConfigGenStdoutRoundTripsThroughViper(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen: %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("decode generated yaml: %v", err)
	}
	for _, name := range append(serveFlagNames, "log-level") {
		if _, ok := decoded[name]; !ok {
			t.Fatalf("generated config lacks %q", name)
		}
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(stdout), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := viper.New()
	v.Set("config", path)
	if _, err := loadConfigFile(v); err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg, err := bindConfig(v, "")
	if err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.ServiceName != oscquery.DefaultServiceName || cfg.ShutdownTimeout != oscquery.DefaultShutdownTimeout {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigGenRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", path); err != nil {
		t.Fatalf("first gen: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", path, "--force"); err != nil {
		t.Fatalf("forced gen: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", path, "--stdout"); err == nil {
		t.Fatal("expected --out and --stdout to conflict")
	}
}

func TestBindConfigResolvesManifestRelativeToConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("manifest: methods.yaml\nname: Synth\nhost-name: Synth Rack\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := viper.New()
	v.Set("config", path)
	configFile, err := loadConfigFile(v)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg, err := bindConfig(v, filepath.Dir(configFile))
	if err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.ManifestPath != filepath.Join(dir, "methods.yaml") || cfg.ServiceName != "Synth" || cfg.HostName != "Synth Rack" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigFileExplicitMissing(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := loadConfigFile(v); err == nil {
		t.Fatal("expected explicit missing config to fail")
	}
	t.Setenv("OSCQUERY_CONFIG_DIR", t.TempDir())
	if path, err := loadConfigFile(viper.New()); err != nil || path != "" {
		t.Fatalf("expected absent default config to be skipped, got %q / %v", path, err)
	}
}

func startSynth(t *testing.T) *oscquery.TestServer {
	t.Helper()
	ts := oscquery.StartTestServer(t, oscquery.WithTestConfigFunc(func(cfg *oscquery.Config) {
		cfg.ServiceName = "Synth"
	}))
	ts.Server.AddMethod("/synth/cutoff", addrspace.Method{
		Access:    addrspace.ReadWrite,
		Arguments: []addrspace.Argument{{Type: addrspace.Float, Value: 440.0}},
	})
	ts.Server.AddMethod("/synth/gate", addrspace.Method{
		Access:    addrspace.WriteOnly,
		Arguments: []addrspace.Argument{{Type: addrspace.Int}},
	})
	return ts
}

func TestGetCommand(t *testing.T) {
	ts := startSynth(t)
	target := "127.0.0.1:" + strconv.Itoa(ts.Port())

	stdout, _, err := executeRootCommand(t, "get", target, "/synth/cutoff", "--attr", "value")
	if err != nil {
		t.Fatalf("get VALUE: %v", err)
	}
	var value map[string][]float64
	if err := json.Unmarshal([]byte(stdout), &value); err != nil || len(value["VALUE"]) != 1 || value["VALUE"][0] != 440 {
		t.Fatalf("unexpected VALUE output %q (%v)", stdout, err)
	}

	stdout, _, err = executeRootCommand(t, "get", target, "--host-info")
	if err != nil {
		t.Fatalf("get HOST_INFO: %v", err)
	}
	var info api.HostInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil || info.Name != "Synth" {
		t.Fatalf("unexpected HOST_INFO output %q (%v)", stdout, err)
	}

	stdout, _, err = executeRootCommand(t, "get", target, "/synth/gate", "--attr", "VALUE")
	if err != nil || strings.TrimSpace(stdout) != "no content" {
		t.Fatalf("expected no content, got %q (%v)", stdout, err)
	}

	_, _, err = executeRootCommand(t, "get", target, "/missing")
	var fetchErr *discovery.FetchError
	if err == nil || !errors.As(err, &fetchErr) || fetchErr.Status != 404 {
		t.Fatalf("expected 404 fetch error, got %v", err)
	}

	if _, _, err := executeRootCommand(t, "get", target, "--attr", "BOGUS"); err == nil {
		t.Fatal("expected unknown attribute to be rejected")
	}
	if _, _, err := executeRootCommand(t, "get", "no-port"); err == nil {
		t.Fatal("expected invalid target to be rejected")
	}
}

func TestPrintEventAndRegistry(t *testing.T) {
	ts := startSynth(t)
	svc := discovery.NewService("127.0.0.1", ts.Port(), discovery.NewHTTPFetcher(discovery.WithoutFetchTracing()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Update(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}
	started := time.Now().Add(-time.Minute)

	var out strings.Builder
	printEvent(&out, discovery.UpEvent{Service: svc}, started)
	if line := out.String(); !strings.HasPrefix(line, "up ") || !strings.Contains(line, `"Synth", 2 methods`) {
		t.Fatalf("unexpected up line %q", line)
	}

	out.Reset()
	printRegistry(&out, []*discovery.Service{svc}, started)
	if got := out.String(); !strings.HasPrefix(got, "1 OSCQuery host found") || !strings.Contains(got, svc.Key()) {
		t.Fatalf("unexpected registry output %q", got)
	}

	out.Reset()
	printRegistry(&out, nil, started)
	if strings.TrimSpace(out.String()) != "no OSCQuery hosts found" {
		t.Fatalf("unexpected empty registry output %q", out.String())
	}
}

func TestDiscoverOnceRequiresTimeout(t *testing.T) {
	if _, _, err := executeRootCommand(t, "discover", "--once"); err == nil {
		t.Fatal("expected --once without --timeout to fail")
	}
}
