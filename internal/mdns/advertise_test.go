package mdns

import (
	"strings"
	"testing"
)

func TestHostLabel(t *testing.T) {
	cases := map[string]string{
		"OSCQuery":        "OSCQuery",
		"My  Synth Rack ": "My--Synth-Rack",
		"Studio A":        "Studio-A",
		"tab\tname":       "tab\tname",
		"":                "oscquery",
	}
	for in, want := range cases {
		if got := HostLabel(in); got != want {
			t.Fatalf("HostLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublishIPsPrefersSpecificBind(t *testing.T) {
	ips, err := PublishIPs("192.168.1.20")
	if err != nil {
		t.Fatalf("PublishIPs: %v", err)
	}
	if len(ips) != 1 || ips[0] != "192.168.1.20" {
		t.Fatalf("unexpected ips %v", ips)
	}
}

func TestAdvertiseValidatesConfig(t *testing.T) {
	if _, err := Advertise(AdvertiseConfig{Port: 9000}, nil); err == nil || !strings.Contains(err.Error(), "instance") {
		t.Fatalf("expected instance error, got %v", err)
	}
	if _, err := Advertise(AdvertiseConfig{Instance: "x", Port: 0}, nil); err == nil || !strings.Contains(err.Error(), "port") {
		t.Fatalf("expected port error, got %v", err)
	}
}

func TestCloseNilAdvertisement(t *testing.T) {
	var a *Advertisement
	a.Close()
}
