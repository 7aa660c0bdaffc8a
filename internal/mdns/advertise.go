// Package mdns publishes and browses DNS-SD services over multicast DNS
// using grandcat/zeroconf.
package mdns

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
	"pkt.systems/pslog"

	"pkt.systems/oscquery/internal/svcfields"
)

// Defaults for OSCQuery advertisements.
const (
	ServiceType   = "_oscjson._tcp"
	DefaultDomain = "local."
)

// AdvertiseConfig describes one service registration.
type AdvertiseConfig struct {
	Instance string
	Service  string
	Domain   string
	// Host is the host label; HostLabel(Instance) when empty.
	Host string
	// IPs published in the A/AAAA records. When empty the addresses of every
	// multicast capable interface are used.
	IPs  []string
	Port int
	Text []string
}

// Advertisement is a live registration. Close withdraws it.
type Advertisement struct {
	server *zeroconf.Server
	logger pslog.Logger
	cfg    AdvertiseConfig
}

// HostLabel derives a DNS host label from a service name by replacing every
// space with a dash.
func HostLabel(name string) string {
	label := strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
	if label == "" {
		return "oscquery"
	}
	return label
}

// Advertise registers cfg on the local link.
func Advertise(cfg AdvertiseConfig, logger pslog.Logger) (*Advertisement, error) {
	if cfg.Instance == "" {
		return nil, errors.New("mdns: instance name required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("mdns: invalid port %d", cfg.Port)
	}
	if cfg.Service == "" {
		cfg.Service = ServiceType
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Host == "" {
		cfg.Host = HostLabel(cfg.Instance)
	}
	if len(cfg.IPs) == 0 {
		ips, err := InterfaceIPs()
		if err != nil {
			return nil, fmt.Errorf("mdns: list interface addresses: %w", err)
		}
		cfg.IPs = ips
	}
	if len(cfg.IPs) == 0 {
		return nil, errors.New("mdns: no usable interface addresses")
	}
	logger = svcfields.WithSubsystem(logger, svcfields.Subsystem(svcfields.SysMDNS, "advertise"))
	server, err := zeroconf.RegisterProxy(cfg.Instance, cfg.Service, cfg.Domain, cfg.Port, cfg.Host, cfg.IPs, cfg.Text, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register %q: %w", cfg.Instance, err)
	}
	logger.Info("mdns.advertise.start",
		"instance", cfg.Instance,
		"service", cfg.Service,
		"host", cfg.Host,
		"port", cfg.Port,
		"ips", strings.Join(cfg.IPs, ","),
	)
	return &Advertisement{server: server, logger: logger, cfg: cfg}, nil
}

// Config returns the effective registration.
func (a *Advertisement) Config() AdvertiseConfig {
	return a.cfg
}

// Close sends goodbye packets and stops responding. Safe to call on nil.
func (a *Advertisement) Close() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mdns.advertise.stop", "instance", a.cfg.Instance)
}

// PublishIPs picks the addresses to publish for a listener bound to bindAddr.
// A specific bind address is published as is; wildcard binds fall back to
// the interface addresses.
func PublishIPs(bindAddr string) ([]string, error) {
	if ip := net.ParseIP(strings.TrimSpace(bindAddr)); ip != nil && !ip.IsUnspecified() {
		return []string{ip.String()}, nil
	}
	return InterfaceIPs()
}

// InterfaceIPs lists the IPv4 addresses of up, multicast capable, non
// loopback interfaces.
func InterfaceIPs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil {
				ips = append(ips, v4.String())
			}
		}
	}
	return ips, nil
}
