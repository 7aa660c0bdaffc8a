package discovery

import (
	"context"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/oscquery/internal/mdns"
)

// ServiceType is the DNS-SD type OSCQuery hosts advertise.
const ServiceType = mdns.ServiceType

// AnnouncementKind distinguishes appearing and disappearing instances.
type AnnouncementKind int

const (
	// AnnounceUp reports an instance that appeared or changed.
	AnnounceUp AnnouncementKind = iota
	// AnnounceDown reports an instance that went away.
	AnnounceDown
)

func (k AnnouncementKind) String() string {
	if k == AnnounceDown {
		return "down"
	}
	return "up"
}

// Announcement is one browse result. Every address is a separate candidate.
type Announcement struct {
	Kind      AnnouncementKind
	Instance  string
	Addresses []string
	Port      int
	// Protocol is the DNS-SD transport label, "tcp" for OSCQuery.
	Protocol string
}

// Browser surfaces service announcements until ctx is cancelled.
type Browser interface {
	Browse(ctx context.Context, serviceType string) (<-chan Announcement, error)
}

// MDNSConfig tunes the multicast DNS browser.
type MDNSConfig struct {
	Domain string
	// Round is the length of one browse round.
	Round time.Duration
	// Expiry is how long an unanswered instance is kept before it is
	// announced down.
	Expiry time.Duration
	Logger pslog.Logger
}

type mdnsBrowser struct {
	browser *mdns.Browser
}

// NewMDNSBrowser returns the default Browser backed by multicast DNS.
func NewMDNSBrowser(cfg MDNSConfig) Browser {
	return &mdnsBrowser{browser: mdns.NewBrowser(
		mdns.WithDomain(cfg.Domain),
		mdns.WithRound(cfg.Round),
		mdns.WithExpiry(cfg.Expiry),
		mdns.WithLogger(cfg.Logger),
	)}
}

func (b *mdnsBrowser) Browse(ctx context.Context, serviceType string) (<-chan Announcement, error) {
	sightings, err := b.browser.Browse(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	protocol := serviceProtocol(serviceType)
	out := make(chan Announcement)
	go func() {
		defer close(out)
		for s := range sightings {
			a := Announcement{
				Kind:      AnnounceUp,
				Instance:  s.Instance,
				Addresses: s.Addresses,
				Port:      s.Port,
				Protocol:  protocol,
			}
			if s.Lost {
				a.Kind = AnnounceDown
			}
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// serviceProtocol extracts the transport label from "_name._proto".
func serviceProtocol(serviceType string) string {
	serviceType = strings.TrimSuffix(serviceType, ".")
	i := strings.LastIndex(serviceType, "._")
	if i < 0 {
		return ""
	}
	return serviceType[i+2:]
}
