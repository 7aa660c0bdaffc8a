package mdns

import (
	"context"
	"slices"
	"time"

	"github.com/grandcat/zeroconf"
	"pkt.systems/pslog"

	"pkt.systems/oscquery/internal/clock"
	"pkt.systems/oscquery/internal/svcfields"
)

// Browse defaults.
const (
	DefaultRound  = 3 * time.Second
	DefaultExpiry = 10 * time.Second
)

// Sighting reports an instance appearing, changing or disappearing.
type Sighting struct {
	Instance  string
	Host      string
	Addresses []string
	Port      int
	Text      []string
	Lost      bool
}

type lookupFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Browser runs repeated browse rounds and tracks instance liveness. zeroconf
// drops goodbye packets silently, so an instance is reported lost once it has
// gone unanswered for longer than the expiry window.
type Browser struct {
	domain string
	round  time.Duration
	expiry time.Duration
	clock  clock.Clock
	logger pslog.Logger
	lookup lookupFunc
}

// BrowserOption customises a Browser.
type BrowserOption func(*Browser)

// WithDomain overrides the browse domain.
func WithDomain(domain string) BrowserOption {
	return func(b *Browser) {
		if domain != "" {
			b.domain = domain
		}
	}
}

// WithRound sets the length of one browse round.
func WithRound(d time.Duration) BrowserOption {
	return func(b *Browser) {
		if d > 0 {
			b.round = d
		}
	}
}

// WithExpiry sets how long an unanswered instance survives.
func WithExpiry(d time.Duration) BrowserOption {
	return func(b *Browser) {
		if d > 0 {
			b.expiry = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(c clock.Clock) BrowserOption {
	return func(b *Browser) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the browser logger.
func WithLogger(logger pslog.Logger) BrowserOption {
	return func(b *Browser) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func withLookup(fn lookupFunc) BrowserOption {
	return func(b *Browser) {
		b.lookup = fn
	}
}

// NewBrowser builds a Browser querying IPv4 multicast by default.
func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{
		domain: DefaultDomain,
		round:  DefaultRound,
		expiry: DefaultExpiry,
		clock:  clock.Real{},
		logger: pslog.NoopLogger(),
		lookup: zeroconfLookup,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.expiry < b.round {
		b.expiry = b.round
	}
	b.logger = svcfields.WithSubsystem(b.logger, svcfields.Subsystem(svcfields.SysMDNS, "browse"))
	return b
}

func zeroconfLookup(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return err
	}
	return resolver.Browse(ctx, service, domain, entries)
}

type tracked struct {
	sighting Sighting
	lastSeen time.Time
}

// Browse starts browsing service until ctx is cancelled. The returned channel
// is closed when the browse loop exits.
func (b *Browser) Browse(ctx context.Context, service string) (<-chan Sighting, error) {
	if service == "" {
		service = ServiceType
	}
	out := make(chan Sighting, 16)
	go b.run(ctx, service, out)
	return out, nil
}

func (b *Browser) run(ctx context.Context, service string, out chan<- Sighting) {
	defer close(out)
	known := make(map[string]*tracked)
	emit := func(s Sighting) bool {
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for ctx.Err() == nil {
		roundCtx, cancel := context.WithCancel(ctx)
		entries := make(chan *zeroconf.ServiceEntry, 32)
		err := b.lookup(roundCtx, service, b.domain, entries)
		if err != nil {
			b.logger.Warn("mdns.browse.round_failed", "service", service, "error", err)
		}
		deadline := b.clock.After(b.round)
		ok := b.collect(ctx, entries, deadline, func(entry *zeroconf.ServiceEntry) bool {
			return b.observe(known, entry, emit)
		})
		cancel()
		if !ok {
			return
		}
		now := b.clock.Now()
		for instance, t := range known {
			if now.Sub(t.lastSeen) <= b.expiry {
				continue
			}
			delete(known, instance)
			lost := t.sighting
			lost.Lost = true
			b.logger.Debug("mdns.browse.lost", "instance", instance)
			if !emit(lost) {
				return
			}
		}
	}
}

// collect drains entries until the round deadline fires. Entries already
// buffered when the deadline fires are still observed.
func (b *Browser) collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, deadline <-chan time.Time, observe func(*zeroconf.ServiceEntry) bool) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case entry, open := <-entries:
			if !open {
				entries = nil
				continue
			}
			if !observe(entry) {
				return false
			}
		case <-deadline:
			for {
				select {
				case entry, open := <-entries:
					if !open {
						return true
					}
					if !observe(entry) {
						return false
					}
				default:
					return true
				}
			}
		}
	}
}

func (b *Browser) observe(known map[string]*tracked, entry *zeroconf.ServiceEntry, emit func(Sighting) bool) bool {
	if entry == nil || entry.Instance == "" {
		return true
	}
	s := sightingFromEntry(entry)
	now := b.clock.Now()
	prev, seen := known[s.Instance]
	if seen && prev.sighting.Port == s.Port && slices.Equal(prev.sighting.Addresses, s.Addresses) {
		prev.lastSeen = now
		return true
	}
	if seen && prev.sighting.Port != s.Port {
		lost := prev.sighting
		lost.Lost = true
		if !emit(lost) {
			return false
		}
	}
	known[s.Instance] = &tracked{sighting: s, lastSeen: now}
	b.logger.Debug("mdns.browse.found", "instance", s.Instance, "port", s.Port, "addresses", len(s.Addresses))
	return emit(s)
}

func sightingFromEntry(entry *zeroconf.ServiceEntry) Sighting {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		if ip.IsLinkLocalUnicast() {
			continue
		}
		addrs = append(addrs, ip.String())
	}
	return Sighting{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Addresses: addrs,
		Port:      entry.Port,
		Text:      slices.Clone(entry.Text),
	}
}
