// Package discovery finds OSCQuery hosts on the local network and mirrors
// their address spaces.
//
// A Discovery consumes announcements from a Browser. Each announced address
// becomes a candidate that is queried for its root document and HOST_INFO;
// candidates whose queries succeed are registered as Ready services and
// reported to subscribers as UpEvent. Withdrawn services are reported as
// DownEvent. Failed queries are reported as ErrorEvent and never registered.
package discovery

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/oscquery/internal/correlation"
	"pkt.systems/oscquery/internal/svcfields"
)

// ErrBrowserClosed is reported when the browser stops producing
// announcements while discovery is still running.
var ErrBrowserClosed = errors.New("discovery: browser closed")

type candidateState int

const (
	stateQuerying candidateState = iota + 1
	stateReady
)

type candidate struct {
	state candidateState
	gen   uint64
}

type queryResult struct {
	key     string
	gen     uint64
	service *Service
	err     error
}

// Discovery maintains the registry of Ready services.
type Discovery struct {
	browser     Browser
	fetcher     Fetcher
	serviceType string
	logger      pslog.Logger
	metrics     *pipelineMetrics

	mu       sync.RWMutex
	services map[string]*Service
	order    []string

	subsMu sync.Mutex
	subs   map[string]*subscriber

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	workers sync.WaitGroup
}

// Option customises a Discovery.
type Option func(*Discovery)

// WithBrowser replaces the multicast DNS browser.
func WithBrowser(b Browser) Option {
	return func(d *Discovery) {
		if b != nil {
			d.browser = b
		}
	}
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(d *Discovery) {
		if f != nil {
			d.fetcher = f
		}
	}
}

// WithServiceType overrides the browsed DNS-SD type.
func WithServiceType(serviceType string) Option {
	return func(d *Discovery) {
		if serviceType != "" {
			d.serviceType = serviceType
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger pslog.Logger) Option {
	return func(d *Discovery) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCorrelationID tags every fetch issued under ctx with id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return correlation.Set(ctx, id)
}

// New constructs a Discovery. Nothing runs until Start.
func New(opts ...Option) *Discovery {
	d := &Discovery{
		serviceType: ServiceType,
		logger:      pslog.NoopLogger(),
		services:    make(map[string]*Service),
		subs:        make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = svcfields.WithSubsystem(d.logger, svcfields.Subsystem(svcfields.SysDiscovery, "pipeline"))
	if d.browser == nil {
		d.browser = NewMDNSBrowser(MDNSConfig{Logger: d.logger})
	}
	if d.fetcher == nil {
		d.fetcher = NewHTTPFetcher(WithFetchLogger(d.logger))
	}
	d.metrics = newPipelineMetrics(d.logger)
	return d
}

// Start begins browsing. Calling Start on a running Discovery is a no-op.
func (d *Discovery) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(correlation.Ensure(ctx))
	announcements, err := d.browser.Browse(runCtx, d.serviceType)
	if err != nil {
		cancel()
		return err
	}
	d.cancel = cancel
	d.done = make(chan struct{})
	d.logger.Info("discovery.start", "service_type", d.serviceType)
	go d.run(runCtx, announcements, d.done)
	return nil
}

// Stop halts browsing, waits for in-flight queries to exit and closes every
// subscription once its queued events have been delivered. The registry is
// kept. Calling Stop on a stopped Discovery is a no-op.
func (d *Discovery) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.workers.Wait()
	d.cancel = nil
	d.done = nil
	d.subsMu.Lock()
	for id, sub := range d.subs {
		sub.finish()
		delete(d.subs, id)
	}
	d.subsMu.Unlock()
	d.logger.Info("discovery.stop")
}

// Subscribe returns a channel carrying every subsequent event in order, and a
// cancel func that closes it.
func (d *Discovery) Subscribe() (<-chan Event, func()) {
	sub := newSubscriber(xid.New().String())
	d.subsMu.Lock()
	d.subs[sub.id] = sub
	d.subsMu.Unlock()
	d.logger.Debug("discovery.subscribe", "subscription", sub.id)
	return sub.out, func() {
		d.subsMu.Lock()
		delete(d.subs, sub.id)
		d.subsMu.Unlock()
		sub.cancel()
	}
}

// Services returns a snapshot of Ready services in registration order.
func (d *Discovery) Services() []*Service {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Service, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.services[key])
	}
	return out
}

// Service looks up a Ready service by address and port.
func (d *Discovery) Service(address string, port int) (*Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.services[serviceKey(address, port)]
	return svc, ok
}

// QueryService queries address:port once without registering it.
func (d *Discovery) QueryService(ctx context.Context, address string, port int) (*Service, error) {
	svc := NewService(address, port, d.fetcher)
	if err := svc.Update(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (d *Discovery) publish(ev Event) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, sub := range d.subs {
		sub.push(ev)
	}
}

// run owns the candidate table. Registry writes happen only here.
func (d *Discovery) run(ctx context.Context, announcements <-chan Announcement, done chan<- struct{}) {
	defer close(done)
	candidates := make(map[string]*candidate)
	d.mu.RLock()
	for key := range d.services {
		candidates[key] = &candidate{state: stateReady}
	}
	d.mu.RUnlock()
	results := make(chan queryResult)
	var gen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-announcements:
			if !ok {
				announcements = nil
				d.logger.Warn("discovery.browser.closed")
				d.publish(ErrorEvent{Err: ErrBrowserClosed})
				continue
			}
			switch a.Kind {
			case AnnounceUp:
				if a.Protocol != "tcp" {
					d.logger.Debug("discovery.announce.ignored", "instance", a.Instance, "protocol", a.Protocol)
					continue
				}
				for _, addr := range a.Addresses {
					key := serviceKey(addr, a.Port)
					if _, busy := candidates[key]; busy {
						continue
					}
					gen++
					candidates[key] = &candidate{state: stateQuerying, gen: gen}
					d.query(ctx, key, gen, addr, a.Port, results)
				}
			case AnnounceDown:
				for _, addr := range a.Addresses {
					d.withdraw(ctx, candidates, serviceKey(addr, a.Port))
				}
			}
		case r := <-results:
			d.settle(ctx, candidates, r)
		}
	}
}

func (d *Discovery) query(ctx context.Context, key string, gen uint64, address string, port int, results chan<- queryResult) {
	fetchID := xid.New().String()
	d.logger.Debug("discovery.query.start", "service", key, "fetch_id", fetchID)
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		svc := NewService(address, port, d.fetcher)
		err := svc.Update(ctx)
		if err != nil {
			d.logger.Debug("discovery.query.failed", "service", key, "fetch_id", fetchID, "error", err)
		}
		select {
		case results <- queryResult{key: key, gen: gen, service: svc, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (d *Discovery) settle(ctx context.Context, candidates map[string]*candidate, r queryResult) {
	c, ok := candidates[r.key]
	if !ok || c.gen != r.gen || c.state != stateQuerying {
		d.logger.Debug("discovery.query.stale", "service", r.key)
		d.metrics.recordStale(ctx)
		return
	}
	if r.err != nil {
		delete(candidates, r.key)
		d.metrics.recordFetchError(ctx)
		d.logger.Warn("discovery.service.failed", "service", r.key, "error", r.err)
		d.publish(ErrorEvent{Address: r.service.Address(), Port: r.service.Port(), Err: r.err})
		return
	}
	c.state = stateReady
	d.mu.Lock()
	d.services[r.key] = r.service
	d.order = append(d.order, r.key)
	d.mu.Unlock()
	d.metrics.recordTransition(ctx, "up")
	d.logger.Info("discovery.service.up", "service", r.key)
	d.publish(UpEvent{Service: r.service})
}

func (d *Discovery) withdraw(ctx context.Context, candidates map[string]*candidate, key string) {
	c, ok := candidates[key]
	if !ok {
		return
	}
	delete(candidates, key)
	if c.state != stateReady {
		d.logger.Debug("discovery.query.abandoned", "service", key)
		return
	}
	d.mu.Lock()
	svc := d.services[key]
	delete(d.services, key)
	d.order = slices.DeleteFunc(d.order, func(k string) bool { return k == key })
	d.mu.Unlock()
	if svc == nil {
		return
	}
	d.metrics.recordTransition(ctx, "down")
	d.logger.Info("discovery.service.down", "service", key)
	d.publish(DownEvent{Service: svc})
}
