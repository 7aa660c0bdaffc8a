package oscquery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/httpapi"
	"pkt.systems/oscquery/internal/manifest"
	"pkt.systems/oscquery/internal/mdns"
	"pkt.systems/oscquery/internal/svcfields"
)

// FilterDecision is returned by a Filter. Deny answers 404 without touching
// the tree; a non-nil Space answers from that space instead of the server's.
type FilterDecision struct {
	Deny  bool
	Space *addrspace.Space
}

// Filter inspects a query before the path is resolved. HOST_INFO queries are
// never filtered.
type Filter func(*http.Request) FilterDecision

// Server publishes an address space over HTTP and mDNS.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	space     *addrspace.Space
	httpSrv   *http.Server
	telemetry *telemetry
	onError   func(error)

	mu           sync.Mutex
	listener     net.Listener
	advert       *mdns.Advertisement
	manifest     *manifest.Manifest
	watchCancel  context.CancelFunc
	watchDone    chan struct{}
	shutdown     bool
	lastServeErr error
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger  pslog.Logger
	Space   *addrspace.Space
	Filter  Filter
	OnError func(error)
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithSpace serves an existing address space instead of a fresh one.
func WithSpace(s *addrspace.Space) Option {
	return func(o *options) {
		o.Space = s
	}
}

// WithFilter installs a per-request filter.
func WithFilter(f Filter) Option {
	return func(o *options) {
		o.Filter = f
	}
}

// WithErrorHandler receives non-fatal runtime errors such as a failed mDNS
// advertisement.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.OnError = fn
	}
}

// NewServer constructs a server according to cfg.
// Example:
//
//	srv, err := oscquery.NewServer(oscquery.Config{ServiceName: "Synth", OSCPort: 9000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv.AddMethod("/synth/cutoff", addrspace.Method{Access: addrspace.ReadWrite, Arguments: []addrspace.Argument{{Type: addrspace.Float}}})
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	space := o.Space
	if space == nil {
		space = addrspace.NewSpace(cfg.RootDescription, addrspace.WithLogger(logger))
	}
	s := &Server{
		cfg:     cfg,
		logger:  svcfields.WithSubsystem(logger, svcfields.SysServer),
		space:   space,
		onError: o.OnError,
		readyCh: make(chan struct{}),
	}
	if cfg.ManifestPath != "" {
		m, err := manifest.Load(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		published, _, err := manifest.Apply(space, m, nil)
		if err != nil {
			return nil, err
		}
		s.manifest = m
		s.logger.Info("manifest.loaded", "path", cfg.ManifestPath, "methods", published)
	}
	telemetry, err := startTelemetry(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	s.telemetry = telemetry

	handler := httpapi.New(httpapi.Config{
		Space:              space,
		HostInfo:           s.HostInfo,
		Filter:             adaptFilter(o.Filter),
		Logger:             logger,
		DisableHTTPTracing: cfg.DisableHTTPTracing,
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	return s, nil
}

func adaptFilter(f Filter) httpapi.Filter {
	if f == nil {
		return nil
	}
	return func(r *http.Request) httpapi.Decision {
		d := f(r)
		out := httpapi.Decision{Deny: d.Deny}
		if d.Space != nil {
			out.Space = d.Space
		}
		return out
	}
}

// Space returns the served address space.
func (s *Server) Space() *addrspace.Space {
	return s.space
}

// AddMethod publishes m at path, creating intermediate containers.
func (s *Server) AddMethod(path string, m addrspace.Method) {
	s.space.AddMethod(path, m)
}

// RemoveMethod withdraws the method at path and prunes empty ancestors.
func (s *Server) RemoveMethod(path string) {
	s.space.RemoveMethod(path)
}

// SetValue sets argument index of the method at path.
func (s *Server) SetValue(path string, index int, value any) error {
	return s.space.SetValue(path, index, value)
}

// UnsetValue clears argument index of the method at path.
func (s *Server) UnsetValue(path string, index int) error {
	return s.space.UnsetValue(path, index)
}

// Resolve returns the live node at path, or nil.
func (s *Server) Resolve(path string) *addrspace.Node {
	return s.space.Resolve(path)
}

// Methods lists the published method paths.
func (s *Server) Methods() []string {
	return s.space.Methods()
}

// Handler returns the HTTP handler so the query surface can be mounted in an
// existing mux.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// HTTPPort returns the bound HTTP port, or the configured one before Start.
func (s *Server) HTTPPort() int {
	if addr, ok := s.ListenerAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.cfg.HTTPPort
}

// HostInfo returns the HOST_INFO document.
func (s *Server) HostInfo() api.HostInfo {
	info := api.HostInfo{
		Name:         s.cfg.HostName,
		Extensions:   api.DefaultExtensions(),
		OSCIP:        s.cfg.OSCIP,
		OSCPort:      s.cfg.OSCPort,
		OSCTransport: s.cfg.OSCTransport,
		WSIP:         s.cfg.WSIP,
		WSPort:       s.cfg.WSPort,
	}
	if info.OSCIP == "" {
		info.OSCIP = s.cfg.BindAddress
	}
	if info.OSCIP == "" {
		info.OSCIP = DefaultOSCIP
	}
	if info.OSCPort == 0 {
		info.OSCPort = s.HTTPPort()
	}
	return info
}

// Start binds the listener, advertises the service and serves requests. It
// blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen (%s): %w", addr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info("listening", "address", ln.Addr().String(), "port", port, "allocated", s.cfg.HTTPPort == 0)
	s.advertise(port)
	s.startManifestWatch()
	s.signalReady()

	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

func (s *Server) advertise(port int) {
	if s.cfg.DisableMDNS {
		return
	}
	ips, err := mdns.PublishIPs(s.cfg.BindAddress)
	if err == nil {
		var advert *mdns.Advertisement
		advert, err = mdns.Advertise(mdns.AdvertiseConfig{
			Instance: s.cfg.ServiceName,
			Domain:   s.cfg.MDNSDomain,
			IPs:      ips,
			Port:     port,
			Text:     []string{"txtvers=1"},
		}, s.logger)
		if err == nil {
			s.mu.Lock()
			s.advert = advert
			s.mu.Unlock()
			return
		}
	}
	s.logger.Warn("mdns.advertise.failed", "error", err)
	if s.onError != nil {
		s.onError(fmt.Errorf("mdns advertise: %w", err))
	}
}

func (s *Server) startManifestWatch() {
	if !s.cfg.WatchManifest {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.watchCancel = cancel
	s.watchDone = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		err := manifest.Watch(ctx, s.cfg.ManifestPath, manifest.DefaultDebounce, s.logger, s.reloadManifest)
		if err != nil {
			s.logger.Warn("manifest.watch.failed", "error", err)
			if s.onError != nil {
				s.onError(err)
			}
		}
	}()
}

func (s *Server) reloadManifest(m *manifest.Manifest) {
	s.mu.Lock()
	prev := s.manifest
	s.mu.Unlock()
	published, removed, err := manifest.Apply(s.space, m, prev)
	if err != nil {
		s.logger.Warn("manifest.apply.failed", "error", err)
		return
	}
	s.mu.Lock()
	s.manifest = m
	s.mu.Unlock()
	s.logger.Info("manifest.applied", "published", published, "removed", removed)
}

// Shutdown withdraws the advertisement and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	advert := s.advert
	s.advert = nil
	watchCancel, watchDone := s.watchCancel, s.watchDone
	s.mu.Unlock()

	advert.Close()
	if watchCancel != nil {
		watchCancel()
		<-watchDone
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.telemetry != nil {
		telemetryCtx := shutdownCtx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
	}
	s.logger.Info("shutdown.complete")
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the listener is bound or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Advertised reports whether the mDNS advertisement is live.
func (s *Server) Advertised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advert != nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the HTTP server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a server in a background goroutine and waits until it
// is ready. It returns the running server alongside a stop function that
// gracefully shuts it down. Cancelling ctx also stops the server.
// Example:
//
//	srv, stop, err := oscquery.StartServer(ctx, oscquery.Config{ServiceName: "Synth"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	readyCtx, cancelReady := context.WithCancel(ctx)
	defer cancelReady()
	go func() {
		select {
		case err := <-errCh:
			errCh <- err
			cancelReady()
		case <-readyCtx.Done():
		}
	}()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		_ = srv.Shutdown(context.Background())
		if startErr := <-errCh; startErr != nil {
			return nil, nil, startErr
		}
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	go func() {
		<-ctx.Done()
		_ = stop(context.Background())
	}()
	return srv, stop, nil
}
