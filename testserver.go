package oscquery

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// TestServer wraps a running Server with convenient handles for tests.
type TestServer struct {
	Server  *Server
	BaseURL string
	Config  Config

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					if strings.Contains(fmt.Sprint(r), "Log in goroutine after") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a structured logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(context.Background(), writer)
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}

// TestServerOption customises NewTestServer.
type TestServerOption func(*testServerOptions)

type testServerOptions struct {
	cfg        Config
	serverOpts []Option
}

// WithTestConfig replaces the base configuration.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
	}
}

// WithTestConfigFunc mutates the configuration before the server starts.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			fn(&o.cfg)
		}
	}
}

// WithTestServerOptions forwards options to NewServer.
func WithTestServerOptions(opts ...Option) TestServerOption {
	return func(o *testServerOptions) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// NewTestServer starts a loopback server on a kernel-assigned port with mDNS
// disabled. Cancelling ctx stops the server.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	o := testServerOptions{
		cfg: Config{
			BindAddress: "127.0.0.1",
			DisableMDNS: true,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	srv, stop, err := StartServer(ctx, o.cfg, o.serverOpts...)
	if err != nil {
		return nil, err
	}
	addr, ok := srv.ListenerAddr().(*net.TCPAddr)
	if !ok {
		_ = stop(context.Background())
		return nil, fmt.Errorf("testserver: unexpected listener address %v", srv.ListenerAddr())
	}
	host := o.cfg.BindAddress
	if host == "" {
		host = "127.0.0.1"
	}
	return &TestServer{
		Server:  srv,
		BaseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port)),
		Config:  srv.cfg,
		stop:    stop,
	}, nil
}

// StartTestServer is NewTestServer for tests; the server stops on cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	opts = append([]TestServerOption{WithTestServerOptions(WithLogger(NewTestingLogger(t, pslog.DebugLevel)))}, opts...)
	ts, err := NewTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ts.Stop(ctx); err != nil {
			t.Errorf("stop test server: %v", err)
		}
	})
	return ts
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	return ts.stop(ctx)
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// Port returns the bound HTTP port.
func (ts *TestServer) Port() int {
	if ts == nil || ts.Server == nil {
		return 0
	}
	return ts.Server.HTTPPort()
}
