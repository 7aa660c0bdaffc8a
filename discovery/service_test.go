package discovery

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/httpapi"
)

type headerLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *headerLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.ids)
}

func newRemoteHost(t *testing.T, space *addrspace.Space, seen *headerLog) (string, int) {
	t.Helper()
	handler := httpapi.New(httpapi.Config{
		Space:  space,
		Logger: pslog.NewStructured(context.Background(), io.Discard),
		HostInfo: func() api.HostInfo {
			return api.HostInfo{Name: "remote", Extensions: api.DefaultExtensions(), OSCIP: "10.0.0.5", OSCPort: 9000, OSCTransport: api.TransportUDP}
		},
		DisableHTTPTracing: true,
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	var root http.Handler = mux
	if seen != nil {
		root = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen.mu.Lock()
			seen.ids = append(seen.ids, r.Header.Get(api.HeaderCorrelationID))
			seen.mu.Unlock()
			mux.ServeHTTP(w, r)
		})
	}
	server := httptest.NewServer(root)
	t.Cleanup(server.Close)
	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestServiceNotReady(t *testing.T) {
	t.Parallel()

	svc := NewService("10.0.0.5", 9010, newFakeFetcher(remoteSpace(), 9000))
	if _, err := svc.HostInfo(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("HostInfo before update: %v", err)
	}
	if _, err := svc.Root(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Root before update: %v", err)
	}
	if _, err := svc.Flatten(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Flatten before update: %v", err)
	}
	if _, err := svc.ResolvePath("/tempo"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("ResolvePath before update: %v", err)
	}
	if svc.Ready() || svc.Key() != "10.0.0.5:9010" {
		t.Fatalf("unexpected state ready=%v key=%s", svc.Ready(), svc.Key())
	}
}

func TestServiceFlattenYieldsLeavesDepthFirst(t *testing.T) {
	t.Parallel()

	svc := NewService("10.0.0.5", 9010, newFakeFetcher(remoteSpace(), 9000))
	if err := svc.Update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}
	seq, err := svc.Flatten()
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var paths []string
	for ep := range seq {
		paths = append(paths, ep.Path)
	}
	want := []string{"/synth/cutoff", "/synth/gate", "/tempo"}
	if !slices.Equal(paths, want) {
		t.Fatalf("flatten paths %v, want %v", paths, want)
	}
	var again int
	for ep := range seq {
		if ep.Path == "/tempo" && ep.Access != addrspace.ReadOnly {
			t.Fatalf("unexpected access for /tempo: %v", ep.Access)
		}
		again++
	}
	if again != len(want) {
		t.Fatalf("second traversal yielded %d endpoints", again)
	}
	for range seq {
		break
	}
}

func TestServiceResolvePathMissing(t *testing.T) {
	t.Parallel()

	svc := NewService("10.0.0.5", 9010, newFakeFetcher(remoteSpace(), 9000))
	if err := svc.Update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}
	node, err := svc.ResolvePath("/synth/missing")
	if err != nil || node != nil {
		t.Fatalf("expected nil node, got %v %v", node, err)
	}
	node, err = svc.ResolvePath("//synth//")
	if err != nil || node == nil || node.FullPath() != "/synth" {
		t.Fatalf("expected /synth, got %v %v", node, err)
	}
}

func TestServiceUpdateAgainstHTTPHost(t *testing.T) {
	t.Parallel()

	seen := &headerLog{}
	host, port := newRemoteHost(t, remoteSpace(), seen)
	svc := NewService(host, port, NewHTTPFetcher(WithoutFetchTracing()))
	ctx := WithCorrelationID(context.Background(), "discover-1")
	if err := svc.Update(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}
	info, _ := svc.HostInfo()
	if info.Name != "remote" || info.OSCPort != 9000 {
		t.Fatalf("unexpected host info %+v", info)
	}
	node, _ := svc.ResolvePath("/tempo")
	if node == nil || node.Arguments()[0].Value != int64(120) {
		t.Fatalf("unexpected mirrored /tempo %+v", node)
	}
	if ids := seen.snapshot(); len(ids) != 2 || ids[0] != "discover-1" || ids[1] != "discover-1" {
		t.Fatalf("correlation ids not forwarded: %v", ids)
	}
}

func TestHTTPFetcherErrors(t *testing.T) {
	t.Parallel()

	host, port := newRemoteHost(t, remoteSpace(), nil)
	f := NewHTTPFetcher(WithoutFetchTracing())
	ctx := context.Background()

	_, err := f.FetchNode(ctx, host, port, "/nope")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusNotFound || fetchErr.Response.ErrorCode != "not_found" {
		t.Fatalf("unexpected fetch error %+v", fetchErr)
	}

	body, err := f.FetchAttribute(ctx, host, port, "/synth/gate", api.AttrValue)
	if err != nil || body != nil {
		t.Fatalf("suppressed VALUE should yield no body, got %q %v", body, err)
	}
	body, err = f.FetchAttribute(ctx, host, port, "/tempo", api.AttrValue)
	if err != nil || strings.TrimSpace(string(body)) != `{"VALUE":[120]}` {
		t.Fatalf("unexpected VALUE body %q %v", body, err)
	}

	_, err = f.FetchHostInfo(ctx, "127.0.0.1", 1)
	if !errors.As(err, &fetchErr) || fetchErr.Status != 0 || fetchErr.Err == nil {
		t.Fatalf("expected transport FetchError, got %v", err)
	}
}

func TestDocumentURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		address, path, attr string
		want                string
	}{
		{"10.0.0.5", "/", "", "http://10.0.0.5:9010/"},
		{"10.0.0.5", "synth/cutoff", "VALUE", "http://10.0.0.5:9010/synth/cutoff?VALUE"},
		{"2001:db8::5", "/", "HOST_INFO", "http://[2001:db8::5]:9010/?HOST_INFO"},
	}
	for _, tc := range cases {
		if got := DocumentURL(tc.address, 9010, tc.path, tc.attr); got != tc.want {
			t.Fatalf("DocumentURL(%q, %q, %q) = %q, want %q", tc.address, tc.path, tc.attr, got, tc.want)
		}
	}
}
