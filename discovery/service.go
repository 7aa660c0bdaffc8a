package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
)

// ErrNotReady is returned when a service's host info or tree is read before
// the first successful Update.
var ErrNotReady = errors.New("discovery: service not ready")

// Endpoint is the method description of one leaf in a mirrored tree.
type Endpoint struct {
	Path string
	addrspace.Method
}

// Service mirrors a remote OSCQuery host. Address and Port identify it.
type Service struct {
	address string
	port    int
	fetcher Fetcher

	mu       sync.RWMutex
	hostInfo *api.HostInfo
	root     *addrspace.Node
	updated  time.Time
}

// NewService returns an unpopulated Service for address:port.
func NewService(address string, port int, fetcher Fetcher) *Service {
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	return &Service{address: address, port: port, fetcher: fetcher}
}

// Address returns the host address.
func (s *Service) Address() string { return s.address }

// Port returns the HTTP port.
func (s *Service) Port() int { return s.port }

// Key returns the registry key "address:port".
func (s *Service) Key() string { return serviceKey(s.address, s.port) }

func serviceKey(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// Ready reports whether Update has succeeded at least once.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root != nil
}

// UpdatedAt returns the time of the last successful Update.
func (s *Service) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// HostInfo returns the host info snapshot.
func (s *Service) HostInfo() (api.HostInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hostInfo == nil {
		return api.HostInfo{}, fmt.Errorf("%w: %s host info", ErrNotReady, s.Key())
	}
	return *s.hostInfo, nil
}

// Root returns the mirrored tree. The tree is replaced, never mutated, by
// later updates.
func (s *Service) Root() (*addrspace.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == nil {
		return nil, fmt.Errorf("%w: %s tree", ErrNotReady, s.Key())
	}
	return s.root, nil
}

// Update fetches the root document and HOST_INFO concurrently. Both must
// succeed before either is published.
func (s *Service) Update(ctx context.Context) error {
	var (
		doc  *api.Node
		info *api.HostInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = s.fetcher.FetchNode(gctx, s.address, s.port, "/")
		return err
	})
	g.Go(func() error {
		var err error
		info, err = s.fetcher.FetchHostInfo(gctx, s.address, s.port)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("discovery: update %s: %w", s.Key(), err)
	}
	root, err := addrspace.Decode(doc)
	if err != nil {
		return fmt.Errorf("discovery: decode %s: %w", s.Key(), err)
	}
	s.mu.Lock()
	s.root = root
	s.hostInfo = info
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}

// Flatten yields the method description of every leaf in the mirrored tree,
// depth first. The sequence may be ranged over any number of times.
func (s *Service) Flatten() (iter.Seq[Endpoint], error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	return func(yield func(Endpoint) bool) {
		for leaf := range addrspace.Leaves(root) {
			if !yield(Endpoint{Path: leaf.FullPath(), Method: leaf.Method()}) {
				return
			}
		}
	}, nil
}

// ResolvePath walks the mirrored tree. A missing path yields a nil node and
// no error.
func (s *Service) ResolvePath(path string) (*addrspace.Node, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	return root.Resolve(path), nil
}
