package addrspace

import (
	"sync"

	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/svcfields"
	"pkt.systems/pslog"
)

// DefaultRootDescription describes the root node when none is supplied.
const DefaultRootDescription = "root node"

// Space owns an address tree and exposes path based mutation and lookup.
// All methods are safe for concurrent use.
type Space struct {
	mu     sync.RWMutex
	root   *Node
	logger pslog.Logger
}

// Option configures a Space.
type Option func(*Space)

// WithLogger logs mutations at debug level.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Space) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSpace returns an address space whose root carries description.
func NewSpace(description string, opts ...Option) *Space {
	if description == "" {
		description = DefaultRootDescription
	}
	root := NewNode("")
	root.SetOpts(Method{Description: description, Access: NoValue})
	s := &Space{root: root, logger: pslog.NoopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = svcfields.WithSubsystem(s.logger, svcfields.SysAddressSpace)
	return s
}

// Root returns the live root node. Callers must not mutate it or retain
// nodes reached through it across concurrent mutations.
func (s *Space) Root() *Node {
	return s.root
}

// Resolve returns the node at path, or nil when the path does not exist.
func (s *Space) Resolve(path string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.Resolve(path)
}

// Serialize resolves path and encodes the subtree under the read lock.
func (s *Space) Serialize(path string) (api.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.root.Resolve(path)
	if n == nil {
		return api.Node{}, false
	}
	return n.Serialize(), true
}

// AddMethod creates every missing segment of path and sets the metadata of
// the terminal node. Intermediate nodes become containers.
func (s *Space) AddMethod(path string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.root
	for _, segment := range SplitPath(path) {
		n = n.GetOrCreateChild(segment)
	}
	n.SetOpts(m)
	s.logger.Debug("addrspace.method.add", "path", n.FullPath(), "arguments", len(m.Arguments))
}

// RemoveMethod clears the node at path and prunes every ancestor left
// empty, stopping below the root. Missing paths are ignored.
func (s *Space) RemoveMethod(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.root.Resolve(path)
	if n == nil {
		return
	}
	fullPath := n.FullPath()
	n.SetOpts(Method{})
	pruned := 0
	for n.parent != nil && n.IsEmpty() {
		parent := n.parent
		parent.RemoveChild(n.name)
		pruned++
		n = parent
	}
	s.logger.Debug("addrspace.method.remove", "path", fullPath, "pruned", pruned)
}

// SetValue sets the value of argument index of the method at path. A
// missing path is ignored; an index outside the arguments is an error.
func (s *Space) SetValue(path string, index int, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.root.Resolve(path)
	if n == nil {
		return nil
	}
	return n.setArgumentValue(index, value)
}

// UnsetValue clears the value of argument index so the generated default
// is published again. A missing path is ignored.
func (s *Space) UnsetValue(path string, index int) error {
	return s.SetValue(path, index, nil)
}

// Methods returns the paths of every method in depth-first order.
func (s *Space) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for n := range Leaves(s.root) {
		paths = append(paths, n.FullPath())
	}
	return paths
}
