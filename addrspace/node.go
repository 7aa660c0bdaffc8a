package addrspace

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrDuplicateChild is returned when a child name is already taken.
var ErrDuplicateChild = errors.New("addrspace: duplicate child")

// ErrArgumentIndexOutOfRange is returned when an argument index does not
// address an argument of the method.
var ErrArgumentIndexOutOfRange = errors.New("addrspace: argument index out of range")

// Node is one path segment of the address tree. The parent pointer is only
// used to rebuild paths and prune upwards; parents own their children.
//
// Node is not safe for concurrent use; Space serializes access to the tree
// it owns.
type Node struct {
	name     string
	parent   *Node
	method   Method
	children map[string]*Node
	order    []string
}

// NewNode returns a detached node with empty metadata.
func NewNode(name string) *Node {
	return &Node{name: name}
}

// Name returns the path segment of n.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent node, nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Method returns a copy of the metadata carried by n.
func (n *Node) Method() Method {
	return n.method.clone()
}

// Access returns the access mode of n.
func (n *Node) Access() Access {
	return n.method.Access
}

// Arguments returns a copy of the arguments, nil for containers.
func (n *Node) Arguments() []Argument {
	return n.method.clone().Arguments
}

// SetOpts replaces all metadata of n. Children are not touched. Numeric
// values and enumerated range values are stored as int64 or float64
// according to the argument type.
func (n *Node) SetOpts(m Method) {
	n.method = m.clone()
	coerceArguments(n.method.Arguments)
}

// AddChild attaches child under name.
func (n *Node) AddChild(name string, child *Node) error {
	if child == nil {
		return fmt.Errorf("addrspace: nil child %q", name)
	}
	if _, ok := n.children[name]; ok {
		return fmt.Errorf("%w: %q under %s", ErrDuplicateChild, name, n.FullPath())
	}
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	child.name = name
	child.parent = n
	n.children[name] = child
	n.order = append(n.order, name)
	return nil
}

// GetOrCreateChild returns the child named name, creating an empty one when
// it does not exist yet.
func (n *Node) GetOrCreateChild(name string) *Node {
	if child, ok := n.children[name]; ok {
		return child
	}
	child := NewNode(name)
	_ = n.AddChild(name, child)
	return child
}

// RemoveChild detaches the child named name, if present.
func (n *Node) RemoveChild(name string) {
	child, ok := n.children[name]
	if !ok {
		return
	}
	delete(n.children, name)
	for i, existing := range n.order {
		if existing == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// Child returns the child named name or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// Children returns the children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// IsContainer reports whether n groups children without being a method.
func (n *Node) IsContainer() bool {
	return n.method.Arguments == nil && len(n.children) > 0
}

// IsEmpty reports whether n has neither arguments nor children.
func (n *Node) IsEmpty() bool {
	return n.method.Arguments == nil && len(n.children) == 0
}

// FullPath rebuilds the path of n from its ancestors, "/" for a root.
func (n *Node) FullPath() string {
	if n.parent == nil {
		return "/"
	}
	var segments []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segments = append(segments, cur.name)
	}
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	return b.String()
}

// Resolve walks path from n. Empty segments are ignored, so "", "/" and
// "//" all resolve to n itself. It returns nil when a segment is missing.
func (n *Node) Resolve(path string) *Node {
	cur := n
	for _, segment := range SplitPath(path) {
		cur = cur.children[segment]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// SplitPath splits path on "/" and drops empty segments.
func SplitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// Leaves yields every method below and including n, depth first, in child
// insertion order. Containers are traversed but not yielded.
func Leaves(n *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		walkLeaves(n, yield)
	}
}

func walkLeaves(n *Node, yield func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if n.method.Arguments != nil {
		if !yield(n) {
			return false
		}
	}
	for _, name := range n.order {
		if !walkLeaves(n.children[name], yield) {
			return false
		}
	}
	return true
}

func (n *Node) setArgumentValue(index int, value any) error {
	if index < 0 || index >= len(n.method.Arguments) {
		return fmt.Errorf("%w: %s has %d arguments, index %d", ErrArgumentIndexOutOfRange, n.FullPath(), len(n.method.Arguments), index)
	}
	n.method.Arguments[index].Value = CoerceValue(n.method.Arguments[index].Type, value)
	return nil
}
