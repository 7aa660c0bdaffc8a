package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Attribute names used as JSON keys in node documents and as query selectors.
const (
	AttrFullPath    = "FULL_PATH"
	AttrContents    = "CONTENTS"
	AttrType        = "TYPE"
	AttrAccess      = "ACCESS"
	AttrRange       = "RANGE"
	AttrDescription = "DESCRIPTION"
	AttrTags        = "TAGS"
	AttrCritical    = "CRITICAL"
	AttrClipMode    = "CLIPMODE"
	AttrValue       = "VALUE"
	AttrHostInfo    = "HOST_INFO"
)

// HeaderCorrelationID carries the request correlation identifier in both directions.
const HeaderCorrelationID = "X-Correlation-Id"

var queryAttributes = []string{
	AttrFullPath,
	AttrContents,
	AttrType,
	AttrAccess,
	AttrRange,
	AttrDescription,
	AttrTags,
	AttrCritical,
	AttrClipMode,
	AttrValue,
	AttrHostInfo,
}

// QueryAttributes returns every attribute accepted as a GET query selector.
func QueryAttributes() []string {
	return slices.Clone(queryAttributes)
}

// ValidAttribute reports whether name is an accepted query selector.
func ValidAttribute(name string) bool {
	return slices.Contains(queryAttributes, name)
}

// Node is the OSCQuery JSON document describing one address node and,
// through Contents, its whole subtree.
type Node struct {
	// FullPath is the slash-joined path from the root, "/" for the root itself.
	FullPath string `json:"FULL_PATH"`
	// Contents maps child segment names to their documents in insertion order.
	Contents *Contents `json:"CONTENTS,omitempty"`
	// Type is the OSC type string; nil when the node carries no arguments.
	Type *string `json:"TYPE,omitempty"`
	// Access is the numeric access mode (0 none, 1 read, 2 write, 3 read/write).
	Access int `json:"ACCESS"`
	// Range holds one entry per argument, nil entries encode as null.
	Range []*RangeEntry `json:"RANGE,omitempty"`
	// Description is free-form text about the node.
	Description string `json:"DESCRIPTION,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"TAGS,omitempty"`
	// Critical marks methods whose messages must not be dropped.
	Critical bool `json:"CRITICAL,omitempty"`
	// ClipMode holds one entry per argument, nil entries encode as null.
	ClipMode []*ClipEntry `json:"CLIPMODE,omitempty"`
	// Value holds the current value per argument, nil entries encode as null.
	Value []any `json:"VALUE,omitempty"`
}

// Attribute returns the document field addressed by a query selector. The
// boolean is false when the node does not carry that field.
func (n *Node) Attribute(name string) (any, bool) {
	switch name {
	case AttrFullPath:
		return n.FullPath, true
	case AttrContents:
		if n.Contents == nil || n.Contents.Len() == 0 {
			return nil, false
		}
		return n.Contents, true
	case AttrType:
		if n.Type == nil {
			return nil, false
		}
		return *n.Type, true
	case AttrAccess:
		return n.Access, true
	case AttrRange:
		if len(n.Range) == 0 {
			return nil, false
		}
		return n.Range, true
	case AttrDescription:
		if n.Description == "" {
			return nil, false
		}
		return n.Description, true
	case AttrTags:
		if len(n.Tags) == 0 {
			return nil, false
		}
		return n.Tags, true
	case AttrCritical:
		if !n.Critical {
			return nil, false
		}
		return n.Critical, true
	case AttrClipMode:
		if len(n.ClipMode) == 0 {
			return nil, false
		}
		return n.ClipMode, true
	case AttrValue:
		if len(n.Value) == 0 {
			return nil, false
		}
		return n.Value, true
	}
	return nil, false
}

// Contents is an insertion-ordered map of child documents.
type Contents struct {
	names []string
	nodes map[string]*Node
}

// Set stores child under name, keeping the original position when name exists.
func (c *Contents) Set(name string, child *Node) {
	if c.nodes == nil {
		c.nodes = make(map[string]*Node)
	}
	if _, ok := c.nodes[name]; !ok {
		c.names = append(c.names, name)
	}
	c.nodes[name] = child
}

// Get returns the child document stored under name.
func (c *Contents) Get(name string) (*Node, bool) {
	if c == nil {
		return nil, false
	}
	n, ok := c.nodes[name]
	return n, ok
}

// Len returns the number of children.
func (c *Contents) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Names returns child names in insertion order.
func (c *Contents) Names() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.names)
}

// All iterates children in insertion order.
func (c *Contents) All() iter.Seq2[string, *Node] {
	return func(yield func(string, *Node) bool) {
		if c == nil {
			return
		}
		for _, name := range c.names {
			if !yield(name, c.nodes[name]) {
				return
			}
		}
	}
}

// MarshalJSON writes children as a JSON object preserving insertion order.
func (c *Contents) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.nodes[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping document order.
func (c *Contents) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("api: CONTENTS must be an object")
	}
	c.names = nil
	c.nodes = make(map[string]*Node)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("api: CONTENTS key is %T, want string", tok)
		}
		var child Node
		if err := dec.Decode(&child); err != nil {
			return fmt.Errorf("api: CONTENTS[%q]: %w", name, err)
		}
		c.Set(name, &child)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// RangeEntry describes the range of a single argument. Array-typed
// arguments use Elems, one entry per element, and encode as a JSON array.
type RangeEntry struct {
	// Min is the inclusive lower bound.
	Min *float64
	// Max is the inclusive upper bound.
	Max *float64
	// Vals enumerates the accepted values.
	Vals []any
	// Elems holds per-element entries for array-typed arguments.
	Elems []*RangeEntry
}

type rangeObject struct {
	Max  *float64 `json:"MAX,omitempty"`
	Min  *float64 `json:"MIN,omitempty"`
	Vals []any    `json:"VALS,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *RangeEntry) MarshalJSON() ([]byte, error) {
	if r.Elems != nil {
		return json.Marshal(r.Elems)
	}
	return json.Marshal(rangeObject{Max: r.Max, Min: r.Min, Vals: r.Vals})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RangeEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var elems []*RangeEntry
		if err := json.Unmarshal(data, &elems); err != nil {
			return err
		}
		if elems == nil {
			elems = []*RangeEntry{}
		}
		*r = RangeEntry{Elems: elems}
		return nil
	}
	var obj rangeObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = RangeEntry{Min: obj.Min, Max: obj.Max, Vals: obj.Vals}
	return nil
}

// ClipEntry describes the clip mode of a single argument. Array-typed
// arguments use Elems and encode as a JSON array.
type ClipEntry struct {
	// Mode is one of none, low, high or both.
	Mode string
	// Elems holds per-element entries for array-typed arguments.
	Elems []*ClipEntry
}

// MarshalJSON implements json.Marshaler.
func (c *ClipEntry) MarshalJSON() ([]byte, error) {
	if c.Elems != nil {
		return json.Marshal(c.Elems)
	}
	return json.Marshal(c.Mode)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ClipEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var elems []*ClipEntry
		if err := json.Unmarshal(data, &elems); err != nil {
			return err
		}
		if elems == nil {
			elems = []*ClipEntry{}
		}
		*c = ClipEntry{Elems: elems}
		return nil
	}
	var mode string
	if err := json.Unmarshal(data, &mode); err != nil {
		return err
	}
	*c = ClipEntry{Mode: mode}
	return nil
}
