package addrspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"pkt.systems/oscquery/api"
)

// Decode rebuilds a detached tree from a node document. The returned root is
// named after the last segment of FULL_PATH.
//
// Decoding is lenient: unknown type characters are skipped, surplus RANGE,
// CLIPMODE and VALUE entries are ignored and null entries leave the
// argument without that field.
func Decode(doc *api.Node) (*Node, error) {
	if doc == nil {
		return nil, errors.New("addrspace: decode nil document")
	}
	name := ""
	if segments := SplitPath(doc.FullPath); len(segments) > 0 {
		name = segments[len(segments)-1]
	}
	root := NewNode(name)
	if err := decodeInto(root, doc); err != nil {
		return nil, err
	}
	return root, nil
}

// DecodeJSON parses a node document and decodes it.
func DecodeJSON(data []byte) (*Node, error) {
	var doc api.Node
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("addrspace: parse node document: %w", err)
	}
	return Decode(&doc)
}

func decodeInto(n *Node, doc *api.Node) error {
	m := Method{
		Description: doc.Description,
		Access:      AccessFromCode(doc.Access),
		Tags:        slices.Clone(doc.Tags),
		Critical:    doc.Critical,
	}
	if doc.Type != nil {
		types := ParseTypeString(*doc.Type)
		m.Arguments = make([]Argument, len(types))
		for i, t := range types {
			arg := Argument{Type: t}
			if i < len(doc.Range) {
				arg.Range = decodeRange(doc.Range[i])
				coerceRange(t, arg.Range)
			}
			if i < len(doc.ClipMode) {
				arg.Clip = decodeClip(doc.ClipMode[i])
			}
			if i < len(doc.Value) {
				arg.Value = CoerceValue(t, doc.Value[i])
			}
			m.Arguments[i] = arg
		}
	}
	n.method = m
	for name, childDoc := range doc.Contents.All() {
		if childDoc == nil {
			continue
		}
		child := NewNode(name)
		if err := decodeInto(child, childDoc); err != nil {
			return err
		}
		if err := n.AddChild(name, child); err != nil {
			return err
		}
	}
	return nil
}

func decodeRange(e *api.RangeEntry) *Range {
	if e == nil {
		return nil
	}
	if e.Elems != nil {
		elems := make([]*Range, len(e.Elems))
		for i, sub := range e.Elems {
			elems[i] = decodeRange(sub)
		}
		return &Range{Elems: elems}
	}
	return &Range{Min: e.Min, Max: e.Max, Vals: slices.Clone(e.Vals)}
}

func decodeClip(e *api.ClipEntry) *Clip {
	if e == nil {
		return nil
	}
	if e.Elems != nil {
		elems := make([]*Clip, len(e.Elems))
		for i, sub := range e.Elems {
			elems[i] = decodeClip(sub)
		}
		return &Clip{Elems: elems}
	}
	return &Clip{Mode: ClipMode(e.Mode)}
}
