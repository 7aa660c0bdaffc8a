package addrspace

import (
	"slices"

	"pkt.systems/oscquery/api"
)

// Serialize encodes n and its subtree as an OSCQuery node document.
//
// ACCESS is always present; a node whose access was never set reports
// NoValue. RANGE and CLIPMODE carry one entry per argument and are omitted
// when no argument has one; arguments without an entry encode as null. Other
// OSCQuery hosts drop the whole key when only some arguments have an entry,
// so documents from this encoder can carry RANGE or CLIPMODE where theirs do
// not. VALUE is only published for readable methods.
func (n *Node) Serialize() api.Node {
	doc := api.Node{
		FullPath:    n.FullPath(),
		Access:      int(n.method.Access),
		Description: n.method.Description,
		Tags:        slices.Clone(n.method.Tags),
		Critical:    n.method.Critical,
	}
	if args := n.method.Arguments; args != nil {
		types := make([]Type, len(args))
		for i, arg := range args {
			types[i] = arg.Type
		}
		typeString := FormatTypeString(types)
		doc.Type = &typeString
		doc.Range = aligned(args, func(a Argument) *api.RangeEntry { return rangeEntry(a.Range) }, nonNil[api.RangeEntry])
		doc.ClipMode = aligned(args, func(a Argument) *api.ClipEntry { return clipEntry(a.Clip) }, nonNil[api.ClipEntry])
		if n.method.Access.Readable() {
			doc.Value = aligned(args, EffectiveValue, func(v any) bool { return v != nil })
		}
	}
	if len(n.order) > 0 {
		doc.Contents = &api.Contents{}
		for _, name := range n.order {
			child := n.children[name].Serialize()
			doc.Contents.Set(name, &child)
		}
	}
	return doc
}

// aligned builds one entry per argument and returns nil unless at least
// one entry is present.
func aligned[T any](args []Argument, entry func(Argument) T, present func(T) bool) []T {
	out := make([]T, len(args))
	found := false
	for i, arg := range args {
		out[i] = entry(arg)
		if present(out[i]) {
			found = true
		}
	}
	if !found {
		return nil
	}
	return out
}

func nonNil[T any](v *T) bool {
	return v != nil
}

func rangeEntry(r *Range) *api.RangeEntry {
	if r == nil {
		return nil
	}
	if r.Elems != nil {
		elems := make([]*api.RangeEntry, len(r.Elems))
		for i, e := range r.Elems {
			elems[i] = rangeEntry(e)
		}
		return &api.RangeEntry{Elems: elems}
	}
	return &api.RangeEntry{Min: r.Min, Max: r.Max, Vals: slices.Clone(r.Vals)}
}

func clipEntry(c *Clip) *api.ClipEntry {
	if c == nil {
		return nil
	}
	if c.Elems != nil {
		elems := make([]*api.ClipEntry, len(c.Elems))
		for i, e := range c.Elems {
			elems[i] = clipEntry(e)
		}
		return &api.ClipEntry{Elems: elems}
	}
	return &api.ClipEntry{Mode: string(c.Mode)}
}
