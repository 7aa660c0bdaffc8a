package addrspace

import (
	"encoding/json"
	"reflect"
	"slices"
	"testing"
)

func mustJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSerializeRangedFloat(t *testing.T) {
	t.Parallel()
	s := newTestSpace()
	s.AddMethod("/foo", Method{
		Access:    ReadOnly,
		Arguments: []Argument{{Type: Float, Range: MinMax(0, 100)}},
	})
	doc, ok := s.Serialize("/foo")
	if !ok {
		t.Fatalf("serialize /foo failed")
	}
	got := mustJSON(t, &doc)
	want := map[string]any{
		"FULL_PATH": "/foo",
		"ACCESS":    float64(1),
		"TYPE":      "f",
		"RANGE":     []any{map[string]any{"MIN": float64(0), "MAX": float64(100)}},
		"VALUE":     []any{float64(0)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("document mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestSerializeContainerWithEnumeratedString(t *testing.T) {
	t.Parallel()
	s := newTestSpace()
	s.AddMethod("/baz/qux", Method{
		Access:    ReadWrite,
		Arguments: []Argument{{Type: String, Range: Values("empty", "half-full", "full")}},
	})
	doc, ok := s.Serialize("/baz")
	if !ok {
		t.Fatalf("serialize /baz failed")
	}
	if doc.Type != nil {
		t.Fatalf("container must not carry TYPE")
	}
	if doc.Access != int(NoValue) {
		t.Fatalf("container ACCESS: got %d", doc.Access)
	}
	if !slices.Equal(doc.Contents.Names(), []string{"qux"}) {
		t.Fatalf("contents: %v", doc.Contents.Names())
	}
	qux, _ := doc.Contents.Get("qux")
	if qux.FullPath != "/baz/qux" || *qux.Type != "s" {
		t.Fatalf("child document: %+v", qux)
	}
	if !reflect.DeepEqual(qux.Value, []any{"empty"}) {
		t.Fatalf("default string value should be first enumerated value, got %v", qux.Value)
	}
}

func TestSerializeValueSuppression(t *testing.T) {
	t.Parallel()
	for _, access := range []Access{NoValue, WriteOnly} {
		n := NewNode("x")
		n.SetOpts(Method{Access: access, Arguments: []Argument{{Type: Int, Value: int64(7)}}})
		if doc := n.Serialize(); doc.Value != nil {
			t.Fatalf("access %s must not publish VALUE, got %v", access, doc.Value)
		}
	}
	for _, access := range []Access{ReadOnly, ReadWrite} {
		n := NewNode("x")
		n.SetOpts(Method{Access: access, Arguments: []Argument{{Type: Int, Value: int64(7)}}})
		if doc := n.Serialize(); !reflect.DeepEqual(doc.Value, []any{int64(7)}) {
			t.Fatalf("access %s should publish VALUE, got %v", access, doc.Value)
		}
	}
	n := NewNode("x")
	n.SetOpts(Method{Access: ReadOnly, Arguments: []Argument{{Type: Blob}, {Type: Nil}}})
	if doc := n.Serialize(); doc.Value != nil {
		t.Fatalf("all-null VALUE must be omitted, got %v", doc.Value)
	}
}

func TestSerializeRangeAlignment(t *testing.T) {
	t.Parallel()
	n := NewNode("x")
	n.SetOpts(Method{Arguments: []Argument{{Type: Int}, {Type: Float, Range: MinMax(-1, 1), Clip: ClipTo(ClipBoth)}}})
	doc := n.Serialize()
	if len(doc.Range) != 2 || doc.Range[0] != nil || doc.Range[1] == nil {
		t.Fatalf("RANGE not aligned: %+v", doc.Range)
	}
	if len(doc.ClipMode) != 2 || doc.ClipMode[0] != nil || doc.ClipMode[1].Mode != "both" {
		t.Fatalf("CLIPMODE not aligned: %+v", doc.ClipMode)
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["RANGE"]) != `[null,{"MAX":1,"MIN":-1}]` {
		t.Fatalf("RANGE json: %s", raw["RANGE"])
	}
	if string(raw["CLIPMODE"]) != `[null,"both"]` {
		t.Fatalf("CLIPMODE json: %s", raw["CLIPMODE"])
	}

	bare := NewNode("y")
	bare.SetOpts(Method{Arguments: []Argument{{Type: Int}, {Type: Float}}})
	if doc := bare.Serialize(); doc.Range != nil || doc.ClipMode != nil {
		t.Fatalf("RANGE/CLIPMODE must be omitted when no argument has one")
	}
}

func TestSerializeLeafWithoutAccess(t *testing.T) {
	t.Parallel()
	n := NewNode("x")
	n.SetOpts(Method{Arguments: []Argument{{Type: Int}}})
	doc := n.Serialize()
	got := mustJSON(t, &doc)
	if got["ACCESS"] != float64(0) {
		t.Fatalf("leaf without explicit access should report NoValue, got %v", got["ACCESS"])
	}
	if _, ok := got["VALUE"]; ok {
		t.Fatalf("NoValue leaf must not publish VALUE")
	}
}

func TestSerializeZeroArityMethod(t *testing.T) {
	t.Parallel()
	n := NewNode("reset")
	n.SetOpts(Method{Arguments: []Argument{}})
	doc := n.Serialize()
	if doc.Type == nil || *doc.Type != "" {
		t.Fatalf("zero-arity method should carry an empty TYPE")
	}
	back, err := Decode(&doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Arguments() == nil || back.IsEmpty() {
		t.Fatalf("zero-arity method decoded as container")
	}
}

func TestDefaultValues(t *testing.T) {
	t.Parallel()
	lo := 3.0
	cases := []struct {
		arg  Argument
		want any
	}{
		{Argument{Type: Int}, int64(1)},
		{Argument{Type: Int, Range: &Range{Min: &lo}}, int64(3)},
		{Argument{Type: Double, Range: &Range{Max: &lo}}, 3.0},
		{Argument{Type: Float, Range: Values(2.5, 9.0)}, 2.5},
		{Argument{Type: String}, "a"},
		{Argument{Type: Char, Range: Values("x")}, "x"},
		{Argument{Type: Color}, DefaultColor},
		{Argument{Type: True}, true},
		{Argument{Type: False}, false},
		{Argument{Type: Blob}, nil},
		{Argument{Type: MIDI}, nil},
		{Argument{Type: Nil}, nil},
		{Argument{Type: Infinitum}, nil},
		{Argument{Type: Int, Value: int64(0)}, int64(0)},
		{Argument{Type: Array(Int, String), Range: RangeElems(MinMax(4, 5), nil)}, []any{int64(4), "a"}},
	}
	for i, tc := range cases {
		if got := EffectiveValue(tc.arg); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("case %d (%s): got %#v want %#v", i, tc.arg.Type, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSpace()
	s.AddMethod("/synth/cutoff", Method{
		Description: "filter cutoff",
		Access:      ReadWrite,
		Tags:        []string{"filter", "synth"},
		Critical:    true,
		Arguments:   []Argument{{Type: Float, Range: MinMax(20, 20000), Clip: ClipTo(ClipBoth), Value: 440.0}},
	})
	s.AddMethod("/synth/mode", Method{
		Access:    ReadOnly,
		Arguments: []Argument{{Type: String, Range: Values("lp", "hp"), Value: "hp"}, {Type: Int, Value: int64(2)}},
	})
	s.AddMethod("/pad/xy", Method{
		Access: WriteOnly,
		Arguments: []Argument{{
			Type:  Array(Float, Float),
			Range: RangeElems(MinMax(0, 1), nil),
			Clip:  ClipElems(ClipTo(ClipLow), nil),
		}},
	})
	s.AddMethod("/synth/voices", Method{
		Access:    ReadOnly,
		Arguments: []Argument{{Type: Int, Range: Values(1, 2, 3), Value: 2}},
	})
	s.AddMethod("/pad/trigger", Method{Access: WriteOnly, Arguments: []Argument{}})

	doc, _ := s.Serialize("/")
	data, err := json.Marshal(&doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	tree, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tree.Name() != "" {
		t.Fatalf("root name: %q", tree.Name())
	}
	assertSameTree(t, s.Root(), tree)

	again := tree.Serialize()
	data2, err := json.Marshal(&again)
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}
	if string(data) != string(data2) {
		t.Fatalf("re-encoding differs:\n%s\n%s", data, data2)
	}
}

func TestIntegerRangeValuesKeepArgumentType(t *testing.T) {
	t.Parallel()
	s := newTestSpace()
	s.AddMethod("/m", Method{Access: ReadOnly, Arguments: []Argument{{Type: Int, Range: Values(1, 2, 3)}}})
	if err := s.SetValue("/m", 0, 3); err != nil {
		t.Fatalf("set value: %v", err)
	}
	stored := s.Resolve("/m").Arguments()[0]
	if !reflect.DeepEqual(stored.Range.Vals, []any{int64(1), int64(2), int64(3)}) {
		t.Fatalf("stored VALS: %#v", stored.Range.Vals)
	}
	if stored.Value != int64(3) {
		t.Fatalf("stored value: %#v", stored.Value)
	}

	doc, _ := s.Serialize("/m")
	data, err := json.Marshal(&doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded := back.Arguments()[0]
	if !reflect.DeepEqual(decoded.Range, stored.Range) {
		t.Fatalf("range: want %#v got %#v", stored.Range, decoded.Range)
	}
	if decoded.Value != int64(3) {
		t.Fatalf("decoded value: %#v", decoded.Value)
	}
}

func TestDecodeCoercesPerElementRangeValues(t *testing.T) {
	t.Parallel()
	tree, err := DecodeJSON([]byte(`{"FULL_PATH":"/p","TYPE":"[is]","ACCESS":1,"RANGE":[[{"VALS":[1,2]},{"VALS":["a","b"]}]]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r := tree.Arguments()[0].Range
	if r == nil || len(r.Elems) != 2 {
		t.Fatalf("range: %#v", r)
	}
	if !reflect.DeepEqual(r.Elems[0].Vals, []any{int64(1), int64(2)}) || !reflect.DeepEqual(r.Elems[1].Vals, []any{"a", "b"}) {
		t.Fatalf("element VALS: %#v %#v", r.Elems[0].Vals, r.Elems[1].Vals)
	}
}

func TestDecodeNamesRootFromFullPath(t *testing.T) {
	t.Parallel()
	tree, err := DecodeJSON([]byte(`{"FULL_PATH":"/a/b","ACCESS":9,"CONTENTS":{"c":{"FULL_PATH":"/a/b/c","TYPE":"i?","ACCESS":3,"VALUE":[4,5]}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tree.Name() != "b" || tree.Access() != NoValue {
		t.Fatalf("root: name %q access %s", tree.Name(), tree.Access())
	}
	c := tree.Child("c")
	if c == nil {
		t.Fatalf("missing child")
	}
	args := c.Arguments()
	if len(args) != 1 || !args[0].Type.Equal(Int) || args[0].Value != int64(4) {
		t.Fatalf("child arguments: %+v", args)
	}
}

func assertSameTree(t *testing.T, want, got *Node) {
	t.Helper()
	if want.Name() != got.Name() {
		t.Fatalf("name: want %q got %q", want.Name(), got.Name())
	}
	wm, gm := want.Method(), got.Method()
	if wm.Access != gm.Access || wm.Description != gm.Description || wm.Critical != gm.Critical || !slices.Equal(wm.Tags, gm.Tags) {
		t.Fatalf("%s metadata: want %+v got %+v", want.FullPath(), wm, gm)
	}
	if (wm.Arguments == nil) != (gm.Arguments == nil) || len(wm.Arguments) != len(gm.Arguments) {
		t.Fatalf("%s arguments: want %d got %d", want.FullPath(), len(wm.Arguments), len(gm.Arguments))
	}
	for i := range wm.Arguments {
		wa, ga := wm.Arguments[i], gm.Arguments[i]
		if !wa.Type.Equal(ga.Type) {
			t.Fatalf("%s arg %d type: want %s got %s", want.FullPath(), i, wa.Type, ga.Type)
		}
		if !reflect.DeepEqual(wa.Range, ga.Range) {
			t.Fatalf("%s arg %d range: want %+v got %+v", want.FullPath(), i, wa.Range, ga.Range)
		}
		if !reflect.DeepEqual(wa.Clip, ga.Clip) {
			t.Fatalf("%s arg %d clip: want %+v got %+v", want.FullPath(), i, wa.Clip, ga.Clip)
		}
		if wm.Access.Readable() && !reflect.DeepEqual(wa.Value, ga.Value) {
			t.Fatalf("%s arg %d value: want %#v got %#v", want.FullPath(), i, wa.Value, ga.Value)
		}
	}
	wc, gc := want.Children(), got.Children()
	if len(wc) != len(gc) {
		t.Fatalf("%s children: want %d got %d", want.FullPath(), len(wc), len(gc))
	}
	for i := range wc {
		assertSameTree(t, wc[i], gc[i])
	}
}
