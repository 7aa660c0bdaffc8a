package addrspace

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Tag is a single-character OSC type tag.
type Tag byte

// OSC type tags understood by OSCQuery.
const (
	TagInt32     Tag = 'i'
	TagFloat32   Tag = 'f'
	TagString    Tag = 's'
	TagBlob      Tag = 'b'
	TagInt64     Tag = 'h'
	TagTimeTag   Tag = 't'
	TagFloat64   Tag = 'd'
	TagAltString Tag = 'S'
	TagChar      Tag = 'c'
	TagColor     Tag = 'r'
	TagMIDI      Tag = 'm'
	TagTrue      Tag = 'T'
	TagFalse     Tag = 'F'
	TagNil       Tag = 'N'
	TagInfinitum Tag = 'I'
)

const tagAlphabet = "ifsbhtdScrmTFNI"

// Valid reports whether t is one of the fifteen OSC type tags.
func (t Tag) Valid() bool {
	return t != 0 && strings.IndexByte(tagAlphabet, byte(t)) >= 0
}

// Type is the type of one argument: a scalar tag or an array of nested types.
type Type struct {
	tag   Tag
	elems []Type
}

// Scalar argument types.
var (
	Int       = Type{tag: TagInt32}
	Float     = Type{tag: TagFloat32}
	String    = Type{tag: TagString}
	Blob      = Type{tag: TagBlob}
	Int64     = Type{tag: TagInt64}
	TimeTag   = Type{tag: TagTimeTag}
	Double    = Type{tag: TagFloat64}
	AltString = Type{tag: TagAltString}
	Char      = Type{tag: TagChar}
	Color     = Type{tag: TagColor}
	MIDI      = Type{tag: TagMIDI}
	True      = Type{tag: TagTrue}
	False     = Type{tag: TagFalse}
	Nil       = Type{tag: TagNil}
	Infinitum = Type{tag: TagInfinitum}
)

// Scalar returns the scalar type for tag.
func Scalar(tag Tag) Type {
	return Type{tag: tag}
}

// Array returns an array type whose elements have the given types.
func Array(elems ...Type) Type {
	if elems == nil {
		elems = []Type{}
	}
	return Type{elems: slices.Clone(elems)}
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return t.elems != nil
}

// Tag returns the scalar tag, or 0 for array types.
func (t Type) Tag() Tag {
	return t.tag
}

// Elems returns the element types of an array type.
func (t Type) Elems() []Type {
	return slices.Clone(t.elems)
}

// Equal reports whether t and o describe the same type.
func (t Type) Equal(o Type) bool {
	if t.IsArray() != o.IsArray() {
		return false
	}
	if !t.IsArray() {
		return t.tag == o.tag
	}
	return slices.EqualFunc(t.elems, o.elems, Type.Equal)
}

func (t Type) String() string {
	return FormatTypeString([]Type{t})
}

// Access is the access mode of a method.
type Access int

// Access modes, numbered as on the wire.
const (
	NoValue Access = iota
	ReadOnly
	WriteOnly
	ReadWrite
)

// Readable reports whether VALUE is exposed for a. Only ReadOnly and
// ReadWrite methods serve values.
func (a Access) Readable() bool {
	return a == ReadOnly || a == ReadWrite
}

func (a Access) String() string {
	switch a {
	case NoValue:
		return "none"
	case ReadOnly:
		return "r"
	case WriteOnly:
		return "w"
	case ReadWrite:
		return "rw"
	}
	return "access(" + strconv.Itoa(int(a)) + ")"
}

// AccessFromCode maps a wire code to an Access. Unknown codes map to NoValue.
func AccessFromCode(code int) Access {
	switch Access(code) {
	case ReadOnly, WriteOnly, ReadWrite:
		return Access(code)
	}
	return NoValue
}

// ParseAccess accepts none|r|w|rw, their long forms, or a numeric code.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "novalue", "no_value":
		return NoValue, nil
	case "r", "ro", "read", "readonly", "read_only":
		return ReadOnly, nil
	case "w", "wo", "write", "writeonly", "write_only":
		return WriteOnly, nil
	case "rw", "readwrite", "read_write":
		return ReadWrite, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || code < int(NoValue) || code > int(ReadWrite) {
		return NoValue, fmt.Errorf("addrspace: invalid access %q", s)
	}
	return Access(code), nil
}

// ClipMode controls how out-of-range values are treated.
type ClipMode string

// Clip modes.
const (
	ClipNone ClipMode = "none"
	ClipLow  ClipMode = "low"
	ClipHigh ClipMode = "high"
	ClipBoth ClipMode = "both"
)

// Valid reports whether m is one of the four clip modes.
func (m ClipMode) Valid() bool {
	switch m {
	case ClipNone, ClipLow, ClipHigh, ClipBoth:
		return true
	}
	return false
}

// Range bounds an argument. For array types Elems carries one range per
// element, nil entries meaning no range for that element.
type Range struct {
	Min   *float64
	Max   *float64
	Vals  []any
	Elems []*Range
}

// MinMax returns a range bounded on both sides.
func MinMax(lo, hi float64) *Range {
	return &Range{Min: &lo, Max: &hi}
}

// Values returns a range restricted to an enumerated set of values.
func Values(vals ...any) *Range {
	return &Range{Vals: slices.Clone(vals)}
}

// RangeElems returns a per-element range for an array-typed argument.
func RangeElems(elems ...*Range) *Range {
	if elems == nil {
		elems = []*Range{}
	}
	return &Range{Elems: slices.Clone(elems)}
}

func (r *Range) clone() *Range {
	if r == nil {
		return nil
	}
	out := &Range{Vals: slices.Clone(r.Vals)}
	if r.Min != nil {
		v := *r.Min
		out.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		out.Max = &v
	}
	if r.Elems != nil {
		out.Elems = make([]*Range, len(r.Elems))
		for i, e := range r.Elems {
			out.Elems[i] = e.clone()
		}
	}
	return out
}

// Clip is the clip mode of an argument. For array types Elems carries one
// entry per element.
type Clip struct {
	Mode  ClipMode
	Elems []*Clip
}

// ClipTo returns a scalar clip entry.
func ClipTo(mode ClipMode) *Clip {
	return &Clip{Mode: mode}
}

// ClipElems returns a per-element clip entry for an array-typed argument.
func ClipElems(elems ...*Clip) *Clip {
	if elems == nil {
		elems = []*Clip{}
	}
	return &Clip{Elems: slices.Clone(elems)}
}

func (c *Clip) clone() *Clip {
	if c == nil {
		return nil
	}
	out := &Clip{Mode: c.Mode}
	if c.Elems != nil {
		out.Elems = make([]*Clip, len(c.Elems))
		for i, e := range c.Elems {
			out.Elems[i] = e.clone()
		}
	}
	return out
}

// Argument describes one positional argument of a method.
type Argument struct {
	Type  Type
	Range *Range
	Clip  *Clip
	// Value is the current value. Nil means unset; the encoder then
	// publishes a generated default.
	Value any
}

// Method is the metadata carried by a node. A nil Arguments slice makes the
// node a container; a non-nil empty slice is a method without arguments.
type Method struct {
	Description string
	Access      Access
	Tags        []string
	Critical    bool
	Arguments   []Argument
}

func (m Method) clone() Method {
	out := m
	out.Tags = slices.Clone(m.Tags)
	if m.Arguments != nil {
		out.Arguments = make([]Argument, len(m.Arguments))
		for i, arg := range m.Arguments {
			out.Arguments[i] = Argument{
				Type:  arg.Type,
				Range: arg.Range.clone(),
				Clip:  arg.Clip.clone(),
				Value: arg.Value,
			}
		}
	}
	return out
}
