// Package manifest publishes an address space described in a YAML file.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/oscquery/addrspace"
)

// Manifest is the decoded YAML document.
type Manifest struct {
	Methods []MethodSpec `yaml:"methods"`
}

// MethodSpec describes one method.
type MethodSpec struct {
	Path        string         `yaml:"path"`
	Description string         `yaml:"description,omitempty"`
	Access      string         `yaml:"access,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Critical    bool           `yaml:"critical,omitempty"`
	Arguments   []ArgumentSpec `yaml:"arguments"`
}

// ArgumentSpec describes one argument. Type holds the type string of a
// single argument, for example "f" or "[ii]".
type ArgumentSpec struct {
	Type     string     `yaml:"type"`
	Range    *RangeSpec `yaml:"range,omitempty"`
	ClipMode string     `yaml:"clipmode,omitempty"`
	Value    any        `yaml:"value,omitempty"`
}

// RangeSpec is a numeric or enumerated range. Elements applies per element
// to array arguments.
type RangeSpec struct {
	Min      *float64     `yaml:"min,omitempty"`
	Max      *float64     `yaml:"max,omitempty"`
	Vals     []any        `yaml:"vals,omitempty"`
	Elements []*RangeSpec `yaml:"elements,omitempty"`
}

// Entry is a compiled method ready to be published.
type Entry struct {
	Path   string
	Method addrspace.Method
}

// Target receives compiled methods.
type Target interface {
	AddMethod(path string, m addrspace.Method)
	RemoveMethod(path string)
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes data and validates every method. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if _, err := m.Entries(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Entries compiles the manifest. Later duplicates of a path replace earlier
// ones.
func (m *Manifest) Entries() ([]Entry, error) {
	if m == nil {
		return nil, nil
	}
	var out []Entry
	index := make(map[string]int)
	for i, spec := range m.Methods {
		entry, err := compileMethod(spec)
		if err != nil {
			return nil, fmt.Errorf("methods[%d]: %w", i, err)
		}
		if at, ok := index[entry.Path]; ok {
			out[at] = entry
			continue
		}
		index[entry.Path] = len(out)
		out = append(out, entry)
	}
	return out, nil
}

// Apply publishes next on target and removes every method of prev that next
// no longer lists. prev may be nil. It returns the number of methods
// published and removed.
func Apply(target Target, next, prev *Manifest) (published, removed int, err error) {
	entries, err := next.Entries()
	if err != nil {
		return 0, 0, err
	}
	old, err := prev.Entries()
	if err != nil {
		return 0, 0, err
	}
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keep[e.Path] = struct{}{}
	}
	for _, e := range old {
		if _, ok := keep[e.Path]; !ok {
			target.RemoveMethod(e.Path)
			removed++
		}
	}
	for _, e := range entries {
		target.AddMethod(e.Path, e.Method)
		published++
	}
	return published, removed, nil
}

func compileMethod(spec MethodSpec) (Entry, error) {
	segments := addrspace.SplitPath(spec.Path)
	if len(segments) == 0 {
		return Entry{}, fmt.Errorf("path %q does not name a method", spec.Path)
	}
	path := "/" + strings.Join(segments, "/")
	access := addrspace.NoValue
	if spec.Access != "" {
		var err error
		access, err = addrspace.ParseAccess(spec.Access)
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	args := make([]addrspace.Argument, 0, len(spec.Arguments))
	for i, a := range spec.Arguments {
		arg, err := compileArgument(a)
		if err != nil {
			return Entry{}, fmt.Errorf("%s: argument %d: %w", path, i, err)
		}
		args = append(args, arg)
	}
	return Entry{
		Path: path,
		Method: addrspace.Method{
			Description: spec.Description,
			Access:      access,
			Tags:        slices.Clone(spec.Tags),
			Critical:    spec.Critical,
			Arguments:   args,
		},
	}, nil
}

func compileArgument(spec ArgumentSpec) (addrspace.Argument, error) {
	types := addrspace.ParseTypeString(spec.Type)
	if len(types) != 1 {
		return addrspace.Argument{}, fmt.Errorf("type %q must describe exactly one argument", spec.Type)
	}
	arg := addrspace.Argument{Type: types[0], Range: compileRange(spec.Range)}
	if spec.ClipMode != "" {
		mode := addrspace.ClipMode(strings.ToLower(spec.ClipMode))
		if !mode.Valid() {
			return addrspace.Argument{}, fmt.Errorf("invalid clipmode %q", spec.ClipMode)
		}
		arg.Clip = addrspace.ClipTo(mode)
	}
	if spec.Value != nil {
		arg.Value = addrspace.CoerceValue(arg.Type, spec.Value)
	}
	return arg, nil
}

func compileRange(spec *RangeSpec) *addrspace.Range {
	if spec == nil {
		return nil
	}
	if spec.Elements != nil {
		elems := make([]*addrspace.Range, len(spec.Elements))
		for i, e := range spec.Elements {
			elems[i] = compileRange(e)
		}
		return addrspace.RangeElems(elems...)
	}
	return &addrspace.Range{Min: spec.Min, Max: spec.Max, Vals: slices.Clone(spec.Vals)}
}
