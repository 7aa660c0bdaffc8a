package addrspace

import "strings"

// FormatTypeString renders argument types as an OSC type string. Array types
// are wrapped in brackets, recursively.
func FormatTypeString(types []Type) string {
	var b strings.Builder
	writeTypes(&b, types)
	return b.String()
}

func writeTypes(b *strings.Builder, types []Type) {
	for _, t := range types {
		if t.IsArray() {
			b.WriteByte('[')
			writeTypes(b, t.elems)
			b.WriteByte(']')
			continue
		}
		b.WriteByte(byte(t.tag))
	}
}

// ParseTypeString parses an OSC type string in a single left-to-right scan.
// Characters outside the tag alphabet are skipped and an unterminated
// bracket group is dropped.
func ParseTypeString(s string) []Type {
	types := []Type{}
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '[':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case c == ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				types = append(types, Array(ParseTypeString(s[start:i])...))
			}
		case depth == 0 && Tag(c).Valid():
			types = append(types, Scalar(Tag(c)))
		}
	}
	return types
}
