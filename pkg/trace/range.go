package trace

import "fmt"

// Range is a localization pointer into the original trace: the event named
// by ObjectID plus a dotted path of string keys / integer indices inside
// that event, optionally refined to a character span within the string
// found at that path (§3, §6: "character (not byte) offsets into the
// content string at that path"). The path is relative to the event; it
// does not include the event's position in the trace.
type Range struct {
	ObjectID ID
	JSONPath string // e.g. "content" or "function.arguments.q"; "" is the whole event
	HasSpan  bool
	Start    int // character offset, inclusive
	End      int // character offset, exclusive
}

// NewRange builds a whole-value Range (no character span).
func NewRange(id ID, path string) Range {
	return Range{ObjectID: id, JSONPath: path}
}

// WithSpan returns a copy of r narrowed to [start, end) characters.
func (r Range) WithSpan(start, end int) Range {
	r.HasSpan = true
	r.Start = start
	r.End = end
	return r
}

func (r Range) String() string {
	if r.HasSpan {
		return fmt.Sprintf("%s[%d:%d]", r.JSONPath, r.Start, r.End)
	}
	return r.JSONPath
}

// JoinPath appends a segment to a json_path, inserting '.' as needed.
func JoinPath(base string, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}
