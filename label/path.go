/*
Package label implements the hierarchical name a segment is known by.

A Label identifies a segment within its immediate parent. A Path is an
ordered sequence of labels from the pipeline root down to a segment, the
value piper's location resolver and logger both key off (spec §3, §4.4,
§4.9).

There is no third-party path-segment library in the example corpus this
module draws from; the standard library's path package already expresses
"/"-joined segment semantics directly, so this package builds on it rather
than a routing library meant for URLs.
*/
package label

import (
	"path"
	"strconv"
	"strings"
	"sync/atomic"
)

// Label is a non-empty identity within a parent container.
type Label string

// Path is an ordered sequence of labels, root-first.
type Path []Label

// ParsePath splits a location string such as "a/b/c" into a Path. Leading
// and trailing slashes are ignored; an empty string yields an empty Path.
func ParsePath(location string) Path {
	trimmed := strings.Trim(location, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	p := make(Path, len(parts))
	for i, part := range parts {
		p[i] = Label(part)
	}
	return p
}

// Child returns a new Path with l appended.
func (p Path) Child(l Label) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = l
	return child
}

// Name returns the last label of the path, or "" for an empty path.
func (p Path) Name() Label {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Split returns the path's labels as a plain slice.
func (p Path) Split() []Label {
	out := make([]Label, len(p))
	copy(out, p)
	return out
}

// String renders the path in its "/"-joined display form.
func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, l := range p {
		parts[i] = string(l)
	}
	return path.Join(parts...)
}

var anonSeq int64

// NewAnonymous generates a unique label for a segment whose blueprint did
// not supply one (spec §3: "if omitted, a unique identifier is generated").
func NewAnonymous() Label {
	n := atomic.AddInt64(&anonSeq, 1)
	return Label("seg" + strconv.FormatInt(n, 10))
}
