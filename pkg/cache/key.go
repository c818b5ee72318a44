package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type segmentKind uint8

const (
	segmentString segmentKind = iota + 1
	segmentInt
	segmentParams
)

// Segment is one discriminated element of a Key.
type Segment struct {
	kind   segmentKind
	str    string
	num    int64
	params string // canonical encoding, see Params
}

// Str returns a string segment.
func Str(s string) Segment {
	return Segment{kind: segmentString, str: s}
}

// Int returns an integer segment.
func Int(n int64) Segment {
	return Segment{kind: segmentInt, num: n}
}

// Params returns a segment holding a filter map. Two maps with the same
// pairs produce equal segments regardless of insertion order.
func Params(p map[string]string) Segment {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(p[k]))
	}
	return Segment{kind: segmentParams, params: strings.Join(parts, "&")}
}

// emptyString encodes the empty string segment. Quotes are always escaped
// by url.QueryEscape, so no other segment encodes to it.
const emptyString = `""`

// String encodes the segment. Encodings of different kinds never collide.
func (s Segment) String() string {
	switch s.kind {
	case segmentString:
		if s.str == "" {
			return emptyString
		}
		return url.QueryEscape(s.str)
	case segmentInt:
		return "#" + strconv.FormatInt(s.num, 10)
	case segmentParams:
		return "{" + s.params + "}"
	default:
		return ""
	}
}

// Key identifies a cached query result. Keys form a prefix hierarchy:
// tasks ⊃ tasks:list ⊃ tasks:list:{status=pending}.
type Key struct {
	segments []Segment
}

// NewKey builds a key from segments.
func NewKey(segments ...Segment) Key {
	return Key{segments: append([]Segment(nil), segments...)}
}

// K is shorthand for a key made only of string segments.
func K(parts ...string) Key {
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		segs[i] = Str(p)
	}
	return Key{segments: segs}
}

// Append returns a new key extending k.
func (k Key) Append(segments ...Segment) Key {
	out := make([]Segment, 0, len(k.segments)+len(segments))
	out = append(out, k.segments...)
	out = append(out, segments...)
	return Key{segments: out}
}

// Len returns the number of segments.
func (k Key) Len() int {
	return len(k.segments)
}

// Segments returns a copy of the key's segments.
func (k Key) Segments() []Segment {
	return append([]Segment(nil), k.segments...)
}

// IsZero reports whether the key has no segments.
func (k Key) IsZero() bool {
	return len(k.segments) == 0
}

// String generates the canonical key string the store indexes by.
// Format: seg1:seg2:...
//
// Example:
//
//	tasks:detail:42
//	tasks:list:{status=pending}
func (k Key) String() string {
	parts := make([]string, len(k.segments))
	for i, s := range k.segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ":")
}

// ParseKey decodes the output of Key.String.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, nil
	}
	raw := strings.Split(s, ":")
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		switch {
		case r == emptyString:
			segs = append(segs, Str(""))
		case strings.HasPrefix(r, "#"):
			n, err := strconv.ParseInt(r[1:], 10, 64)
			if err != nil {
				return Key{}, fmt.Errorf("parse int segment %q: %w", r, err)
			}
			segs = append(segs, Int(n))
		case strings.HasPrefix(r, "{") && strings.HasSuffix(r, "}"):
			values, err := url.ParseQuery(r[1 : len(r)-1])
			if err != nil {
				return Key{}, fmt.Errorf("parse params segment %q: %w", r, err)
			}
			p := make(map[string]string, len(values))
			for k := range values {
				p[k] = values.Get(k)
			}
			segs = append(segs, Params(p))
		default:
			v, err := url.QueryUnescape(r)
			if err != nil {
				return Key{}, fmt.Errorf("parse string segment %q: %w", r, err)
			}
			segs = append(segs, Str(v))
		}
	}
	return Key{segments: segs}, nil
}

// Equal reports whether k and other have identical segments.
func (k Key) Equal(other Key) bool {
	return len(k.segments) == len(other.segments) && k.HasPrefix(other)
}

// HasPrefix reports whether prefix's segments lead k's segments.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.segments) > len(k.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if s != k.segments[i] {
			return false
		}
	}
	return true
}

// Predicate selects keys for bulk operations.
type Predicate func(Key) bool

// MatchPrefix matches every key under any of the given prefixes.
func MatchPrefix(prefixes ...Key) Predicate {
	return func(k Key) bool {
		for _, p := range prefixes {
			if k.HasPrefix(p) {
				return true
			}
		}
		return false
	}
}

// MatchExact matches only the given keys.
func MatchExact(keys ...Key) Predicate {
	return func(k Key) bool {
		for _, e := range keys {
			if k.Equal(e) {
				return true
			}
		}
		return false
	}
}

// MatchAll matches every key.
func MatchAll() Predicate {
	return func(Key) bool { return true }
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
