//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package template implements the ${path} expression language used by
// workflow params and outputs. A path starts at a node id or a workflow
// input name and walks fields and array indices, for example
// ${fetch.response.items[0].title}. Templates are parsed once and cached;
// resolution walks the parsed form against a Source.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Escape is the sequence that produces a literal dollar sign.
const Escape = "$$"

// Segment is one step of a parsed path: a field name or an array index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// String renders the segment the way it appeared in the source path.
func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Field
}

// Path is the parsed body of one ${...} expression.
type Path struct {
	Raw      string
	Segments []Segment
}

// Root returns the first segment, always a field: a node id or an input name.
func (p *Path) Root() string {
	return p.Segments[0].Field
}

// String returns the original path text.
func (p *Path) String() string {
	return p.Raw
}

// part is a literal run or an embedded path inside a template string.
type part struct {
	literal string
	path    *Path
}

// Template is a parsed template string. A string with no expressions parses
// to a single literal part.
type Template struct {
	Raw   string
	parts []part
}

// Whole reports whether the template is exactly one ${path} covering the
// entire string, in which case resolution preserves the raw value type.
func (t *Template) Whole() bool {
	return len(t.parts) == 1 && t.parts[0].path != nil
}

// HasExpressions reports whether any ${path} occurs in the template.
func (t *Template) HasExpressions() bool {
	for _, p := range t.parts {
		if p.path != nil {
			return true
		}
	}
	return false
}

// Paths lists the expressions embedded in the template, in order.
func (t *Template) Paths() []*Path {
	var out []*Path
	for _, p := range t.parts {
		if p.path != nil {
			out = append(out, p.path)
		}
	}
	return out
}

// cache holds parsed templates keyed by their raw string. Workflow documents
// repeat the same expressions across params, outputs and validation passes;
// parsing happens once per distinct string.
var cache = struct {
	mu sync.RWMutex
	m  map[string]*Template
}{m: make(map[string]*Template)}

// Parse parses a template string, consulting the package cache first.
func Parse(raw string) (*Template, error) {
	cache.mu.RLock()
	t, ok := cache.m[raw]
	cache.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := parse(raw)
	if err != nil {
		return nil, err
	}
	cache.mu.Lock()
	cache.m[raw] = t
	cache.mu.Unlock()
	return t, nil
}

// ParsePath parses a bare path expression (no ${} wrapper), as used by
// outputs declarations and batch sources.
func ParsePath(raw string) (*Path, error) {
	p, rest, err := parsePath(raw)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("unexpected trailing %q in path %q", rest, raw)
	}
	return p, nil
}

func parse(raw string) (*Template, error) {
	var (
		parts []part
		lit   strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{literal: lit.String()})
			lit.Reset()
		}
	}
	s := raw
	for len(s) > 0 {
		i := strings.IndexByte(s, '$')
		if i < 0 {
			lit.WriteString(s)
			break
		}
		lit.WriteString(s[:i])
		s = s[i:]
		switch {
		case strings.HasPrefix(s, Escape):
			lit.WriteByte('$')
			s = s[len(Escape):]
		case strings.HasPrefix(s, "${"):
			end := strings.IndexByte(s, '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated ${ in template %q", raw)
			}
			p, rest, err := parsePath(s[2:end])
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", raw, err)
			}
			if rest != "" {
				return nil, fmt.Errorf("template %q: unexpected %q in path", raw, rest)
			}
			flush()
			parts = append(parts, part{path: p})
			s = s[end+1:]
		default:
			// Lone dollar sign: literal text.
			lit.WriteByte('$')
			s = s[1:]
		}
	}
	flush()
	if len(parts) == 0 {
		parts = append(parts, part{literal: ""})
	}
	return &Template{Raw: raw, parts: parts}, nil
}

// parsePath consumes a path from the front of s and returns the remainder.
func parsePath(s string) (*Path, string, error) {
	raw := s
	ident, rest := scanIdentifier(s)
	if ident == "" {
		return nil, "", fmt.Errorf("path must start with an identifier, got %q", s)
	}
	segs := []Segment{{Field: ident}}
	s = rest
	for len(s) > 0 {
		switch s[0] {
		case '.':
			ident, rest = scanIdentifier(s[1:])
			if ident == "" {
				return nil, "", fmt.Errorf("expected identifier after '.' in %q", raw)
			}
			segs = append(segs, Segment{Field: ident})
			s = rest
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, "", fmt.Errorf("unterminated index in %q", raw)
			}
			idx, err := strconv.Atoi(s[1:end])
			if err != nil || idx < 0 {
				return nil, "", fmt.Errorf("bad array index %q in %q", s[1:end], raw)
			}
			segs = append(segs, Segment{Index: idx, IsIndex: true})
			s = s[end+1:]
		default:
			return &Path{Raw: raw[:len(raw)-len(s)], Segments: segs}, s, nil
		}
	}
	return &Path{Raw: raw, Segments: segs}, "", nil
}

// scanIdentifier consumes [A-Za-z_][A-Za-z0-9_-]* from the front of s.
func scanIdentifier(s string) (string, string) {
	if s == "" || !isIdentStart(s[0]) {
		return "", s
	}
	i := 1
	for i < len(s) && isIdentPart(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}

// IsIdentifier reports whether s is a full identifier per the path grammar.
// Node ids and input names share this shape.
func IsIdentifier(s string) bool {
	ident, rest := scanIdentifier(s)
	return ident == s && rest == ""
}
