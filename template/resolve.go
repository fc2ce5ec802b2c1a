//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/diag"
)

// Source binds the first segment of a path to a value: a node's namespace
// map when the segment is a node id that has written, or the raw input value
// when it is a workflow input name. The store implements this.
type Source interface {
	ResolveRoot(name string) (any, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(name string) (any, bool)

// ResolveRoot implements Source.
func (f SourceFunc) ResolveRoot(name string) (any, bool) {
	return f(name)
}

// MapSource exposes a plain map as a Source, used by tests and by outputs
// evaluation over snapshots.
type MapSource map[string]any

// ResolveRoot implements Source.
func (m MapSource) ResolveRoot(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// ResolveValue substitutes every template expression inside a params-shaped
// value: strings are resolved, maps and slices are rebuilt with resolved
// members, everything else passes through untouched. Already-resolved values
// are never re-scanned.
func ResolveValue(v any, src Source) (any, error) {
	switch tv := v.(type) {
	case string:
		return ResolveString(tv, src)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			rv, err := ResolveValue(item, src)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			rv, err := ResolveValue(item, src)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves one template string. A whole-string expression
// returns the raw value with its type preserved; expressions embedded in a
// larger string substitute in place, JSON-encoding non-string values.
func ResolveString(s string, src Source) (any, error) {
	t, err := Parse(s)
	if err != nil {
		return nil, diag.Wrap(diag.KindUnresolvedTemplate, err, "bad template %q", s)
	}
	return t.Resolve(src)
}

// Resolve evaluates the parsed template against src.
func (t *Template) Resolve(src Source) (any, error) {
	if t.Whole() {
		return t.parts[0].path.Resolve(src)
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.path == nil {
			b.WriteString(p.literal)
			continue
		}
		v, err := p.path.Resolve(src)
		if err != nil {
			return nil, err
		}
		b.WriteString(encode(v))
	}
	return b.String(), nil
}

// Resolve walks the path against src. The root segment must bind; missing
// fields or out-of-range indices report the missing suffix together with the
// deepest available siblings.
func (p *Path) Resolve(src Source) (any, error) {
	cur, ok := src.ResolveRoot(p.Root())
	if !ok {
		return nil, diag.Newf(diag.KindUnresolvedTemplate,
			"%q is neither a node that has written nor a workflow input", p.Root())
	}
	for i, seg := range p.Segments[1:] {
		next, err := descend(cur, seg)
		if err != nil {
			prefix := joinSegments(p.Segments[:i+1])
			return nil, diag.Newf(diag.KindMissingTemplatePath,
				"path %q: %s under %q%s", p.Raw, err.Error(), prefix, siblingHint(cur))
		}
		cur = next
	}
	return cur, nil
}

// descend applies one segment to a container value.
func descend(v any, seg Segment) (any, error) {
	if seg.IsIndex {
		switch tv := v.(type) {
		case []any:
			if seg.Index >= len(tv) {
				return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, len(tv))
			}
			return tv[seg.Index], nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if seg.Index >= rv.Len() {
				return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, rv.Len())
			}
			return rv.Index(seg.Index).Interface(), nil
		}
		return nil, fmt.Errorf("cannot index non-array with [%d]", seg.Index)
	}
	switch tv := v.(type) {
	case map[string]any:
		item, ok := tv[seg.Field]
		if !ok {
			return nil, fmt.Errorf("missing field %q", seg.Field)
		}
		return item, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		item := rv.MapIndex(reflect.ValueOf(seg.Field))
		if !item.IsValid() {
			return nil, fmt.Errorf("missing field %q", seg.Field)
		}
		return item.Interface(), nil
	}
	return nil, fmt.Errorf("cannot take field %q of non-object", seg.Field)
}

// siblingHint lists the keys or length available at the failing container so
// error messages point at what would have resolved.
func siblingHint(v any) string {
	switch tv := v.(type) {
	case map[string]any:
		if len(tv) == 0 {
			return " (empty object)"
		}
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return " (available: " + strings.Join(keys, ", ") + ")"
	case []any:
		return fmt.Sprintf(" (array of %d)", len(tv))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprintf("%v", k.Interface()))
		}
		sort.Strings(keys)
		return " (available: " + strings.Join(keys, ", ") + ")"
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf(" (array of %d)", rv.Len())
	}
	return ""
}

func joinSegments(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 && !s.IsIndex {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// encode renders a resolved value for substitution inside a larger string:
// strings pass through verbatim, everything else is JSON.
func encode(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
