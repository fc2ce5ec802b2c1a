//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser decodes workflow documents. JSON decoding is strict: unknown keys
// are rejected so typos surface as parse errors instead of silently dropped
// sections. YAML follows the same document shape.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a JSON document.
func (p *Parser) Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse workflow document: trailing data after document")
	}
	return &doc, nil
}

// ParseString decodes a JSON document from a string.
func (p *Parser) ParseString(s string) (*Document, error) {
	return p.Parse([]byte(s))
}

// ParseYAML decodes a YAML document.
func (p *Parser) ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	normalizeYAML(&doc)
	return &doc, nil
}

// ParseFile decodes a document, dispatching on the file extension:
// .json, .yaml and .yml are recognized.
func (p *Parser) ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow document: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return p.Parse(data)
	case ".yaml", ".yml":
		return p.ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported workflow document extension %q", filepath.Ext(path))
	}
}

// ToJSON serializes a document with stable field order, suitable for the
// parse/serialize round trip.
func (p *Parser) ToJSON(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize workflow document: %w", err)
	}
	return data, nil
}

// ToJSONString serializes a document to a JSON string.
func (p *Parser) ToJSONString(doc *Document) (string, error) {
	data, err := p.ToJSON(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile serializes a document to path as JSON.
func (p *Parser) WriteFile(doc *Document, path string) error {
	data, err := p.ToJSON(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write workflow document: %w", err)
	}
	return nil
}

// normalizeYAML rewrites the container types the YAML decoder produces into
// the JSON shapes the rest of the engine expects.
func normalizeYAML(doc *Document) {
	for _, n := range doc.Nodes {
		if v, ok := normalizeYAMLValue(n.Params).(map[string]any); ok {
			n.Params = v
		}
	}
	for _, in := range doc.Inputs {
		if in != nil {
			in.Default = normalizeYAMLValue(in.Default)
		}
	}
}

func normalizeYAMLValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = normalizeYAMLValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}
