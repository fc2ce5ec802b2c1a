//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package node

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ValueType enumerates the types workflow inputs and declared params take.
type ValueType string

// Canonical value types.
const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
)

// typeAliases maps Python-style names onto the canonical types.
var typeAliases = map[string]ValueType{
	"str":   TypeString,
	"int":   TypeInteger,
	"float": TypeNumber,
	"bool":  TypeBoolean,
	"dict":  TypeObject,
	"list":  TypeArray,
}

// ParseValueType resolves a type name, accepting the canonical spelling and
// the Python-style aliases str/int/float/bool/dict/list.
func ParseValueType(s string) (ValueType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch ValueType(name) {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return ValueType(name), nil
	}
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown value type %q", s)
}

// String returns the canonical name.
func (t ValueType) String() string {
	return string(t)
}

// Coerce converts value to the target type, applying the same rules to
// declared defaults and user-supplied values. Conversions are conservative:
// numeric strings parse, integral floats narrow, and everything else fails.
func Coerce(value any, t ValueType) (any, error) {
	switch t {
	case TypeString:
		return coerceString(value)
	case TypeInteger:
		return coerceInteger(value)
	case TypeNumber:
		return coerceNumber(value)
	case TypeBoolean:
		return coerceBoolean(value)
	case TypeObject:
		return coerceObject(value)
	case TypeArray:
		return coerceArray(value)
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
}

func coerceString(v any) (any, error) {
	switch tv := v.(type) {
	case string:
		return tv, nil
	case bool:
		return strconv.FormatBool(tv), nil
	case int:
		return strconv.Itoa(tv), nil
	case int64:
		return strconv.FormatInt(tv, 10), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 32), nil
	case json.Number:
		return tv.String(), nil
	}
	return nil, fmt.Errorf("cannot coerce %T to string", v)
}

func coerceInteger(v any) (any, error) {
	switch tv := v.(type) {
	case int:
		return tv, nil
	case int32:
		return int(tv), nil
	case int64:
		return int(tv), nil
	case float64:
		if tv != float64(int(tv)) {
			return nil, fmt.Errorf("number %v is not an integer", tv)
		}
		return int(tv), nil
	case float32:
		return coerceInteger(float64(tv))
	case json.Number:
		n, err := tv.Int64()
		if err != nil {
			return nil, fmt.Errorf("number %v is not an integer", tv)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(tv))
		if err != nil {
			return nil, fmt.Errorf("string %q is not an integer", tv)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to integer", v)
}

func coerceNumber(v any) (any, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case float32:
		return float64(tv), nil
	case int:
		return float64(tv), nil
	case int32:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case json.Number:
		return tv.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return nil, fmt.Errorf("string %q is not a number", tv)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to number", v)
}

func coerceBoolean(v any) (any, error) {
	switch tv := v.(type) {
	case bool:
		return tv, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(tv)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("string %q is not a boolean", tv)
	case int:
		switch tv {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("integer %d is not a boolean", tv)
	case float64:
		switch tv {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("number %v is not a boolean", tv)
	}
	return nil, fmt.Errorf("cannot coerce %T to boolean", v)
}

func coerceObject(v any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to object", v)
}

func coerceArray(v any) (any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to array", v)
}
