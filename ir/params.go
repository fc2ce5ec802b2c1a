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
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// splitParams separates a node's document params into the engine-facing
// parts: the plain params handed to the factory, the per-node overrides and
// the optional batch directive. Problems accumulate so the validator can
// report them all at once.
func splitParams(spec *NodeSpec) (map[string]any, overrides, *graph.BatchSpec, []error) {
	var errs []error
	params := make(map[string]any, len(spec.Params))
	for k, v := range spec.Params {
		switch k {
		case ParamMaxRetries, ParamRetryDelay, ParamTimeout, ParamMaxVisits, ParamBatch:
		default:
			params[k] = v
		}
	}
	ov, ovErrs := extractOverrides(spec.Params)
	errs = append(errs, ovErrs...)
	batch, batchErrs := extractBatch(spec.Params)
	errs = append(errs, batchErrs...)
	return params, ov, batch, errs
}

func extractOverrides(params map[string]any) (overrides, []error) {
	var (
		ov   overrides
		errs []error
	)
	if v, ok := params[ParamMaxRetries]; ok {
		n, err := coerceCount(ParamMaxRetries, v, 1)
		if err != nil {
			errs = append(errs, err)
		} else {
			ov.maxRetries = &n
		}
	}
	if v, ok := params[ParamRetryDelay]; ok {
		d, err := coerceSeconds(ParamRetryDelay, v)
		if err != nil {
			errs = append(errs, err)
		} else {
			ov.retryDelay = &d
		}
	}
	if v, ok := params[ParamTimeout]; ok {
		d, err := coerceSeconds(ParamTimeout, v)
		if err != nil {
			errs = append(errs, err)
		} else {
			ov.timeout = &d
		}
	}
	if v, ok := params[ParamMaxVisits]; ok {
		n, err := coerceCount(ParamMaxVisits, v, 1)
		if err != nil {
			errs = append(errs, err)
		} else {
			ov.maxVisits = &n
		}
	}
	return ov, errs
}

// extractBatch parses the batch directive: the reserved option keys plus
// exactly one bind entry mapping the per-item key to the array source.
func extractBatch(params map[string]any) (*graph.BatchSpec, []error) {
	raw, ok := params[ParamBatch]
	if !ok {
		return nil, nil
	}
	directive, ok := raw.(map[string]any)
	if !ok {
		return nil, []error{fmt.Errorf("batch directive must be a mapping, got %T", raw)}
	}
	var errs []error
	batch := &graph.BatchSpec{Concurrency: 1}
	for k, v := range directive {
		switch k {
		case BatchConcurrency:
			n, err := coerceCount(BatchConcurrency, v, 1)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			batch.Concurrency = n
		case BatchContinueOnError:
			b, err := node.Coerce(v, node.TypeBoolean)
			if err != nil {
				errs = append(errs, fmt.Errorf("batch %s: %w", BatchContinueOnError, err))
				continue
			}
			batch.ContinueOnError = b.(bool)
		default:
			if batch.Key != "" {
				errs = append(errs, fmt.Errorf(
					"batch directive binds both %q and %q; exactly one bind entry is allowed",
					batch.Key, k))
				continue
			}
			if !template.IsIdentifier(k) {
				errs = append(errs, fmt.Errorf("batch bind key %q is not an identifier", k))
				continue
			}
			batch.Key = k
			batch.Source = v
		}
	}
	if batch.Key == "" {
		errs = append(errs, fmt.Errorf("batch directive requires one bind entry (key: array source)"))
	}
	if batch.Source != nil {
		if _, isString := batch.Source.(string); !isString {
			if _, isArray := batch.Source.([]any); !isArray {
				errs = append(errs, fmt.Errorf(
					"batch source for %q must be a path or an array, got %T", batch.Key, batch.Source))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return batch, nil
}

func coerceCount(name string, v any, min int) (int, error) {
	coerced, err := node.Coerce(v, node.TypeInteger)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	n := coerced.(int)
	if n < min {
		return 0, fmt.Errorf("%s must be >= %d, got %d", name, min, n)
	}
	return n, nil
}

func coerceSeconds(name string, v any) (time.Duration, error) {
	coerced, err := node.Coerce(v, node.TypeNumber)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	secs := coerced.(float64)
	if secs < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %v", name, secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
