package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Record is the loosely typed shape the backend hands back. Decoders in this
// package are the only place where untyped values are inspected.
type Record = map[string]any

func malformed(field string, v any) error {
	return fmt.Errorf("%w: field %q has unexpected value %T(%v)", common.ErrMalformedRecord, field, v, v)
}

func requiredString(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %q", common.ErrMalformedRecord, field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", malformed(field, v)
	}
	return s, nil
}

func optionalString(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(field, v)
	}
	return s, nil
}

func optionalStringPtr(r Record, field string) (*string, error) {
	s, err := optionalString(r, field)
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func optionalBool(r Record, field string) (bool, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, malformed(field, v)
	}
	return b, nil
}

func toInt(field string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, malformed(field, v)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, malformed(field, v)
		}
		return int(i), nil
	default:
		return 0, malformed(field, v)
	}
}

func optionalInt(r Record, field string) (*int, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt(field, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func requiredTime(r Record, field string) (time.Time, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("%w: missing %q", common.ErrMalformedRecord, field)
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, malformed(field, v)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, malformed(field, v)
	}
}

func stringList(field string, v any) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), l...), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, malformed(field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, malformed(field, v)
	}
}

func intList(field string, v any) ([]int, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []int:
		return append([]int(nil), l...), nil
	case []any:
		out := make([]int, 0, len(l))
		for _, item := range l {
			n, err := toInt(field, item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, malformed(field, v)
	}
}

func recordList(field string, v any) ([]Record, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []Record:
		return l, nil
	case []any:
		out := make([]Record, 0, len(l))
		for _, item := range l {
			m, ok := item.(Record)
			if !ok {
				return nil, malformed(field, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, malformed(field, v)
	}
}

func optionalRecord(r Record, field string) (Record, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(Record)
	if !ok {
		return nil, malformed(field, v)
	}
	return m, nil
}
