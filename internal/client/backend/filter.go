package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is a conjunction of predicates. A nil *Filter matches everything.
type Filter struct {
	eq       map[string]any
	in       map[string][]string
	contains map[string]string
}

// Where starts a filter with one equality predicate.
func Where(field string, v any) *Filter {
	return (&Filter{}).Eq(field, v)
}

// Eq adds field = v; a nil v means "field IS NULL".
func (f *Filter) Eq(field string, v any) *Filter {
	if f.eq == nil {
		f.eq = make(map[string]any)
	}
	f.eq[field] = v
	return f
}

// In adds id-set membership. An empty set matches nothing.
func (f *Filter) In(field string, values []string) *Filter {
	if f.in == nil {
		f.in = make(map[string][]string)
	}
	f.in[field] = append([]string(nil), values...)
	return f
}

// Contains adds case-insensitive substring matching.
func (f *Filter) Contains(field, substr string) *Filter {
	if f.contains == nil {
		f.contains = make(map[string]string)
	}
	f.contains[field] = substr
	return f
}

// Predicate is one normalized clause, used by implementations.
type Predicate struct {
	Field  string
	Op     string // "eq", "null", "in", "contains"
	Value  any
	Values []string
}

// Predicates returns the clauses in a deterministic order.
func (f *Filter) Predicates() []Predicate {
	if f == nil {
		return nil
	}
	var out []Predicate
	for field, v := range f.eq {
		if v == nil {
			out = append(out, Predicate{Field: field, Op: "null"})
			continue
		}
		out = append(out, Predicate{Field: field, Op: "eq", Value: v})
	}
	for field, vs := range f.in {
		out = append(out, Predicate{Field: field, Op: "in", Values: vs})
	}
	for field, s := range f.contains {
		out = append(out, Predicate{Field: field, Op: "contains", Value: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// Match evaluates the filter against a record in memory.
func (f *Filter) Match(r Record) bool {
	for _, p := range f.Predicates() {
		v := r[p.Field]
		switch p.Op {
		case "null":
			if v != nil && v != "" {
				return false
			}
		case "eq":
			if v == nil || fmt.Sprint(v) != fmt.Sprint(p.Value) {
				return false
			}
		case "in":
			s, ok := v.(string)
			if !ok || !containsString(p.Values, s) {
				return false
			}
		case "contains":
			s, _ := v.(string)
			if !strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprint(p.Value))) {
				return false
			}
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
