// Package models provides predicate evaluation for condition nodes and triggers.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// PredicateOp is the closed set of comparison operators.
type PredicateOp string

const (
	OpEq       PredicateOp = "eq"
	OpNe       PredicateOp = "ne"
	OpGt       PredicateOp = "gt"
	OpGte      PredicateOp = "gte"
	OpLt       PredicateOp = "lt"
	OpLte      PredicateOp = "lte"
	OpIn       PredicateOp = "in"       // value is a list, matches when the field equals any element
	OpContains PredicateOp = "contains" // field is a string or list containing value
	OpExists   PredicateOp = "exists"   // field is present in the scope
)

// Predicate is a total, typed condition grammar: either a composite (All/Any)
// or a single comparison (Field/Op/Value). Fields are dotted paths into the
// evaluation scope, e.g. "event.country" or "recipient.plan". A missing field
// makes a comparison false rather than erroring, except for OpExists.
type Predicate struct {
	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`

	Field string      `json:"field,omitempty"`
	Op    PredicateOp `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
}

// ErrInvalidPredicate is returned when a predicate fails validation.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Validate rejects predicates that are neither a composite nor a comparison.
func (p *Predicate) Validate() error {
	if len(p.All) > 0 && len(p.Any) > 0 {
		return fmt.Errorf("%w: all and any are mutually exclusive", ErrInvalidPredicate)
	}

	if len(p.All) > 0 || len(p.Any) > 0 {
		for i := range p.All {
			if err := p.All[i].Validate(); err != nil {
				return err
			}
		}

		for i := range p.Any {
			if err := p.Any[i].Validate(); err != nil {
				return err
			}
		}

		return nil
	}

	if p.Field == "" {
		return fmt.Errorf("%w: comparison requires a field", ErrInvalidPredicate)
	}

	switch p.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists:
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Op)
	}
}

// Evaluate resolves the predicate against a scope of nested maps. Evaluation
// is total: missing fields and type mismatches yield false, never an error.
func (p *Predicate) Evaluate(scope map[string]any) bool {
	if len(p.All) > 0 {
		for i := range p.All {
			if !p.All[i].Evaluate(scope) {
				return false
			}
		}

		return true
	}

	if len(p.Any) > 0 {
		for i := range p.Any {
			if p.Any[i].Evaluate(scope) {
				return true
			}
		}

		return false
	}

	value, found := lookupField(scope, p.Field)

	if p.Op == OpExists {
		return found
	}

	if !found {
		return false
	}

	switch p.Op {
	case OpEq:
		return looseEqual(value, p.Value)
	case OpNe:
		return !looseEqual(value, p.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(value, p.Value, p.Op)
	case OpIn:
		list, ok := p.Value.([]any)
		if !ok {
			return false
		}

		for _, item := range list {
			if looseEqual(value, item) {
				return true
			}
		}

		return false
	case OpContains:
		return evaluateContains(value, p.Value)
	default:
		return false
	}
}

// lookupField walks a dotted path through nested map[string]any values.
func lookupField(scope map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = scope

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// looseEqual compares with numeric coercion so that JSON-decoded float64
// values match integer literals.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	return aok && bok && af == bf
}

func compareNumeric(a, b any, op PredicateOp) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if !aok || !bok {
		return false
	}

	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	default:
		return false
	}
}

func evaluateContains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)

		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
