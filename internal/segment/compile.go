package segment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Filter is a compiled segment: one canonical expression tree backing
// both the in-memory evaluator and the SQL emitter.
type Filter struct {
	root *groupNode
}

// Compile validates a rule tree and builds the canonical filter.
// Structural problems (unknown field, unsupported operator, malformed
// value) are reported synchronously; the compiler never partially
// succeeds.
func Compile(g Group) (*Filter, error) {
	root, err := compileGroup(g)
	if err != nil {
		return nil, err
	}
	return &Filter{root: root}, nil
}

// CompileJSON parses a JSON-encoded rule tree and compiles it.
func CompileJSON(raw []byte) (*Filter, error) {
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parse segment rules: %w", err)
	}
	return Compile(g)
}

// ==========================================
// CANONICAL TREE
// ==========================================

type node interface{ isNode() }

type groupNode struct {
	and      bool
	not      bool
	children []node
}

func (*groupNode) isNode() {}

// ruleNode carries the operands pre-coerced for the field's kind, so
// neither backend re-parses values at evaluation time.
type ruleNode struct {
	field string
	spec  fieldSpec
	op    Operator

	str     string
	strs    []string
	num     float64
	numPair [2]float64
	nums    []float64
	t       time.Time
	tPair   [2]time.Time
	days    int
}

func (*ruleNode) isNode() {}

func compileGroup(g Group) (*groupNode, error) {
	n := &groupNode{
		and: g.Combinator != CombinatorOr,
		not: g.Not,
	}
	for _, r := range g.Rules {
		rn, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, rn)
	}
	for _, sub := range g.Groups {
		sn, err := compileGroup(sub)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, sn)
	}
	return n, nil
}

func compileRule(r Rule) (*ruleNode, error) {
	spec, ok := donorFields[r.Field]
	if !ok {
		return nil, &UnknownFieldError{Field: r.Field}
	}

	n := &ruleNode{field: r.Field, spec: spec, op: r.Operator}

	switch r.Operator {
	case OpIsNull, OpIsNotNull:
		// Value is ignored entirely.
		return n, nil

	case OpEquals, OpNotEquals:
		switch spec.Kind {
		case KindString:
			n.str = toString(r.Value)
		case KindNumber:
			f, ok := toFloat(r.Value)
			if !ok {
				return nil, &MalformedValueError{Field: r.Field, Reason: "expected a number"}
			}
			n.num = f
		case KindDate:
			t, ok := toTime(r.Value)
			if !ok {
				return nil, &MalformedValueError{Field: r.Field, Reason: "expected a date"}
			}
			n.t = t
		default:
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		return n, nil

	case OpContains, OpNotContains:
		if spec.Kind != KindString {
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		n.str = toString(r.Value)
		return n, nil

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		switch spec.Kind {
		case KindNumber:
			f, ok := toFloat(r.Value)
			if !ok {
				return nil, &MalformedValueError{Field: r.Field, Reason: "expected a number"}
			}
			n.num = f
		case KindDate:
			t, ok := toTime(r.Value)
			if !ok {
				return nil, &MalformedValueError{Field: r.Field, Reason: "expected a date"}
			}
			n.t = t
		default:
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		return n, nil

	case OpBetween:
		pair, ok := toList(r.Value)
		if !ok || len(pair) != 2 {
			return nil, &MalformedValueError{Field: r.Field, Reason: "between requires a 2-element ordered pair"}
		}
		switch spec.Kind {
		case KindNumber:
			lo, okLo := toFloat(pair[0])
			hi, okHi := toFloat(pair[1])
			if !okLo || !okHi {
				return nil, &MalformedValueError{Field: r.Field, Reason: "between bounds must be numbers"}
			}
			if lo > hi {
				return nil, &MalformedValueError{Field: r.Field, Reason: "between bounds must be ordered low to high"}
			}
			n.numPair = [2]float64{lo, hi}
		case KindDate:
			lo, okLo := toTime(pair[0])
			hi, okHi := toTime(pair[1])
			if !okLo || !okHi {
				return nil, &MalformedValueError{Field: r.Field, Reason: "between bounds must be dates"}
			}
			if lo.After(hi) {
				return nil, &MalformedValueError{Field: r.Field, Reason: "between bounds must be ordered low to high"}
			}
			n.tPair = [2]time.Time{lo, hi}
		default:
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		return n, nil

	case OpIn, OpNotIn:
		list, ok := toList(r.Value)
		if !ok {
			return nil, &MalformedValueError{Field: r.Field, Reason: "in/not_in require a list"}
		}
		switch spec.Kind {
		case KindString:
			for _, v := range list {
				n.strs = append(n.strs, toString(v))
			}
		case KindNumber:
			for _, v := range list {
				f, ok := toFloat(v)
				if !ok {
					return nil, &MalformedValueError{Field: r.Field, Reason: "in/not_in list must be numbers"}
				}
				n.nums = append(n.nums, f)
			}
		default:
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		return n, nil

	case OpInLastDays, OpNotInLastDays:
		if spec.Kind != KindDate {
			return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
		}
		f, ok := toFloat(r.Value)
		if !ok || f < 0 {
			return nil, &MalformedValueError{Field: r.Field, Reason: "expected a non-negative day count"}
		}
		n.days = int(f)
		return n, nil

	default:
		return nil, &UnsupportedOperatorError{Operator: r.Operator, Field: r.Field}
	}
}

// ==========================================
// VALUE COERCION
// ==========================================

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
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
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
