package grid

import (
	"fmt"
	"reflect"
	"strings"
)

type (
	// Document is a value stored as JSON by the grid; field names are the JSON attribute names.
	Document map[string]any
	Operator string
	Condition struct {
		Field string
		Op    Operator
		Value any
	}
	// Filter is a disjunction of conjunctions: the document matches if all conditions of any clause hold.
	Filter     [][]Condition
	QuorumKind string
)

const (
	OpEqual Operator = "="
	OpLess  Operator = "<"
)

const (
	QuorumRead      QuorumKind = "read"
	QuorumWrite     QuorumKind = "write"
	QuorumReadWrite QuorumKind = "readWrite"
)

func (k QuorumKind) Guards(write bool) bool {

	switch k {
	case QuorumReadWrite:
		return true
	case QuorumWrite:
		return write
	case QuorumRead:
		return !write
	default:
		return false
	}

}

func (f Filter) Matches(d Document) bool {

	for _, c := range f {
		if clauseMatches(c, d) {
			return true
		}
	}

	return false

}

func (f Filter) String() string {

	clauses := make([]string, len(f))
	for i, conjunction := range f {
		conditions := make([]string, len(conjunction))
		for j, c := range conjunction {
			conditions[j] = fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
		}
		clauses[i] = "(" + strings.Join(conditions, " AND ") + ")"
	}

	return strings.Join(clauses, " OR ")

}

func clauseMatches(clause []Condition, d Document) bool {

	for _, c := range clause {
		v, ok := d[c.Field]
		if !ok || !c.holdsFor(v) {
			return false
		}
	}

	return len(clause) > 0

}

func (c Condition) holdsFor(v any) bool {

	if a, aOk := asFloat(v); aOk {
		if b, bOk := asFloat(c.Value); bOk {
			switch c.Op {
			case OpEqual:
				return a == b
			case OpLess:
				return a < b
			}
			return false
		}
	}

	switch c.Op {
	case OpEqual:
		// json arrays and objects are not comparable with ==
		return reflect.DeepEqual(v, c.Value)
	case OpLess:
		if s, ok := v.(string); ok {
			if o, ok := c.Value.(string); ok {
				return s < o
			}
		}
	}

	return false

}

func asFloat(v any) (float64, bool) {

	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}

}
