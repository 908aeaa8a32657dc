package trigger

import (
	"fmt"
	"strings"
)

// Operator is the closed set of comparisons a trigger can express.
type Operator uint8

const (
	GreaterThan Operator = iota + 1
	GreaterThanOrEqualTo
	LessThan
	LessThanOrEqualTo
	EqualTo
	NotEqualTo
	Exists
	NotExists
	Contains
)

// operatorSymbols maps each operator to the form used in message definitions.
var operatorSymbols = map[Operator]string{
	GreaterThan:          ">",
	GreaterThanOrEqualTo: ">=",
	LessThan:             "<",
	LessThanOrEqualTo:    "<=",
	EqualTo:              "==",
	NotEqualTo:           "!=",
	Exists:               "exists",
	NotExists:            "not_exists",
	Contains:             "in",
}

var operatorNames = map[Operator]string{
	GreaterThan:          "GREATER_THAN",
	GreaterThanOrEqualTo: "GREATER_THAN_OR_EQUAL_TO",
	LessThan:             "LESS_THAN",
	LessThanOrEqualTo:    "LESS_THAN_OR_EQUAL_TO",
	EqualTo:              "EQUAL_TO",
	NotEqualTo:           "NOT_EQUAL_TO",
	Exists:               "EXISTS",
	NotExists:            "NOT_EXISTS",
	Contains:             "CONTAINS",
}

// ParseOperator resolves the wire form of an operator. Both the symbolic
// form (">=", "in", ...) and the enum name ("GREATER_THAN_OR_EQUAL_TO")
// are accepted; names are matched case-insensitively.
func ParseOperator(s string) (Operator, error) {
	for op, sym := range operatorSymbols {
		if s == sym {
			return op, nil
		}
	}
	for op, name := range operatorNames {
		if strings.EqualFold(s, name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// String returns the enum name of the operator.
func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operator(%d)", uint8(o))
}

// Symbol returns the wire form of the operator.
func (o Operator) Symbol() string {
	return operatorSymbols[o]
}

// Valid reports whether o is one of the declared operators.
func (o Operator) Valid() bool {
	_, ok := operatorNames[o]
	return ok
}

// IsOrdering reports whether o is one of >, >=, < or <=.
func (o Operator) IsOrdering() bool {
	switch o {
	case GreaterThan, GreaterThanOrEqualTo, LessThan, LessThanOrEqualTo:
		return true
	default:
		return false
	}
}

// RequiresOperand reports whether a trigger using o must carry a value.
func (o Operator) RequiresOperand() bool {
	return o != Exists && o != NotExists
}

// Evaluate compares the stored value (the left-hand side) against the
// trigger operand. present is false when the store holds no entry for the
// property; absence only ever satisfies NotExists.
//
// Mismatched types never raise: a comparison that is not defined for the
// operands is simply false.
func (o Operator) Evaluate(stored Value, present bool, operand Value) bool {
	switch o {
	case Exists:
		return present
	case NotExists:
		return !present
	}

	if !present {
		return false
	}

	switch o {
	case Contains:
		return evalContains(stored, operand)
	case EqualTo:
		return evalEquality(stored, operand, true)
	case NotEqualTo:
		return evalEquality(stored, operand, false)
	case GreaterThan, GreaterThanOrEqualTo, LessThan, LessThanOrEqualTo:
		return evalOrdering(o, stored, operand)
	default:
		return false
	}
}

// evalContains checks that the stored sequence holds the operand string.
func evalContains(stored, operand Value) bool {
	if operand.Kind() != KindString {
		return false
	}
	s, _ := operand.Text()
	return stored.Has(s)
}

// evalEquality compares numerically when both sides look numeric and by
// exact string form otherwise. No float tolerance is applied.
func evalEquality(stored, operand Value, want bool) bool {
	if !scalar(stored) || !scalar(operand) {
		return false
	}

	if l, ok := stored.Float(); ok {
		if r, ok := operand.Float(); ok {
			return (l == r) == want
		}
	}

	l, _ := stored.Text()
	r, _ := operand.Text()
	return (l == r) == want
}

// evalOrdering fails closed for anything that is not numeric on both sides.
func evalOrdering(o Operator, stored, operand Value) bool {
	l, ok := stored.Float()
	if !ok {
		return false
	}
	r, ok := operand.Float()
	if !ok {
		return false
	}

	switch o {
	case GreaterThan:
		return l > r
	case GreaterThanOrEqualTo:
		return l >= r
	case LessThan:
		return l < r
	case LessThanOrEqualTo:
		return l <= r
	default:
		return false
	}
}

func scalar(v Value) bool {
	switch v.Kind() {
	case KindNumber, KindString, KindBool:
		return true
	default:
		return false
	}
}
