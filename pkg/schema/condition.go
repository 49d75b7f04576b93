package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	internalcel "github.com/twinfer/tre-plugin/internal/cel"
	"github.com/twinfer/tre-plugin/pkg/field"
)

// ErrNoField is returned by a Lookup when the referenced field is not stored.
var ErrNoField = errors.New("referenced field not present")

// Lookup resolves a reference, as written in a description, against the
// fields stored so far.
type Lookup func(ref string) (*field.Field, error)

// Condition is the test of an IF block.
type Condition interface {
	Eval(lookup Lookup) (bool, error)
	// Refs lists the references the condition reads.
	Refs() []string
	String() string
}

// textCondition is eq / ne: trimmed text equality on a non-numeric field.
type textCondition struct {
	ref    string
	negate bool
	value  string
}

func (c *textCondition) Eval(lookup Lookup) (bool, error) {
	f, err := lookup(c.ref)
	if err != nil {
		return false, err
	}
	if f.Type() == field.TextNumeric {
		return false, fmt.Errorf("%s: eq/ne on numeric field %s: %w", c, f.Name(), ErrOperandType)
	}
	eq := strings.TrimRight(f.String(), " ") == c.value
	return eq != c.negate, nil
}

func (c *textCondition) Refs() []string { return []string{c.ref} }

func (c *textCondition) String() string {
	op := "eq"
	if c.negate {
		op = "ne"
	}
	return fmt.Sprintf("%s %s %s", c.ref, op, c.value)
}

// numericCondition compares a numeric text field with an integer.
type numericCondition struct {
	ref   string
	op    string
	value int64
}

func (c *numericCondition) Eval(lookup Lookup) (bool, error) {
	f, err := lookup(c.ref)
	if err != nil {
		return false, err
	}
	if f.Type() != field.TextNumeric {
		return false, fmt.Errorf("%s: comparison on non-numeric field %s: %w", c, f.Name(), ErrOperandType)
	}
	v, err := f.Int64()
	if err != nil {
		return false, err
	}
	switch c.op {
	case "<":
		return v < c.value, nil
	case ">":
		return v > c.value, nil
	case "<=":
		return v <= c.value, nil
	case ">=":
		return v >= c.value, nil
	case "==":
		return v == c.value, nil
	default:
		return v != c.value, nil
	}
}

func (c *numericCondition) Refs() []string { return []string{c.ref} }
func (c *numericCondition) String() string { return fmt.Sprintf("%s %s %d", c.ref, c.op, c.value) }

// maskCondition holds when a binary field shares a bit with the mask.
type maskCondition struct {
	ref  string
	mask uint64
}

func (c *maskCondition) Eval(lookup Lookup) (bool, error) {
	f, err := lookup(c.ref)
	if err != nil {
		return false, err
	}
	if f.Type() != field.Binary {
		return false, fmt.Errorf("%s: bit test on non-binary field %s: %w", c, f.Name(), ErrOperandType)
	}
	v, err := f.Uint64()
	if err != nil {
		return false, err
	}
	return v&c.mask != 0, nil
}

func (c *maskCondition) Refs() []string { return []string{c.ref} }
func (c *maskCondition) String() string { return fmt.Sprintf("%s & %#x", c.ref, c.mask) }

// celCondition is a CEL predicate. Variables are base field names resolved
// like any other reference.
type celCondition struct {
	compiled *internalcel.Compiled
	pool     *internalcel.ExpressionPool
}

func (c *celCondition) Eval(lookup Lookup) (bool, error) {
	vars, err := fieldVars(c.compiled.Refs, lookup)
	if err != nil {
		return false, err
	}
	out, err := c.pool.EvaluateExpression(c.compiled, vars)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%s: result %T is not a bool: %w", c, out, ErrExpression)
	}
	return b, nil
}

func (c *celCondition) Refs() []string { return c.compiled.Refs }
func (c *celCondition) String() string { return "cel " + c.compiled.Source }

func fieldVars(refs []string, lookup Lookup) (map[string]any, error) {
	vars := make(map[string]any, len(refs))
	for _, ref := range refs {
		f, err := lookup(ref)
		if err != nil {
			return nil, err
		}
		vars[ref] = internalcel.FieldValue(f)
	}
	return vars, nil
}

// parseCondition reads the IF mini-language: "eq TEXT", "ne TEXT",
// "< N", "> N", "<= N", ">= N", "== N", "!= N" and "& MASK".
func parseCondition(ref, expr string) (Condition, []field.ValueType, error) {
	op, operand, _ := strings.Cut(strings.TrimSpace(expr), " ")
	switch op {
	case "eq", "ne":
		return &textCondition{ref: ref, negate: op == "ne", value: strings.TrimRight(operand, " ")},
			[]field.ValueType{field.TextAny, field.Binary}, nil
	case "<", ">", "<=", ">=", "==", "!=":
		v, err := strconv.ParseInt(strings.TrimSpace(operand), 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("operand %q of %s: %w", operand, op, ErrExpression)
		}
		return &numericCondition{ref: ref, op: op, value: v}, []field.ValueType{field.TextNumeric}, nil
	case "&":
		m, err := strconv.ParseUint(strings.TrimSpace(operand), 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("mask %q: %w", operand, ErrExpression)
		}
		return &maskCondition{ref: ref, mask: m}, []field.ValueType{field.Binary}, nil
	}
	return nil, nil, fmt.Errorf("%q: %w", op, ErrOperator)
}
