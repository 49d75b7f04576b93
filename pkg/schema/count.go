package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Count is the iteration count of a LOOP block. Negative results count as
// zero.
type Count interface {
	Eval(lookup Lookup) (int, error)
	Refs() []string
	String() string
}

// fieldCount reads a field and applies an optional "op N" modifier.
type fieldCount struct {
	ref     string
	op      byte
	operand int64
}

func parseFieldCount(ref, modifier string) (*fieldCount, error) {
	c := &fieldCount{ref: ref}
	modifier = strings.TrimSpace(modifier)
	if modifier == "" {
		return c, nil
	}
	op, operand, _ := strings.Cut(modifier, " ")
	if len(op) != 1 || !strings.Contains("+-*/%", op) {
		return nil, fmt.Errorf("count modifier %q: %w", modifier, ErrOperator)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(operand), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("count modifier %q: %w", modifier, ErrExpression)
	}
	if (op == "/" || op == "%") && n == 0 {
		return nil, fmt.Errorf("count modifier %q: %w", modifier, ErrDivideByZero)
	}
	c.op, c.operand = op[0], n
	return c, nil
}

func (c *fieldCount) Eval(lookup Lookup) (int, error) {
	f, err := lookup(c.ref)
	if err != nil {
		return 0, err
	}
	v, err := f.Int64()
	if err != nil {
		return 0, err
	}
	v = applyOp(c.op, v, c.operand)
	return clampCount(v), nil
}

func applyOp(op byte, a, b int64) int64 {
	switch op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	case '/':
		return a / b
	case '%':
		return a % b
	}
	return a
}

func (c *fieldCount) Refs() []string { return []string{c.ref} }

func (c *fieldCount) String() string {
	if c.op == 0 {
		return c.ref
	}
	return fmt.Sprintf("%s %c %d", c.ref, c.op, c.operand)
}

type constCount int

func (c constCount) Eval(Lookup) (int, error) { return clampCount(int64(c)), nil }
func (c constCount) Refs() []string           { return nil }
func (c constCount) String() string           { return strconv.Itoa(int(c)) }

type funcCount struct {
	fn CountFunc
}

func (c funcCount) Eval(lookup Lookup) (int, error) {
	n, err := c.fn(lookup)
	if err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

func (c funcCount) Refs() []string { return nil }
func (c funcCount) String() string { return "func" }

// exprCount evaluates an infix expression.
type exprCount struct {
	*infix
}

func (c exprCount) Eval(lookup Lookup) (int, error) {
	v, err := c.eval(lookup)
	if err != nil {
		return 0, err
	}
	return clampCount(v), nil
}

func clampCount(v int64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}
