package schema

import (
	"errors"
	"fmt"
)

var (
	ErrNesting      = errors.New("mismatched nesting")
	ErrUnknownRef   = errors.New("reference to a field not defined earlier")
	ErrOperator     = errors.New("unknown operator")
	ErrOperandType  = errors.New("operator not valid for field type")
	ErrDivideByZero = errors.New("division by zero")
	ErrExpression   = errors.New("invalid expression")
	ErrDescriptor   = errors.New("invalid descriptor")
)

// Error is a fault in a description, reported when the table is built.
type Error struct {
	Table string
	Index int
	Name  string
	Err   error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("schema %s: descriptor %d (%s): %v", e.Table, e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("schema %s: descriptor %d: %v", e.Table, e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
