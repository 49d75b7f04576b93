package interp

import (
	"errors"
	"fmt"
)

var (
	// ErrTrailingData means the description finished before the input did.
	ErrTrailingData = errors.New("data is longer than described")
	// ErrMissingField means a field the description reaches is not stored.
	ErrMissingField = errors.New("field not set")
)

// DecodeError locates a decode failure. Fields decoded before the failure are
// left in the store returned alongside it.
type DecodeError struct {
	Tag    string
	Field  string
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s at offset %d: %v", e.Tag, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode %s field %s at offset %d: %v", e.Tag, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError locates an encode, size or reshape failure.
type EncodeError struct {
	Tag   string
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s field %s: %v", e.Tag, e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
