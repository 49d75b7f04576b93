package tre

import "errors"

var (
	ErrUnknownTag     = errors.New("no description registered for tag")
	ErrUnknownID      = errors.New("no description with that id")
	ErrRegistryFrozen = errors.New("registry is frozen")
	ErrDuplicateTag   = errors.New("tag already registered")

	// ErrFieldNotFound is returned for a name the description can never
	// produce, or one it produces but that is not stored.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnsupportedValue is returned by SetField for a Go type it cannot store.
	ErrUnsupportedValue = errors.New("unsupported value type")
)
