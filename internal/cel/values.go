package cel

import (
	"strings"

	"github.com/twinfer/tre-plugin/pkg/field"
)

// FieldValue converts a stored field into the value a predicate sees: numeric
// text becomes int (or double when it has a fraction), free text a trimmed
// string, and binary an unsigned integer when it has an integer width.
func FieldValue(f *field.Field) any {
	switch f.Type() {
	case field.TextNumeric:
		if v, err := f.Int64(); err == nil {
			return v
		}
		if v, err := f.Float64(); err == nil {
			return v
		}
		return strings.TrimSpace(f.String())
	case field.Binary:
		if v, err := f.Uint64(); err == nil {
			return v
		}
		return f.Bytes()
	default:
		return f.Trimmed()
	}
}
