package field

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Text decodes the value as ECS-A (ISO 8859-1) text, trailing padding removed.
func (f *Field) Text() (string, error) {
	if f.typ == Binary {
		return "", fmt.Errorf("field %s: %w", f.name, ErrBinaryString)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(f.raw)
	if err != nil {
		return "", fmt.Errorf("field %s: decoding text: %w", f.name, err)
	}
	return strings.TrimRight(string(s), " "), nil
}

// SetText encodes s as ISO 8859-1 and stores it. Runes outside Latin-1 are
// rejected.
func (f *Field) SetText(s string) error {
	if f.typ == Binary {
		return fmt.Errorf("field %s: %w", f.name, ErrBinaryString)
	}
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return fmt.Errorf("field %s: %q: %w", f.name, s, ErrInvalidText)
	}
	if f.typ == TextNumeric && !IsBCSN(string(b)) {
		return fmt.Errorf("field %s: %q: %w", f.name, s, ErrInvalidText)
	}
	return f.SetRaw(b)
}
