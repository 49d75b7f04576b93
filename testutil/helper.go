// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/twinfer/tre-plugin/pkg/tre"
)

// Frame returns one extension area entry: tag, five digit length, data.
func Frame(tag, data string) string {
	return fmt.Sprintf("%-6s%05d%s", tag, len(data), data)
}

// PadA pads s with spaces to n characters.
func PadA(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}

// PadN formats v as n zero padded digits.
func PadN(v, n int) string {
	return fmt.Sprintf("%0*d", n, v)
}

// FieldSnapshot is a comparable copy of one stored field.
type FieldSnapshot struct {
	Name string
	Type string
	Raw  string
}

// Snapshot copies the fields of e in store order.
func Snapshot(e *tre.Extension) []FieldSnapshot {
	out := make([]FieldSnapshot, 0, e.Len())
	for name, f := range e.All() {
		out = append(out, FieldSnapshot{Name: name, Type: f.Type().String(), Raw: string(f.Raw())})
	}
	return out
}

// DiffExtensions reports how got differs from want in tag, id and fields,
// or "" when they match.
func DiffExtensions(want, got *tre.Extension) string {
	type view struct {
		Tag, ID string
		Raw     bool
		Fields  []FieldSnapshot
	}
	v := func(e *tre.Extension) view {
		return view{Tag: e.Tag(), ID: e.ID(), Raw: e.IsRaw(), Fields: Snapshot(e)}
	}
	return cmp.Diff(v(want), v(got))
}
