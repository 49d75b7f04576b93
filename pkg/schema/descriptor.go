package schema

import (
	"fmt"

	"github.com/twinfer/tre-plugin/pkg/field"
)

// Kind is the role of one entry in a flat description.
type Kind int

const (
	KindField Kind = iota
	KindIf
	KindEndIf
	KindLoop
	KindEndLoop
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "FIELD"
	case KindIf:
		return "IF"
	case KindEndIf:
		return "ENDIF"
	case KindLoop:
		return "LOOP"
	case KindEndLoop:
		return "ENDLOOP"
	case KindEnd:
		return "END"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Special values of Descriptor.Length.
const (
	// LengthRemaining takes every byte left in the extension.
	LengthRemaining = -1
	// LengthComputed evaluates Expr as a postfix expression: "ENGDATC ENGDTS *".
	LengthComputed = -100
	// LengthExpression evaluates Expr as an infix expression: "ENGDATC * ENGDTS".
	LengthExpression = -101
)

// CountSource says where a LOOP takes its iteration count from.
type CountSource int

const (
	// CountField reads the field named by Name, adjusted by the modifier in Expr
	// ("+ 1", "- 1", "* 2", "/ 2", "% 4").
	CountField CountSource = iota
	// CountConstant repeats Constant times.
	CountConstant
	// CountExpression evaluates Expr as an infix expression over earlier fields.
	CountExpression
	// CountFunction calls Func.
	CountFunction
)

// CountFunc computes a loop count from the fields decoded so far.
type CountFunc func(lookup Lookup) (int, error)

// TypeSwitch picks a field's value type from the trimmed text of an earlier
// field, falling back to Default.
type TypeSwitch struct {
	Ref     string
	Cases   map[string]field.ValueType
	Default field.ValueType
}

// Descriptor is one entry of a flat description: FIELD, IF, ENDIF, LOOP,
// ENDLOOP or END.
//
// For FIELD, Name is the field name and Length its byte count or one of the
// Length constants. For IF, Name is the tested field and Expr the condition
// ("eq I", "& 0x80000000", ">= 2"); a condition starting with "cel " is a CEL
// predicate and needs no Name. For LOOP, Source selects the count.
type Descriptor struct {
	Kind     Kind
	Type     field.ValueType
	Length   int
	Label    string
	Name     string
	Expr     string
	Source   CountSource
	Constant int
	Func     CountFunc
	TypeFrom *TypeSwitch
}

// Field describes a fixed length field.
func Field(typ field.ValueType, length int, label, name string) Descriptor {
	return Descriptor{Kind: KindField, Type: typ, Length: length, Label: label, Name: name}
}

// Remaining describes a field that takes the rest of the extension.
func Remaining(typ field.ValueType, label, name string) Descriptor {
	return Descriptor{Kind: KindField, Type: typ, Length: LengthRemaining, Label: label, Name: name}
}

// Computed describes a field whose length is a postfix expression of integers,
// earlier field names and + - * / %. A single field name is the simplest form.
func Computed(typ field.ValueType, postfix, label, name string) Descriptor {
	return Descriptor{Kind: KindField, Type: typ, Length: LengthComputed, Label: label, Name: name, Expr: postfix}
}

// Sized describes a field whose length is an infix expression.
func Sized(typ field.ValueType, expr, label, name string) Descriptor {
	return Descriptor{Kind: KindField, Type: typ, Length: LengthExpression, Label: label, Name: name, Expr: expr}
}

// TypedBy makes the field's value type depend on an earlier field.
func (d Descriptor) TypedBy(ref string, cases map[string]field.ValueType, def field.ValueType) Descriptor {
	d.TypeFrom = &TypeSwitch{Ref: ref, Cases: cases, Default: def}
	return d
}

// If opens a block kept only when cond holds for the named field.
func If(name, cond string) Descriptor {
	return Descriptor{Kind: KindIf, Name: name, Expr: cond}
}

// IfCEL opens a block guarded by a CEL predicate over earlier fields.
func IfCEL(expr string) Descriptor {
	return Descriptor{Kind: KindIf, Expr: "cel " + expr}
}

func EndIf() Descriptor { return Descriptor{Kind: KindEndIf} }

// Loop repeats its block as many times as the named field says.
func Loop(name string) Descriptor {
	return Descriptor{Kind: KindLoop, Source: CountField, Name: name}
}

// LoopMod is Loop with the count adjusted: LoopMod("NUM", "- 1").
func LoopMod(name, modifier string) Descriptor {
	return Descriptor{Kind: KindLoop, Source: CountField, Name: name, Expr: modifier}
}

// LoopConst repeats its block n times.
func LoopConst(n int) Descriptor {
	return Descriptor{Kind: KindLoop, Source: CountConstant, Constant: n}
}

// LoopExpr repeats its block by an infix expression over earlier fields.
func LoopExpr(expr string) Descriptor {
	return Descriptor{Kind: KindLoop, Source: CountExpression, Expr: expr}
}

// LoopFunc repeats its block by a count computed in Go.
func LoopFunc(fn CountFunc) Descriptor {
	return Descriptor{Kind: KindLoop, Source: CountFunction, Func: fn}
}

func EndLoop() Descriptor { return Descriptor{Kind: KindEndLoop} }
func End() Descriptor     { return Descriptor{Kind: KindEnd} }
