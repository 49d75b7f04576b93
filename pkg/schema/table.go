// Package schema turns a flat tagged extension description into an immutable
// tree of field, conditional and loop nodes.
//
// A description is a list of FIELD, IF, ENDIF, LOOP, ENDLOOP and END entries.
// Build checks nesting and references once, so walking a table never has to.
package schema

import (
	"fmt"
	"slices"
	"strings"

	internalcel "github.com/twinfer/tre-plugin/internal/cel"
	"github.com/twinfer/tre-plugin/pkg/field"
)

// Node is a FieldNode, IfNode or LoopNode.
type Node interface {
	node()
}

// FieldNode stores one field per visit.
type FieldNode struct {
	Name  string
	Label string
	Type  field.ValueType
	// Length is the byte count, or LengthRemaining, or a computed length
	// evaluated by Size.
	Length   int
	Size     Sizer
	TypeFrom *TypeSwitch
	// Depth is the number of enclosing loops.
	Depth int
}

// IfNode keeps Body when Cond holds.
type IfNode struct {
	Cond Condition
	Body []Node
}

// LoopNode repeats Body Count times.
type LoopNode struct {
	Count Count
	Body  []Node
	Depth int
}

func (*FieldNode) node() {}
func (*IfNode) node()    {}
func (*LoopNode) node()  {}

// Remaining reports whether the field takes the rest of the input.
func (n *FieldNode) Remaining() bool { return n.Length == LengthRemaining }

// ResolveLength returns the byte count of the field, LengthRemaining for a
// field that takes the rest of the input.
func (n *FieldNode) ResolveLength(lookup Lookup) (int, error) {
	if n.Size != nil {
		return n.Size.Eval(lookup)
	}
	return n.Length, nil
}

// ResolveType returns the value type, consulting TypeFrom when set.
func (n *FieldNode) ResolveType(lookup Lookup) (field.ValueType, error) {
	if n.TypeFrom == nil {
		return n.Type, nil
	}
	f, err := lookup(n.TypeFrom.Ref)
	if err != nil {
		return n.Type, err
	}
	if t, ok := n.TypeFrom.Cases[f.Trimmed()]; ok {
		return t, nil
	}
	return n.TypeFrom.Default, nil
}

// Definition is one FIELD entry for a base name. Length is the declared
// length, or one of the Length constants. Type is the declared type; when
// Switched is set the type read or written depends on an earlier field.
type Definition struct {
	Depth    int
	Type     field.ValueType
	Length   int
	Label    string
	Switched bool
}

// Table is a built description. It is immutable and safe to share.
type Table struct {
	name  string
	nodes []Node
	defs  map[string][]Definition
	order []string
}

func (t *Table) Name() string  { return t.name }
func (t *Table) Nodes() []Node { return t.nodes }

// BaseNames lists the field names the table defines, in order of first
// definition.
func (t *Table) BaseNames() []string { return slices.Clone(t.order) }

// Definitions returns every FIELD entry for base.
func (t *Table) Definitions(base string) []Definition { return t.defs[base] }

// Label returns the label of the first definition of base.
func (t *Table) Label(base string) string {
	if d := t.defs[base]; len(d) > 0 {
		return d[0].Label
	}
	return ""
}

// Accepts reports whether name is a name the table can produce: a defined
// base name carrying one index per enclosing loop.
func (t *Table) Accepts(name string) bool {
	base, idx, ok := SplitName(name)
	if !ok {
		return false
	}
	for _, d := range t.defs[base] {
		if d.Depth == len(idx) {
			return true
		}
	}
	return false
}

// Definition returns the definition matching a concrete field name.
func (t *Table) Definition(name string) (Definition, bool) {
	base, idx, ok := SplitName(name)
	if !ok {
		return Definition{}, false
	}
	for _, d := range t.defs[base] {
		if d.Depth == len(idx) {
			return d, true
		}
	}
	return Definition{}, false
}

// MustBuild is Build that panics, for tables declared in Go source.
func MustBuild(name string, descs []Descriptor) *Table {
	t, err := Build(name, descs)
	if err != nil {
		panic(err)
	}
	return t
}

type frame struct {
	kind  Kind
	index int
	cond  Condition
	count Count
	body  []Node
}

type builder struct {
	table *Table
	index int
	depth int
	pool  *internalcel.ExpressionPool
}

// Build parses a flat description into a table. Nesting faults, unknown
// operators and references to fields not defined earlier are reported as
// *Error.
func Build(name string, descs []Descriptor) (*Table, error) {
	b := &builder{table: &Table{name: name, defs: make(map[string][]Definition)}}
	stack := []*frame{{kind: KindEnd, index: -1}}

	for i, d := range descs {
		b.index = i
		top := stack[len(stack)-1]
		switch d.Kind {
		case KindField:
			n, err := b.fieldNode(d)
			if err != nil {
				return nil, b.fail(d.Name, err)
			}
			top.body = append(top.body, n)
			b.define(d)
		case KindIf:
			cond, err := b.condition(d)
			if err != nil {
				return nil, b.fail(d.Name, err)
			}
			stack = append(stack, &frame{kind: KindIf, index: i, cond: cond})
		case KindEndIf:
			if top.kind != KindIf {
				return nil, b.fail("", fmt.Errorf("ENDIF closes %s: %w", openName(top), ErrNesting))
			}
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.body = append(parent.body, &IfNode{Cond: top.cond, Body: top.body})
		case KindLoop:
			count, err := b.count(d)
			if err != nil {
				return nil, b.fail(d.Name, err)
			}
			stack = append(stack, &frame{kind: KindLoop, index: i, count: count})
			b.depth++
		case KindEndLoop:
			if top.kind != KindLoop {
				return nil, b.fail("", fmt.Errorf("ENDLOOP closes %s: %w", openName(top), ErrNesting))
			}
			stack = stack[:len(stack)-1]
			b.depth--
			parent := stack[len(stack)-1]
			parent.body = append(parent.body, &LoopNode{Count: top.count, Body: top.body, Depth: b.depth})
		case KindEnd:
			if len(stack) > 1 {
				return nil, b.fail("", fmt.Errorf("END inside %s opened at %d: %w", openName(top), top.index, ErrNesting))
			}
			if i != len(descs)-1 {
				return nil, b.fail("", fmt.Errorf("%d descriptors after END: %w", len(descs)-1-i, ErrDescriptor))
			}
		default:
			return nil, b.fail(d.Name, fmt.Errorf("kind %s: %w", d.Kind, ErrDescriptor))
		}
	}
	if top := stack[len(stack)-1]; len(stack) > 1 {
		b.index = top.index
		return nil, b.fail("", fmt.Errorf("%s never closed: %w", openName(top), ErrNesting))
	}

	b.table.nodes = stack[0].body
	return b.table, nil
}

func openName(f *frame) string {
	if f.kind == KindEnd {
		return "nothing"
	}
	return f.kind.String()
}

func (b *builder) fail(name string, err error) error {
	return &Error{Table: b.table.name, Index: b.index, Name: name, Err: err}
}

func (b *builder) define(d Descriptor) {
	if _, ok := b.table.defs[d.Name]; !ok {
		b.table.order = append(b.table.order, d.Name)
	}
	b.table.defs[d.Name] = append(b.table.defs[d.Name], Definition{
		Depth:    b.depth,
		Type:     d.Type,
		Length:   d.Length,
		Label:    d.Label,
		Switched: d.TypeFrom != nil,
	})
}

// visible returns the definitions a reference can resolve to from the
// current loop depth.
func (b *builder) visible(ref string) ([]Definition, error) {
	base, explicit := splitRef(ref)
	if base == "" {
		return nil, fmt.Errorf("empty reference: %w", ErrUnknownRef)
	}
	var out []Definition
	for _, d := range b.table.defs[base] {
		if explicit >= 0 && d.Depth == explicit && explicit <= b.depth {
			out = append(out, d)
		}
		if explicit < 0 && d.Depth <= b.depth {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrUnknownRef)
	}
	return out, nil
}

// visibleNames returns every base name a bare reference can reach from the
// current depth.
func (b *builder) visibleNames() []string {
	var names []string
	for _, name := range b.table.order {
		for _, d := range b.table.defs[name] {
			if d.Depth <= b.depth {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

func (b *builder) checkRefs(refs []string) error {
	for _, ref := range refs {
		if _, err := b.visible(ref); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) fieldNode(d Descriptor) (*FieldNode, error) {
	if d.Name == "" || strings.ContainsAny(d.Name, "[] ") {
		return nil, fmt.Errorf("field name %q: %w", d.Name, ErrDescriptor)
	}
	if d.Type < field.TextAny || d.Type > field.Binary {
		return nil, fmt.Errorf("value type %d: %w", d.Type, ErrDescriptor)
	}
	n := &FieldNode{Name: d.Name, Label: d.Label, Type: d.Type, Length: d.Length, TypeFrom: d.TypeFrom, Depth: b.depth}

	switch {
	case d.Length > 0, d.Length == LengthRemaining:
	case d.Length == LengthComputed:
		p, err := parsePostfix(d.Expr)
		if err != nil {
			return nil, err
		}
		if err := b.checkRefs(p.refs); err != nil {
			return nil, err
		}
		n.Size = p
	case d.Length == LengthExpression:
		e, err := compileInfix(d.Expr, b.visibleNames())
		if err != nil {
			return nil, err
		}
		n.Size = e
	default:
		return nil, fmt.Errorf("length %d: %w", d.Length, ErrDescriptor)
	}

	if d.TypeFrom != nil {
		if _, err := b.visible(d.TypeFrom.Ref); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (b *builder) condition(d Descriptor) (Condition, error) {
	expr := strings.TrimSpace(d.Expr)
	if src, ok := strings.CutPrefix(expr, "cel "); ok {
		return b.celCondition(src)
	}

	cond, types, err := parseCondition(d.Name, expr)
	if err != nil {
		return nil, err
	}
	defs, err := b.visible(d.Name)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if slices.Contains(types, def.Type) {
			return cond, nil
		}
	}
	return nil, fmt.Errorf("%s on %s field %s: %w", expr, defs[0].Type, d.Name, ErrOperandType)
}

func (b *builder) celCondition(src string) (Condition, error) {
	if b.pool == nil {
		pool, err := internalcel.DefaultPool()
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}
	compiled, err := b.pool.Compile(src, b.visibleNames())
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrExpression)
	}
	return &celCondition{compiled: compiled, pool: b.pool}, nil
}

func (b *builder) count(d Descriptor) (Count, error) {
	switch d.Source {
	case CountField:
		c, err := parseFieldCount(d.Name, d.Expr)
		if err != nil {
			return nil, err
		}
		if _, err := b.visible(d.Name); err != nil {
			return nil, err
		}
		return c, nil
	case CountConstant:
		return constCount(d.Constant), nil
	case CountExpression:
		e, err := compileInfix(d.Expr, b.visibleNames())
		if err != nil {
			return nil, err
		}
		return exprCount{e}, nil
	case CountFunction:
		if d.Func == nil {
			return nil, fmt.Errorf("loop function is nil: %w", ErrDescriptor)
		}
		return funcCount{fn: d.Func}, nil
	}
	return nil, fmt.Errorf("count source %d: %w", d.Source, ErrDescriptor)
}
