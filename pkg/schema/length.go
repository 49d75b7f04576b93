package schema

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Sizer computes the byte length of a field from earlier fields. A zero
// length means the field is absent.
type Sizer interface {
	Eval(lookup Lookup) (int, error)
	Refs() []string
	String() string
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokRef
	tokOp
)

type token struct {
	kind tokenKind
	num  int64
	ref  string
	op   byte
}

// postfix is a space separated postfix expression: "ENGDATC ENGDTS *".
type postfix struct {
	src    string
	tokens []token
	refs   []string
}

func parsePostfix(src string) (*postfix, error) {
	p := &postfix{src: src}
	depth := 0
	for _, word := range strings.Fields(src) {
		switch {
		case len(word) == 1 && strings.Contains("+-*/%", word):
			if depth < 2 {
				return nil, fmt.Errorf("postfix %q: operator %s needs two operands: %w", src, word, ErrExpression)
			}
			depth--
			p.tokens = append(p.tokens, token{kind: tokOp, op: word[0]})
		default:
			if n, err := strconv.ParseInt(word, 10, 64); err == nil {
				p.tokens = append(p.tokens, token{kind: tokNumber, num: n})
			} else {
				p.tokens = append(p.tokens, token{kind: tokRef, ref: word})
				p.refs = append(p.refs, word)
			}
			depth++
		}
	}
	if depth != 1 {
		return nil, fmt.Errorf("postfix %q leaves %d values: %w", src, depth, ErrExpression)
	}
	return p, nil
}

func (p *postfix) Eval(lookup Lookup) (int, error) {
	stack := make([]int64, 0, len(p.tokens))
	for _, t := range p.tokens {
		switch t.kind {
		case tokNumber:
			stack = append(stack, t.num)
		case tokRef:
			f, err := lookup(t.ref)
			if err != nil {
				return 0, err
			}
			v, err := f.Int64()
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case tokOp:
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			if (t.op == '/' || t.op == '%') && b == 0 {
				return 0, fmt.Errorf("postfix %q: %w", p.src, ErrDivideByZero)
			}
			stack = append(stack, applyOp(t.op, a, b))
		}
	}
	return checkLength(p.src, stack[0])
}

func (p *postfix) Refs() []string { return p.refs }
func (p *postfix) String() string { return p.src }

func checkLength(src string, v int64) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("length %q evaluates to %d: %w", src, v, ErrExpression)
	}
	return int(v), nil
}

// infix is an expr-lang arithmetic expression over earlier integer fields.
type infix struct {
	src     string
	program *vm.Program
	refs    []string
}

type identVisitor struct {
	names   []string
	callees []string
}

func (v *identVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.names = append(v.names, n.Value)
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			v.callees = append(v.callees, id.Value)
		}
	}
}

// compileInfix compiles src with only the visible names in scope.
func compileInfix(src string, visible []string) (*infix, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %v: %w", src, err, ErrExpression)
	}
	v := &identVisitor{}
	ast.Walk(&tree.Node, v)

	env := make(map[string]any, len(visible))
	for _, name := range visible {
		env[name] = int64(0)
	}
	var refs []string
	for _, name := range v.names {
		if slices.Contains(v.callees, name) {
			continue
		}
		if _, ok := env[name]; !ok {
			return nil, fmt.Errorf("expression %q: %s: %w", src, name, ErrUnknownRef)
		}
		refs = append(refs, name)
	}
	slices.Sort(refs)

	program, err := expr.Compile(src, expr.Env(env), expr.AsInt64())
	if err != nil {
		return nil, fmt.Errorf("expression %q: %v: %w", src, err, ErrExpression)
	}
	return &infix{src: src, program: program, refs: slices.Compact(refs)}, nil
}

func (e *infix) eval(lookup Lookup) (int64, error) {
	env := make(map[string]any, len(e.refs))
	for _, ref := range e.refs {
		f, err := lookup(ref)
		if err != nil {
			return 0, err
		}
		v, err := f.Int64()
		if err != nil {
			return 0, err
		}
		env[ref] = v
	}
	out, err := expr.Run(e.program, env)
	if err != nil {
		return 0, fmt.Errorf("expression %q: %w", e.src, err)
	}
	n, ok := out.(int64)
	if !ok {
		return 0, fmt.Errorf("expression %q: result %T: %w", e.src, out, ErrExpression)
	}
	return n, nil
}

func (e *infix) Eval(lookup Lookup) (int, error) {
	v, err := e.eval(lookup)
	if err != nil {
		return 0, err
	}
	return checkLength(e.src, v)
}

func (e *infix) Refs() []string { return e.refs }
func (e *infix) String() string { return e.src }
