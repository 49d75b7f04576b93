// pool.go
package cel

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Compiled is a checked CEL program and the variables it reads.
type Compiled struct {
	Source  string
	Program cel.Program
	Output  *cel.Type
	Refs    []string
}

// ExpressionPool caches compiled CEL expressions
type ExpressionPool struct {
	mu          sync.RWMutex
	expressions map[string]*Compiled
	env         *cel.Env
}

// NewExpressionPool creates a new expression pool with a configured CEL environment
func NewExpressionPool() (*ExpressionPool, error) {
	env, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	return &ExpressionPool{
		env:         env,
		expressions: make(map[string]*Compiled),
	}, nil
}

// NewExpressionPoolWithEnv creates a new expression pool with a custom CEL environment
func NewExpressionPoolWithEnv(env *cel.Env) (*ExpressionPool, error) {
	if env == nil {
		return nil, fmt.Errorf("CEL environment cannot be nil")
	}

	return &ExpressionPool{
		env:         env,
		expressions: make(map[string]*Compiled),
	}, nil
}

var (
	defaultPool     *ExpressionPool
	defaultPoolErr  error
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process wide pool.
func DefaultPool() (*ExpressionPool, error) {
	defaultPoolOnce.Do(func() {
		defaultPool, defaultPoolErr = NewExpressionPool()
	})
	return defaultPool, defaultPoolErr
}

// Compile checks exprStr with exactly vars declared and returns the cached
// program. An identifier outside vars is a compile error.
func (e *ExpressionPool) Compile(exprStr string, vars []string) (*Compiled, error) {
	declared := slices.Clone(vars)
	slices.Sort(declared)
	declared = slices.Compact(declared)
	key := exprStr + "\x00" + strings.Join(declared, ",")

	e.mu.RLock()
	if c, ok := e.expressions[key]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	envOpts := make([]cel.EnvOption, 0, len(declared))
	for _, name := range declared {
		envOpts = append(envOpts, cel.Variable(name, cel.DynType))
	}
	extEnv, err := e.env.Extend(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to extend environment: %w", err)
	}

	ast, issues := extEnv.Compile(exprStr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", exprStr, issues.Err())
	}

	refs, err := References(ast)
	if err != nil {
		return nil, err
	}

	program, err := extEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c := &Compiled{Source: exprStr, Program: program, Output: ast.OutputType(), Refs: refs}

	e.mu.Lock()
	e.expressions[key] = c
	e.mu.Unlock()

	return c, nil
}

// References lists the variables a checked expression reads, sorted.
func References(ast *cel.Ast) ([]string, error) {
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to read checked expression: %w", err)
	}
	return variableRefs(checked), nil
}

func variableRefs(checked *exprpb.CheckedExpr) []string {
	var refs []string
	for _, r := range checked.GetReferenceMap() {
		// Function references carry overload ids, variables only a name.
		if r.GetName() == "" || len(r.GetOverloadId()) > 0 {
			continue
		}
		refs = append(refs, r.GetName())
	}
	slices.Sort(refs)
	return slices.Compact(refs)
}

// Len reports the number of cached programs.
func (e *ExpressionPool) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.expressions)
}

// EvaluateExpression evaluates a compiled expression with parameters
func (e *ExpressionPool) EvaluateExpression(c *Compiled, params map[string]any) (any, error) {
	if params == nil {
		params = make(map[string]any)
	}

	activation, err := cel.NewActivation(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation: %w", err)
	}

	val, _, err := c.Program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation error: %w", err)
	}

	return adaptCELResult(val.Value()), nil
}

// adaptCELResult converts CEL result values to Go native types
func adaptCELResult(val any) any {
	switch v := val.(type) {
	case types.Int:
		return int64(v)
	case types.Uint:
		return uint64(v)
	case types.Double:
		return float64(v)
	case types.Bool:
		return bool(v)
	case types.String:
		return string(v)
	case types.Bytes:
		return []byte(v)
	case types.Null:
		return nil
	case ref.Val:
		if lister, ok := v.(traits.Lister); ok {
			size := lister.Size().(types.Int)
			result := make([]any, size)
			for i := types.Int(0); i < size; i++ {
				item := lister.Get(types.Int(i))
				result[i] = adaptCELResult(item.Value())
			}
			return result
		}
		return v.Value()
	default:
		return v
	}
}
