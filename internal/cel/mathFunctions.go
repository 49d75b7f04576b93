package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// MathFunctions declares abs, min and max over integers and doubles, the
// shapes numeric text fields take in a predicate.
func MathFunctions() cel.EnvOption {
	return cel.Lib(&mathLib{})
}

type mathLib struct{}

func intPair(name string, fn func(a, b types.Int) types.Int) cel.FunctionOpt {
	return cel.Overload(name+"_int_int", []*cel.Type{cel.IntType, cel.IntType}, cel.IntType,
		cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
			a, ok1 := lhs.(types.Int)
			b, ok2 := rhs.(types.Int)
			if !ok1 || !ok2 {
				return types.NewErr("%s: expected ints, got %T and %T", name, lhs, rhs)
			}
			return fn(a, b)
		}))
}

func doublePair(name string, fn func(a, b types.Double) types.Double) cel.FunctionOpt {
	return cel.Overload(name+"_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
		cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
			a, ok1 := lhs.(types.Double)
			b, ok2 := rhs.(types.Double)
			if !ok1 || !ok2 {
				return types.NewErr("%s: expected doubles, got %T and %T", name, lhs, rhs)
			}
			return fn(a, b)
		}))
}

func (*mathLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("abs",
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					x, ok := val.(types.Int)
					if !ok {
						return types.NewErr("abs: expected int, got %T", val)
					}
					return max(x, -x)
				}),
			),
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					x, ok := val.(types.Double)
					if !ok {
						return types.NewErr("abs: expected double, got %T", val)
					}
					return max(x, -x)
				}),
			),
		),
		cel.Function("min",
			intPair("min", func(a, b types.Int) types.Int { return min(a, b) }),
			doublePair("min", func(a, b types.Double) types.Double { return min(a, b) }),
		),
		cel.Function("max",
			intPair("max", func(a, b types.Int) types.Int { return max(a, b) }),
			doublePair("max", func(a, b types.Double) types.Double { return max(a, b) }),
		),
	}
}

func (*mathLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
