package cel

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// StringFunctions returns CEL function declarations for string operations on
// text field values.
func StringFunctions() cel.EnvOption {
	return cel.Lib(&stringLib{})
}

type stringLib struct{}

func (*stringLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("to_s",
			cel.Overload("to_s_any", []*cel.Type{cel.AnyType}, cel.StringType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					if b, ok := val.(types.Bytes); ok {
						return types.String(string(b))
					}
					return types.String(fmt.Sprintf("%v", val.Value()))
				}),
			),
		),
		// trim drops the padding of a text value
		cel.Function("trim",
			cel.Overload("trim_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					str, ok := val.(types.String)
					if !ok {
						return types.NewErr("expected string type for trim")
					}
					return types.String(strings.TrimSpace(string(str)))
				}),
			),
		),
		cel.Function("length",
			cel.Overload("length_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					str, ok := val.(types.String)
					if !ok {
						return types.NewErr("expected string type for length")
					}
					return types.Int(len([]rune(string(str))))
				}),
			),
			cel.Overload("length_bytes", []*cel.Type{cel.BytesType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					b, ok := val.(types.Bytes)
					if !ok {
						return types.NewErr("expected bytes type for length")
					}
					return types.Int(len(b))
				}),
			),
		),
		// substring(s, start, end) clamps out of range bounds
		cel.Function("substring",
			cel.Overload("substring_string_int_int", []*cel.Type{cel.StringType, cel.IntType, cel.IntType}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					if len(args) != 3 {
						return types.NewErr("substring requires exactly 3 arguments: string, start, end")
					}
					str, ok := args[0].(types.String)
					if !ok {
						return types.NewErr("first argument must be string")
					}
					start, ok := args[1].(types.Int)
					if !ok {
						return types.NewErr("start index must be integer")
					}
					end, ok := args[2].(types.Int)
					if !ok {
						return types.NewErr("end index must be integer")
					}

					runes := []rune(string(str))
					lo, hi := max(int(start), 0), min(int(end), len(runes))
					if lo >= hi {
						return types.String("")
					}
					return types.String(string(runes[lo:hi]))
				}),
			),
		),
	}
}

func (*stringLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
