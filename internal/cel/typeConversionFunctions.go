package cel

import (
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// TypeConversionFunctions returns CEL function declarations for numeric
// conversions of text values.
func TypeConversionFunctions() cel.EnvOption {
	return cel.Lib(&typeConversionLib{})
}

type typeConversionLib struct{}

func (*typeConversionLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("to_i",
			cel.Overload("to_i_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					str, ok := val.(types.String)
					if !ok {
						return types.NewErr("unexpected type for to_i: %T", val.Value())
					}
					return stringToInt(string(str), 10)
				}),
			),
			cel.Overload("to_i_string_int", []*cel.Type{cel.StringType, cel.IntType}, cel.IntType,
				cel.BinaryBinding(func(str, base ref.Val) ref.Val {
					s, ok := str.(types.String)
					if !ok {
						return types.NewErr("first argument must be string")
					}
					b, ok := base.(types.Int)
					if !ok {
						return types.NewErr("base must be integer")
					}
					return stringToInt(string(s), int(b))
				}),
			),
			cel.Overload("to_i_uint", []*cel.Type{cel.UintType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					if u, ok := val.(types.Uint); ok {
						return types.Int(u)
					}
					return types.NewErr("unexpected type for to_i: %T", val.Value())
				}),
			),
			cel.Overload("to_i_double", []*cel.Type{cel.DoubleType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					if d, ok := val.(types.Double); ok {
						return types.Int(d)
					}
					return types.NewErr("unexpected type for to_i: %T", val.Value())
				}),
			),
		),

		cel.Function("to_f",
			cel.Overload("to_f_any", []*cel.Type{cel.AnyType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					if s, ok := val.(types.String); ok {
						f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
						if err != nil {
							return types.NewErr("cannot convert %q to double: %v", string(s), err)
						}
						return types.Double(f)
					}
					converted := val.ConvertToType(cel.DoubleType)
					if types.IsError(converted) {
						return types.NewErr("cannot convert %v to double: %v", val, converted)
					}
					return converted
				}),
			),
		),
	}
}

func (*typeConversionLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}

// stringToInt parses numeric text, ignoring field padding.
func stringToInt(str string, base int) ref.Val {
	if base < 2 || base > 36 {
		return types.NewErr("base must be between 2 and 36")
	}
	result, err := strconv.ParseInt(strings.TrimSpace(str), base, 64)
	if err != nil {
		return types.NewErr("invalid integer format: %v", err)
	}
	return types.Int(result)
}
