package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// NewEnvironment creates the base CEL environment used for description
// predicates. Field variables are declared per expression by the pool.
func NewEnvironment() (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.CustomTypeAdapter(NewFieldTypeAdapter()),
		cel.StdLib(),

		StringFunctions(),
		TypeConversionFunctions(),
		BitwiseFunctions(),
		MathFunctions(),
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return env, nil
}

// FieldTypeAdapter extends the default type adapter to handle Go's smaller numeric types
type FieldTypeAdapter struct {
	types.Adapter
}

// NewFieldTypeAdapter creates a new type adapter for decoded field values
func NewFieldTypeAdapter() *FieldTypeAdapter {
	return &FieldTypeAdapter{
		Adapter: types.DefaultTypeAdapter,
	}
}

// NativeToValue converts Go native types to CEL values, handling smaller integer types
func (a *FieldTypeAdapter) NativeToValue(value any) ref.Val {
	switch v := value.(type) {
	case int8:
		return types.Int(v)
	case int16:
		return types.Int(v)
	case int32:
		return types.Int(v)
	case int:
		return types.Int(v)
	case uint8:
		return types.Uint(v)
	case uint16:
		return types.Uint(v)
	case uint32:
		return types.Uint(v)
	case float32:
		return types.Double(v)
	default:
		return a.Adapter.NativeToValue(value)
	}
}
