// Package tre holds tagged extension instances and the registry that binds
// tags to their descriptions.
//
// An extension starts empty. Decode or SetField followed by UpdateFields
// populates it, and once every field its description reaches is stored it
// can be encoded.
package tre

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/interp"
	"github.com/twinfer/tre-plugin/pkg/schema"
)

// Store is the ordered field store of an extension.
type Store = interp.Store

// State is the lifecycle stage of an extension.
type State int

const (
	Empty State = iota
	Populated
	Serializable
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	default:
		return "serializable"
	}
}

// Extension is one tagged extension. It is not safe for concurrent use.
type Extension struct {
	tag    string
	id     string
	interp *interp.Interpreter
	store  *Store
	raw    bool
}

func newExtension(tag, id string, p *interp.Interpreter) *Extension {
	return &Extension{tag: tag, id: id, interp: p, store: interp.NewStore()}
}

func (e *Extension) Tag() string { return e.tag }

// ID names the description variant the extension is bound to.
func (e *Extension) ID() string { return e.id }

// IsRaw reports whether the extension holds undescribed data.
func (e *Extension) IsRaw() bool          { return e.raw }
func (e *Extension) Table() *schema.Table { return e.interp.Table() }
func (e *Extension) Len() int             { return e.store.Len() }

// Field returns a stored field.
func (e *Extension) Field(name string) (*field.Field, error) {
	if f, ok := e.store.Get(name); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%s %s: %w", e.tag, name, ErrFieldNotFound)
}

func (e *Extension) Has(name string) bool { return e.store.Has(name) }

// SetField stores value under name. The value may be a string, []byte, any
// Go integer, float32 or float64, or a *field.Field whose raw bytes are
// copied.
//
// name must be a name the description can produce. A name that is not yet
// stored is created; it moves into traversal order on the next UpdateFields.
// On any error the store is unchanged.
func (e *Extension) SetField(name string, value any) error {
	def, ok := e.Table().Definition(name)
	if !ok {
		return fmt.Errorf("%s %s: %w", e.tag, name, ErrFieldNotFound)
	}

	f, stored := e.store.Get(name)
	if stored {
		f = f.Clone()
	} else {
		switch {
		case def.Length > 0:
			f = field.New(name, def.Type, def.Length)
		default:
			f = field.NewResizable(name, def.Type, 1)
		}
	}
	if err := setValue(f, value); err != nil {
		return fmt.Errorf("%s %s: %w", e.tag, name, err)
	}
	e.store.Put(f)
	return nil
}

func setValue(f *field.Field, value any) error {
	switch v := value.(type) {
	case string:
		if f.Type() == field.Binary {
			return f.SetRaw([]byte(v))
		}
		return f.SetString(v)
	case []byte:
		return f.SetRaw(v)
	case *field.Field:
		return f.SetRaw(v.Raw())
	case int:
		return f.SetInt64(int64(v))
	case int8:
		return f.SetInt64(int64(v))
	case int16:
		return f.SetInt64(int64(v))
	case int32:
		return f.SetInt64(int64(v))
	case int64:
		return f.SetInt64(v)
	case uint:
		return f.SetUint64(uint64(v))
	case uint8:
		return f.SetUint64(uint64(v))
	case uint16:
		return f.SetUint64(uint64(v))
	case uint32:
		return f.SetUint64(uint64(v))
	case uint64:
		return f.SetUint64(v)
	case float32:
		return f.SetReal(float64(v), 'f', false)
	case float64:
		return f.SetReal(v, 'f', false)
	}
	return fmt.Errorf("%T: %w", value, ErrUnsupportedValue)
}

// All yields the stored fields in order.
func (e *Extension) All() iter.Seq2[string, *field.Field] { return e.store.All() }

// Names returns the stored field names in order.
func (e *Extension) Names() []string { return e.store.Names() }

// Find returns the stored fields whose names match the regular expression
// pattern. A plain fragment such as "BANDID" matches as a substring.
func (e *Extension) Find(pattern string) ([]*field.Field, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []*field.Field
	for name, f := range e.store.All() {
		if re.MatchString(name) {
			out = append(out, f)
		}
	}
	return out, nil
}

// FindPrefix returns the stored fields whose names start with prefix.
func (e *Extension) FindPrefix(prefix string) []*field.Field {
	var out []*field.Field
	for name, f := range e.store.All() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// Clone deep-copies the store. The copy shares the description.
func (e *Extension) Clone() *Extension {
	c := *e
	c.store = e.store.Clone()
	return &c
}

// Decode replaces the store with the fields decoded from data. On failure
// the store holds the fields decoded before the error.
func (e *Extension) Decode(ctx context.Context, data []byte) error {
	store, err := e.interp.Decode(ctx, kaitai.NewStream(bytes.NewReader(data)))
	e.store = store
	return err
}

// Encode returns the encoded extension data, without tag or length.
func (e *Extension) Encode(ctx context.Context) ([]byte, error) {
	return e.interp.EncodeBytes(ctx, e.store)
}

// EncodeTo writes the encoded extension data to w.
func (e *Extension) EncodeTo(ctx context.Context, w *kaitai.Writer) error {
	return e.interp.Encode(ctx, e.store, w)
}

// Size returns the encoded length.
func (e *Extension) Size() (int, error) {
	return e.interp.Size(e.store)
}

// UpdateFields reshapes the store to what the description reaches from the
// current values: missing fields are created blank and unreachable ones are
// dropped.
func (e *Extension) UpdateFields() error {
	store, err := e.interp.Reshape(e.store)
	if err != nil {
		return err
	}
	e.store = store
	return nil
}

// IsSane reports whether the store holds exactly the fields the description
// reaches, in traversal order.
func (e *Extension) IsSane() bool {
	want, err := e.interp.Reshape(e.store)
	if err != nil || want.Len() != e.store.Len() {
		return false
	}
	next, stop := iter.Pull2(e.store.All())
	defer stop()
	for name, f := range want.All() {
		have, hf, ok := next()
		if !ok || have != name || hf != f {
			return false
		}
	}
	return true
}

func (e *Extension) State() State {
	switch {
	case e.store.Len() == 0:
		return Empty
	case e.IsSane():
		return Serializable
	default:
		return Populated
	}
}
