package tre

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/interp"
	"github.com/twinfer/tre-plugin/pkg/schema"
)

// RawFieldName is the single field of an extension decoded without a
// description.
const RawFieldName = "raw_data"

var rawTable = schema.MustBuild("raw", []schema.Descriptor{
	schema.Remaining(field.Binary, "Unknown raw data", RawFieldName),
	schema.End(),
})

type variant struct {
	id     string
	interp *interp.Interpreter
}

// Registry maps tags to their descriptions. It is filled during start-up and
// then frozen; a frozen registry is read without locking.
type Registry struct {
	mu      sync.Mutex
	frozen  atomic.Bool
	entries map[string][]variant
	logger  *slog.Logger
}

type registryOptions struct {
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

// WithRegistryLogger sets the logger handed to every interpreter.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Registry{entries: make(map[string][]variant), logger: o.logger}
}

// Register adds a tag with one or more descriptions. Each table's name is the
// id of its variant; the first table is the default.
func (r *Registry) Register(tag string, tables ...*schema.Table) error {
	if len(tag) == 0 || len(tag) > 6 {
		return fmt.Errorf("tag %q must be 1 to 6 characters", tag)
	}
	if len(tables) == 0 {
		return fmt.Errorf("tag %s: no descriptions", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("register %s: %w", tag, ErrRegistryFrozen)
	}
	if _, ok := r.entries[tag]; ok {
		return fmt.Errorf("register %s: %w", tag, ErrDuplicateTag)
	}

	vs := make([]variant, 0, len(tables))
	for _, t := range tables {
		if slices.ContainsFunc(vs, func(v variant) bool { return v.id == t.Name() }) {
			return fmt.Errorf("register %s: id %s given twice: %w", tag, t.Name(), ErrDuplicateTag)
		}
		vs = append(vs, variant{id: t.Name(), interp: interp.New(tag, t, r.logger)})
	}
	r.entries[tag] = vs
	r.logger.Debug("Registered tag", "tag", tag, "variants", len(vs))
	return nil
}

// RegisterFile builds and registers every variant of a description file.
func (r *Registry) RegisterFile(f *schema.File) error {
	tables, err := f.Tables()
	if err != nil {
		if f.Source != "" {
			return fmt.Errorf("%s: %w", f.Source, err)
		}
		return err
	}
	return r.Register(f.Tag, tables...)
}

// LoadFS registers every description file in dir.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	files, err := schema.LoadFS(fsys, dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := r.RegisterFile(f); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir registers every description file in a directory on disk.
func (r *Registry) LoadDir(dir string) error {
	return r.LoadFS(os.DirFS(dir), ".")
}

// Freeze ends registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool { return r.frozen.Load() }

func (r *Registry) lookup(tag string) ([]variant, bool) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	vs, ok := r.entries[tag]
	return vs, ok
}

func (r *Registry) Has(tag string) bool {
	_, ok := r.lookup(tag)
	return ok
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return slices.Sorted(maps.Keys(r.entries))
}

// IDs returns the variant ids of tag, default first.
func (r *Registry) IDs(tag string) []string {
	vs, _ := r.lookup(tag)
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.id)
	}
	return ids
}

func (r *Registry) variant(tag, id string) (variant, error) {
	vs, ok := r.lookup(tag)
	if !ok {
		return variant{}, fmt.Errorf("%s: %w", tag, ErrUnknownTag)
	}
	if id == "" {
		return vs[0], nil
	}
	for _, v := range vs {
		if v.id == id {
			return v, nil
		}
	}
	return variant{}, fmt.Errorf("%s id %s: %w", tag, id, ErrUnknownID)
}

// Construct returns an empty extension bound to a description of tag. An
// empty id selects the default variant.
func (r *Registry) Construct(tag, id string) (*Extension, error) {
	v, err := r.variant(tag, id)
	if err != nil {
		return nil, err
	}
	return newExtension(tag, v.id, v.interp), nil
}

// ConstructRaw returns an extension that holds tag's data as one opaque
// binary field.
func (r *Registry) ConstructRaw(tag string) *Extension {
	e := newExtension(tag, "", interp.New(tag, rawTable, r.logger))
	e.raw = true
	return e
}

// Decode decodes data as tag. With no id every variant is tried in order and
// the first that consumes data exactly wins. When none does, the error of the
// default variant is returned together with its partial extension.
func (r *Registry) Decode(ctx context.Context, tag, id string, data []byte) (*Extension, error) {
	if id != "" {
		e, err := r.Construct(tag, id)
		if err != nil {
			return nil, err
		}
		return e, e.Decode(ctx, data)
	}

	vs, ok := r.lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%s: %w", tag, ErrUnknownTag)
	}
	var (
		first    *Extension
		firstErr error
	)
	for _, v := range vs {
		e := newExtension(tag, v.id, v.interp)
		err := e.Decode(ctx, data)
		if err == nil {
			return e, nil
		}
		if ctx.Err() != nil {
			return e, err
		}
		r.logger.DebugContext(ctx, "Variant did not match", "tag", tag, "id", v.id, "error", err)
		if first == nil {
			first, firstErr = e, err
		}
	}
	return first, firstErr
}

// DecodeRaw decodes data without a description.
func (r *Registry) DecodeRaw(ctx context.Context, tag string, data []byte) (*Extension, error) {
	e := r.ConstructRaw(tag)
	return e, e.Decode(ctx, data)
}
