package schema

import (
	"cmp"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/twinfer/tre-plugin/pkg/field"
)

// File is one YAML description file. A file holds a single tag, described
// either directly by Description or by one or more Variants.
type File struct {
	Tag         string    `yaml:"tag"`
	ID          string    `yaml:"id,omitempty"`
	Doc         string    `yaml:"doc,omitempty"`
	Description []Entry   `yaml:"description,omitempty"`
	Variants    []Variant `yaml:"variants,omitempty"`
	Source      string    `yaml:"-"` // Path the file was loaded from, if any
}

// Variant is one alternative description of a tag.
type Variant struct {
	ID          string  `yaml:"id"`
	Description []Entry `yaml:"description"`
}

// Entry is one descriptor in YAML form. Exactly one of the keys field, if,
// cel, loop, repeat or loop_expr is set, or the entry is one of the bare
// words endif, endloop and end.
type Entry struct {
	Field     string         `yaml:"field,omitempty"`
	Type      string         `yaml:"type,omitempty"`
	Length    int            `yaml:"length,omitempty"`
	Remaining bool           `yaml:"remaining,omitempty"`
	Postfix   string         `yaml:"postfix,omitempty"` // LengthComputed
	Expr      string         `yaml:"expr,omitempty"`    // LengthExpression
	Label     string         `yaml:"label,omitempty"`
	TypeFrom  *TypeFromEntry `yaml:"type_from,omitempty"`

	If   string `yaml:"if,omitempty"`
	Cond string `yaml:"cond,omitempty"`
	CEL  string `yaml:"cel,omitempty"`

	Loop     string `yaml:"loop,omitempty"`
	Mod      string `yaml:"mod,omitempty"`
	Repeat   *int   `yaml:"repeat,omitempty"`
	LoopExpr string `yaml:"loop_expr,omitempty"`

	Keyword string `yaml:"-"` // Set for scalar entries
}

// TypeFromEntry is the YAML form of TypeSwitch.
type TypeFromEntry struct {
	Field   string            `yaml:"field"`
	Cases   map[string]string `yaml:"cases"`
	Default string            `yaml:"default"`
}

// UnmarshalYAML accepts the bare words endif, endloop and end as well as
// mappings.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*e = Entry{Keyword: strings.ToLower(value.Value)}
		return nil
	}
	type entryAlias Entry
	var alias entryAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*e = Entry(alias)
	return nil
}

// Descriptor converts the entry.
func (e Entry) Descriptor() (Descriptor, error) {
	switch e.Keyword {
	case "":
	case "endif":
		return EndIf(), nil
	case "endloop":
		return EndLoop(), nil
	case "end":
		return End(), nil
	default:
		return Descriptor{}, fmt.Errorf("keyword %q: %w", e.Keyword, ErrDescriptor)
	}

	switch {
	case e.Field != "":
		return e.fieldDescriptor()
	case e.CEL != "":
		return IfCEL(e.CEL), nil
	case e.If != "":
		return If(e.If, e.Cond), nil
	case e.Loop != "":
		return LoopMod(e.Loop, e.Mod), nil
	case e.Repeat != nil:
		return LoopConst(*e.Repeat), nil
	case e.LoopExpr != "":
		return LoopExpr(e.LoopExpr), nil
	}
	return Descriptor{}, fmt.Errorf("entry has no field, if, cel, loop, repeat or loop_expr key: %w", ErrDescriptor)
}

func (e Entry) fieldDescriptor() (Descriptor, error) {
	typ, err := field.ParseValueType(e.Type)
	if err != nil {
		return Descriptor{}, fmt.Errorf("field %s: %w", e.Field, err)
	}
	var d Descriptor
	switch {
	case e.Remaining:
		d = Remaining(typ, e.Label, e.Field)
	case e.Postfix != "":
		d = Computed(typ, e.Postfix, e.Label, e.Field)
	case e.Expr != "":
		d = Sized(typ, e.Expr, e.Label, e.Field)
	default:
		d = Field(typ, e.Length, e.Label, e.Field)
	}
	if e.TypeFrom == nil {
		return d, nil
	}

	cases := make(map[string]field.ValueType, len(e.TypeFrom.Cases))
	for k, v := range e.TypeFrom.Cases {
		t, err := field.ParseValueType(v)
		if err != nil {
			return Descriptor{}, fmt.Errorf("field %s case %s: %w", e.Field, k, err)
		}
		cases[k] = t
	}
	def := typ
	if e.TypeFrom.Default != "" {
		if def, err = field.ParseValueType(e.TypeFrom.Default); err != nil {
			return Descriptor{}, fmt.Errorf("field %s default: %w", e.Field, err)
		}
	}
	return d.TypedBy(e.TypeFrom.Field, cases, def), nil
}

// ParseFile reads one YAML description file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Tag) == 0 || len(f.Tag) > 6 {
		return nil, fmt.Errorf("tag %q must be 1 to 6 characters: %w", f.Tag, ErrDescriptor)
	}
	if len(f.Description) > 0 && len(f.Variants) > 0 {
		return nil, fmt.Errorf("tag %s: description and variants are exclusive: %w", f.Tag, ErrDescriptor)
	}
	return &f, nil
}

// Tables builds every variant of the file, in file order. A file written
// without variants yields a single table.
func (f *File) Tables() ([]*Table, error) {
	variants := f.Variants
	if len(variants) == 0 {
		variants = []Variant{{ID: f.ID, Description: f.Description}}
	}

	tables := make([]*Table, 0, len(variants))
	for _, v := range variants {
		name := cmp.Or(v.ID, f.Tag)
		descs := make([]Descriptor, 0, len(v.Description))
		for i, e := range v.Description {
			d, err := e.Descriptor()
			if err != nil {
				return nil, &Error{Table: name, Index: i, Name: e.Field, Err: err}
			}
			descs = append(descs, d)
		}
		t, err := Build(name, descs)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// IDs returns the variant ids in file order, the tag itself for a file
// without variants or id.
func (f *File) IDs() []string {
	if len(f.Variants) == 0 {
		if f.ID != "" {
			return []string{f.ID}
		}
		return []string{f.Tag}
	}
	ids := make([]string, 0, len(f.Variants))
	for _, v := range f.Variants {
		ids = append(ids, cmp.Or(v.ID, f.Tag))
	}
	return ids
}

// LoadFS reads every .yaml and .yml file in dir, sorted by path.
func LoadFS(fsys fs.FS, dir string) ([]*File, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := fs.Glob(fsys, path.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	slices.Sort(paths)

	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		f, err := ParseFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		f.Source = p
		files = append(files, f)
	}
	return files, nil
}
