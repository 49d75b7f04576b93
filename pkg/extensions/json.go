package extensions

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/tre"
)

// ErrUnreachableField is returned by FromJSON for a field the description
// can produce but not from the values given.
var ErrUnreachableField = errors.New("field not reached by the description")

// Record is the JSON projection of one extension.
type Record struct {
	Tag    string `json:"tag"`
	ID     string `json:"id,omitempty"`
	Raw    bool   `json:"raw,omitempty"`
	Fields Fields `json:"fields"`
}

// FieldValue is one projected field. Text is a string, binary data []byte.
type FieldValue struct {
	Name  string
	Value any
}

// Fields is a JSON object that keeps its keys in traversal order.
type Fields []FieldValue

func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of scalar values. Numbers are kept as
// json.Number.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields must be an object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		out = append(out, FieldValue{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = out
	return nil
}

// Project converts an extension to its JSON record. With trim, text loses
// its trailing padding.
func Project(e *tre.Extension, trim bool) (Record, error) {
	rec := Record{Tag: e.Tag(), ID: e.ID(), Raw: e.IsRaw(), Fields: make(Fields, 0, e.Len())}
	for name, f := range e.All() {
		v, err := projectValue(f, trim)
		if err != nil {
			return Record{}, err
		}
		rec.Fields = append(rec.Fields, FieldValue{Name: name, Value: v})
	}
	return rec, nil
}

func projectValue(f *field.Field, trim bool) (any, error) {
	if f.Type() == field.Binary {
		return f.Bytes(), nil
	}
	s, err := f.Text()
	if err != nil {
		return nil, err
	}
	if !trim {
		raw := f.Raw()
		s += string(raw[len(bytes.TrimRight(raw, " ")):])
	}
	return s, nil
}

// ToMap converts an extension to a map with the keys tag, id, raw and
// fields. Field order is lost; use ToJSON to keep it.
func ToMap(e *tre.Extension, trim bool) (map[string]any, error) {
	rec, err := Project(e, trim)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(rec.Fields))
	for _, f := range rec.Fields {
		fields[f.Name] = f.Value
	}
	return map[string]any{
		"tag":    rec.Tag,
		"id":     rec.ID,
		"raw":    rec.Raw,
		"fields": fields,
	}, nil
}

// ToJSON projects exts to a JSON array of records.
func (p *Parser) ToJSON(exts []*tre.Extension, opts ...Option) ([]byte, error) {
	o := p.with(opts)
	recs := make([]Record, 0, len(exts))
	for _, e := range exts {
		rec, err := Project(e, o.trim)
		if err != nil {
			return nil, fmt.Errorf("projecting %s: %w", e.Tag(), err)
		}
		recs = append(recs, rec)
	}
	jsonData, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling to JSON: %w", err)
	}
	return jsonData, nil
}

// FromJSON rebuilds extensions from a JSON array of records, or from a
// single record. Fields left out are created blank.
func (p *Parser) FromJSON(jsonData []byte) ([]*tre.Extension, error) {
	var recs []Record
	trimmed := bytes.TrimSpace(jsonData)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling JSON: %w", err)
		}
		recs = append(recs, rec)
	} else if err := json.Unmarshal(trimmed, &recs); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}

	exts := make([]*tre.Extension, 0, len(recs))
	for _, rec := range recs {
		e, err := p.Build(rec)
		if err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}
	return exts, nil
}

// Build constructs the extension a record describes. A raw record, or one
// whose tag is not registered, becomes a raw extension.
//
// Fields whose type depends on another field are set after the others,
// once the store has been reshaped and their type is known.
func (p *Parser) Build(rec Record) (*tre.Extension, error) {
	var e *tre.Extension
	if rec.Raw || !p.registry.Has(rec.Tag) {
		e = p.registry.ConstructRaw(rec.Tag)
	} else {
		var err error
		if e, err = p.registry.Construct(rec.Tag, rec.ID); err != nil {
			return nil, err
		}
	}

	var set, deferred []FieldValue
	for _, fv := range rec.Fields {
		def, ok := e.Table().Definition(fv.Name)
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", rec.Tag, fv.Name, tre.ErrFieldNotFound)
		}
		if def.Switched {
			deferred = append(deferred, fv)
			continue
		}
		ok, err := setImported(e, fv, def.Type)
		if err != nil {
			return nil, err
		}
		if ok {
			set = append(set, fv)
		}
	}
	if e.IsRaw() {
		return e, nil
	}
	if err := e.UpdateFields(); err != nil {
		return nil, err
	}

	if len(deferred) > 0 {
		for _, fv := range deferred {
			f, err := e.Field(fv.Name)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", rec.Tag, fv.Name, ErrUnreachableField)
			}
			if _, err := setImported(e, fv, f.Type()); err != nil {
				return nil, err
			}
		}
		if err := e.UpdateFields(); err != nil {
			return nil, err
		}
	}

	for _, fv := range set {
		if !e.Has(fv.Name) {
			return nil, fmt.Errorf("%s %s: %w", rec.Tag, fv.Name, ErrUnreachableField)
		}
	}
	return e, nil
}

func setImported(e *tre.Extension, fv FieldValue, typ field.ValueType) (bool, error) {
	v, err := importValue(fv.Name, typ, fv.Value)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", e.Tag(), fv.Name, err)
	}
	if v == nil {
		return false, nil
	}
	return true, e.SetField(fv.Name, v)
}

// importValue converts a JSON value to what SetField takes. A nil result
// leaves the field to be created blank.
func importValue(name string, typ field.ValueType, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return v.Float64()
	case int, int64, uint64, float64:
		return v, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		if typ == field.Binary {
			return base64.StdEncoding.DecodeString(v)
		}
		f := field.NewResizable(name, typ, 1)
		if err := f.SetText(v); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("%T: %w", v, tre.ErrUnsupportedValue)
}
