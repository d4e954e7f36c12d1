package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Document is the backend facing representation of one indexable unit. Field
// order is preserved; a field holding more than one value is multi-valued.
type Document struct {
	names  []string
	values map[string][]any
}

// NewDocument makes an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string][]any)}
}

// SetField replaces all values of name.
func (d *Document) SetField(name string, value any) {
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = []any{value}
}

// AddField appends a value to name.
func (d *Document) AddField(name string, value any) {
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = append(d.values[name], value)
}

// ReplaceValues sets the full value list of name.
func (d *Document) ReplaceValues(name string, values []any) {
	if len(values) == 0 {
		d.RemoveField(name)
		return
	}
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = values
}

// RemoveField drops name and its values.
func (d *Document) RemoveField(name string) {
	if _, ok := d.values[name]; !ok {
		return
	}
	delete(d.values, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
}

// Field returns all values of name.
func (d *Document) Field(name string) []any {
	return d.values[name]
}

// Value returns the first value of name or nil.
func (d *Document) Value(name string) any {
	if v := d.values[name]; len(v) > 0 {
		return v[0]
	}
	return nil
}

// Has reports whether name is set.
func (d *Document) Has(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Names returns the field names in insertion order.
func (d *Document) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// ID returns the id field.
func (d *Document) ID() string {
	if v, ok := d.Value("id").(string); ok {
		return v
	}
	return ""
}

// Map flattens the document: single values stay scalar, multi values become
// slices.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.names))
	for _, name := range d.names {
		vals := d.values[name]
		if len(vals) == 1 {
			out[name] = vals[0]
			continue
		}
		cp := make([]any, len(vals))
		copy(cp, vals)
		out[name] = cp
	}
	return out
}

// MarshalJSON encodes the document as a JSON object in field order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		vals := d.values[name]
		var val []byte
		if len(vals) == 1 {
			val, err = json.Marshal(vals[0])
		} else {
			val, err = json.Marshal(vals)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DocumentID builds the id of a record document.
func DocumentID(siteHash, itemType string, pid, uid int) string {
	return siteHash + "/" + itemType + "/" + strconv.Itoa(pid) + "/" + strconv.Itoa(uid)
}

// PageDocumentID builds the id of a page document for one language and access
// partition. mountPoint is empty for pages rendered in their own tree.
func PageDocumentID(siteHash string, uid, language int, access string, mountPoint string) string {
	id := siteHash + "/" + TablePages + "/" + strconv.Itoa(uid) + "/" + strconv.Itoa(language) + "/" + access
	if mountPoint != "" {
		id += "/" + mountPoint
	}
	return id
}
