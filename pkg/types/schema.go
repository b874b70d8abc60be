package types

import "fmt"

// FieldType is the primitive type of a schema field.
type FieldType string

const (
	FieldTypeBool    FieldType = "BOOLEAN"
	FieldTypeInt8    FieldType = "INTEGER(8 bits)"
	FieldTypeInt16   FieldType = "INTEGER(16 bits)"
	FieldTypeInt32   FieldType = "INTEGER(32 bits)"
	FieldTypeInt64   FieldType = "INTEGER(64 bits)"
	FieldTypeUint8   FieldType = "UNSIGNED INTEGER(8 bits)"
	FieldTypeUint16  FieldType = "UNSIGNED INTEGER(16 bits)"
	FieldTypeUint32  FieldType = "UNSIGNED INTEGER(32 bits)"
	FieldTypeUint64  FieldType = "UNSIGNED INTEGER(64 bits)"
	FieldTypeFloat32 FieldType = "FLOAT(32 bits)"
	FieldTypeFloat64 FieldType = "FLOAT(64 bits)"
	FieldTypeString  FieldType = "TEXT"
)

// Field is a single (qualified name, type) pair in a schema, e.g.
// "default_logical$value".
type Field struct {
	Name string
	Type FieldType
}

// QualifiedName renders the field as "sourceName$fieldName" the way
// scenario S2 expects in its output header.
func (f Field) QualifiedName(sourceName string) string {
	return fmt.Sprintf("%s$%s", sourceName, f.Name)
}

// Schema is an ordered list of fields. Operator nodes carry one input
// schema per child branch and exactly one output schema.
type Schema []Field

// IndexOf returns the position of a field by name, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Contains reports whether the schema has a field with the given name.
func (s Schema) Contains(name string) bool {
	return s.IndexOf(name) >= 0
}

// Equal reports whether two schemas have identical fields in the same
// order (spec.md §3 invariant (i): child output must match parent input).
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// WithRename returns a copy of the schema with field `from` renamed to `to`.
func (s Schema) WithRename(from, to string) Schema {
	out := s.Clone()
	for i := range out {
		if out[i].Name == from {
			out[i].Name = to
		}
	}
	return out
}
