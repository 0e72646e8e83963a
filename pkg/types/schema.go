package types

import (
	"strings"
	"time"
)

// Schema defines the columns of a dataset's storage table.
type Schema struct {
	// Table is the storage table name
	Table string `json:"table" yaml:"table"`

	// Version tracks schema evolution for backward compatibility
	Version int `json:"version" yaml:"version"`

	// Columns defines the columns in the schema, in storage order
	Columns []ColumnDef `json:"columns" yaml:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name. Nested columns use the "<family>.<field>" form.
	Name string `json:"name" yaml:"name"`

	// Type is the storage type descriptor, e.g. "UInt64", "Nullable(String)",
	// "Array(String)", "FixedString(32)".
	Type string `json:"type" yaml:"type"`
}

// ColumnType returns the declared type of a column, if the column exists.
func (s Schema) ColumnType(name string) (string, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col.Type, true
		}
	}
	return "", false
}

// ColumnNames returns the column names in storage order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// IsArray reports whether the column holds an array value.
func (c ColumnDef) IsArray() bool {
	return IsArrayType(c.Type)
}

// IsArrayType reports whether a type descriptor is an array type.
func IsArrayType(t string) bool {
	return strings.HasPrefix(unwrapModifiers(t), "Array(")
}

// IsPlainStringType reports whether a type descriptor is a variable length
// string, optionally wrapped in Nullable or LowCardinality. FixedString does
// not count: it is padded and must be converted before comparison.
func IsPlainStringType(t string) bool {
	return unwrapModifiers(t) == "String"
}

// unwrapModifiers strips Nullable(...) and LowCardinality(...) wrappers.
func unwrapModifiers(t string) string {
	t = strings.TrimSpace(t)
	for {
		switch {
		case strings.HasPrefix(t, "Nullable(") && strings.HasSuffix(t, ")"):
			t = t[len("Nullable(") : len(t)-1]
		case strings.HasPrefix(t, "LowCardinality(") && strings.HasSuffix(t, ")"):
			t = t[len("LowCardinality(") : len(t)-1]
		default:
			return t
		}
	}
}

// BaseType strips Nullable and LowCardinality wrappers from a type descriptor.
func BaseType(t string) string {
	return unwrapModifiers(t)
}

// IsNullableType reports whether a non-array type descriptor admits NULL.
func IsNullableType(t string) bool {
	t = strings.TrimSpace(t)
	if strings.HasPrefix(t, "LowCardinality(") {
		t = strings.TrimPrefix(t, "LowCardinality(")
	}
	return strings.HasPrefix(t, "Nullable(")
}

// Default is the value a row carries for a column it does not set: an empty
// array, NULL for nullable columns, or the zero value of the base type.
// DateTime defaults to the Unix epoch.
func (c ColumnDef) Default() interface{} {
	if c.IsArray() {
		return []interface{}{}
	}
	if IsNullableType(c.Type) {
		return nil
	}
	base := BaseType(c.Type)
	switch {
	case base == "String" || strings.HasPrefix(base, "FixedString("):
		return ""
	case strings.HasPrefix(base, "UInt"):
		return uint64(0)
	case strings.HasPrefix(base, "Int"):
		return int64(0)
	case strings.HasPrefix(base, "Float"):
		return float64(0)
	case base == "DateTime":
		return time.Unix(0, 0).UTC()
	default:
		return nil
	}
}
