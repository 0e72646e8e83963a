package processor

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/pkg/types"
)

// Dataset is the set of variation points between event datasets. The base
// Processor runs the same extraction steps for every dataset and calls these
// hooks where the datasets differ.
type Dataset interface {
	// Name identifies the dataset in configuration and queries.
	Name() string

	// Schema is the storage schema every processed row conforms to.
	Schema() *types.Schema

	// Families are the nested attribute families of the schema, with their
	// promoted columns.
	Families() nested.Families

	// ShouldProcess vetoes events the dataset does not store.
	ShouldProcess(event *InsertEvent) bool

	// ExtractEventID sets the dataset's primary event identifier.
	ExtractEventID(out types.Row, event *InsertEvent)

	// ExtractCustom sets the dataset specific fields.
	ExtractCustom(out types.Row, event *InsertEvent, meta Metadata)

	// ExtractPromotedTags moves promoted tags into their columns.
	ExtractPromotedTags(out types.Row, tags document.Object)

	// ExtractTagsCustom handles tag derived fields that are not plain
	// promotions.
	ExtractTagsCustom(out types.Row, event *InsertEvent, tags document.Object, meta Metadata)

	// ExtractPromotedContexts moves promoted contexts into their columns.
	// contexts is the flattened "<context>.<field>" mapping.
	ExtractPromotedContexts(out types.Row, contexts document.Object, tags document.Object)
}

// PromoteColumns stores every promoted entry of values in its dedicated
// column, coerced to the column's declared type. Entries that cannot be
// coerced leave the column unset. When an alias and the column's own name
// are both present the alias wins.
func PromoteColumns(out types.Row, schema *types.Schema, family nested.Family, values document.Object) {
	aliased := make(map[string]struct{})
	for _, f := range values {
		column, ok := family.PromotedColumn(f.Key)
		if !ok {
			continue
		}
		if !family.IsAlias(f.Key) {
			if _, taken := aliased[column]; taken {
				continue
			}
		}
		typ, _ := schema.ColumnType(column)
		v := CoerceColumn(typ, f.Value)
		if v == nil {
			continue
		}
		out[column] = v
		if family.IsAlias(f.Key) {
			aliased[column] = struct{}{}
		}
	}
}

// CoerceColumn converts a payload value to the Go representation of a
// storage type. Values that do not fit yield nil.
func CoerceColumn(typ string, v interface{}) interface{} {
	base := types.BaseType(typ)
	switch {
	case base == "UInt8":
		return document.NullableBool(v)
	case base == "UInt16" || base == "UInt32":
		return document.NullableUint32(v)
	case base == "UInt64":
		if n, ok := toUint64(v); ok {
			return n
		}
		return nil
	case strings.HasPrefix(base, "Float"):
		switch x := v.(type) {
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f
			}
		case float64:
			return x
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
		return nil
	case base == "UUID":
		s, ok := document.Unicodify(v)
		if !ok {
			return nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil
		}
		return id.String()
	default:
		if !document.IsScalar(v) {
			return nil
		}
		return document.NullableString(v)
	}
}
