package processor

import "github.com/arkilian/colflat/pkg/types"

// columns builds column definitions from name/type pairs.
func columns(pairs ...string) []types.ColumnDef {
	out := make([]types.ColumnDef, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.ColumnDef{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

// streamColumns are the provenance columns every dataset stores.
var streamColumns = columns(
	"offset", "UInt64",
	"partition", "UInt16",
	"message_timestamp", "DateTime",
)

// nestedColumns are the flattened arrays shared by the event datasets.
var nestedColumns = columns(
	"tags.key", "Array(String)",
	"tags.value", "Array(String)",
	"contexts.key", "Array(String)",
	"contexts.value", "Array(String)",
	"sdk_integrations", "Array(String)",
	"modules.name", "Array(String)",
	"modules.version", "Array(String)",
	"exception_stacks.type", "Array(Nullable(String))",
	"exception_stacks.value", "Array(Nullable(String))",
	"exception_stacks.mechanism_type", "Array(Nullable(String))",
	"exception_stacks.mechanism_handled", "Array(Nullable(UInt8))",
	"exception_frames.abs_path", "Array(Nullable(String))",
	"exception_frames.filename", "Array(Nullable(String))",
	"exception_frames.package", "Array(Nullable(String))",
	"exception_frames.module", "Array(Nullable(String))",
	"exception_frames.function", "Array(Nullable(String))",
	"exception_frames.in_app", "Array(Nullable(UInt8))",
	"exception_frames.colno", "Array(Nullable(UInt32))",
	"exception_frames.lineno", "Array(Nullable(UInt32))",
	"exception_frames.stack_level", "Array(UInt16)",
)

func buildSchema(table string, parts ...[]types.ColumnDef) *types.Schema {
	s := &types.Schema{Table: table, Version: 1}
	for _, p := range parts {
		s.Columns = append(s.Columns, p...)
	}
	return s
}
