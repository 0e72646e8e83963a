package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/pkg/types"
)

// DateTimeLayout is the text layout of DateTime cells.
const DateTimeLayout = "2006-01-02 15:04:05"

// sqliteType maps a storage column type onto a SQLite declared type.
// Declared types are kept off DATETIME and TIMESTAMP so the driver returns
// the stored text as is.
func sqliteType(t string) string {
	if types.IsArrayType(t) {
		return "TEXT"
	}
	base := types.BaseType(t)
	switch {
	case strings.HasPrefix(base, "UInt"), strings.HasPrefix(base, "Int"):
		return "INTEGER"
	case strings.HasPrefix(base, "Float"):
		return "REAL"
	default:
		return "TEXT"
	}
}

// encodeValue converts a row value into a value the SQLite driver binds.
func encodeValue(col types.ColumnDef, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if col.IsArray() {
		b, err := document.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode %s: %w", col.Name, err)
		}
		return string(b), nil
	}

	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(DateTimeLayout), nil
	case uint64:
		// Values past the int64 range are kept as decimal text.
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10), nil
		}
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case document.Object, []interface{}:
		b, err := document.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("store: encode %s: %w", col.Name, err)
		}
		return string(b), nil
	default:
		return x, nil
	}
}

// decodeValue normalises a scanned value.
func decodeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
