package store

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/arkilian/colflat/internal/document"
)

// DriverName is the database/sql driver registered with the array
// functions the query rewriter emits.
const DriverName = "sqlite3_colflat"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("indexOf", indexOf, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("arrayElement", arrayElement, true); err != nil {
					return err
				}
				return conn.RegisterFunc("toString", toString, true)
			},
		})
	})
}

// decodeArray reads an array column stored as JSON text. NULL and
// anything that is not a JSON array read as the empty array.
func decodeArray(v interface{}) []interface{} {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	decoded, err := document.Decode(raw)
	if err != nil {
		return nil
	}
	arr, _ := decoded.([]interface{})
	return arr
}

// sqlText renders a SQLite value the way toString does. The second
// result is false for NULL.
func sqlText(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case []byte:
		if x == nil {
			return "", false
		}
		return string(x), true
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return document.Unicodify(x)
	}
}

// indexOf returns the 1-based position of needle in arr, 0 when absent.
func indexOf(arr, needle interface{}) int64 {
	want, ok := sqlText(needle)
	if !ok {
		return 0
	}
	for i, elem := range decodeArray(arr) {
		if s, ok := document.Unicodify(elem); ok && s == want {
			return int64(i + 1)
		}
	}
	return 0
}

// arrayElement returns the n-th element of arr, counting from 1. Negative
// positions count from the end. Position 0 and out of range positions
// yield the empty string.
func arrayElement(arr, n interface{}) interface{} {
	pos, ok := n.(int64)
	if !ok {
		if f, isFloat := n.(float64); isFloat {
			pos, ok = int64(f), true
		}
	}
	elems := decodeArray(arr)
	if !ok || pos == 0 {
		return ""
	}
	idx := int(pos) - 1
	if pos < 0 {
		idx = len(elems) + int(pos)
	}
	if idx < 0 || idx >= len(elems) {
		return ""
	}
	switch e := elems[idx].(type) {
	case nil:
		return nil
	case string:
		return e
	case json.Number:
		if i, err := e.Int64(); err == nil {
			return i
		}
		f, _ := e.Float64()
		return f
	default:
		s, _ := document.Unicodify(e)
		return s
	}
}

// toString converts any value to text. NULL stays NULL.
func toString(v interface{}) interface{} {
	s, ok := sqlText(v)
	if !ok {
		return nil
	}
	return s
}
