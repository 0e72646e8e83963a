// Package types provides core data types shared by the write and read paths.
package types

// Row is one processed insertion row: a flat mapping from column name to a
// scalar or array value. Rows are built once per accepted message and are not
// mutated after they leave the processor.
type Row map[string]interface{}

// Columns returns the values of the row ordered by the given column names.
// Missing columns yield nil.
func (r Row) Columns(names []string) []interface{} {
	values := make([]interface{}, len(names))
	for i, name := range names {
		values[i] = r[name]
	}
	return values
}
