// Package nested describes dictionary-valued column families such as tags
// and contexts. A family is stored as two parallel arrays, "<name>.key" and
// "<name>.value", with a subset of logical keys promoted to dedicated
// columns. The write path and the read path both resolve keys through
// Family.PromotedColumn so that a promoted key written on one side is read
// back from the same column on the other.
package nested

// Family is one nested attribute family.
type Family struct {
	// Name is the logical column name, e.g. "tags".
	Name string

	// Promoted is the set of physical columns that hold promoted keys.
	Promoted map[string]struct{}

	// KeyColumns maps a logical key to its physical column when the two
	// names differ. Keys not listed map to themselves.
	KeyColumns map[string]string
}

// NewFamily builds a family from a logical key -> physical column map.
// Every column in the map is promoted.
func NewFamily(name string, promoted map[string]string) Family {
	f := Family{
		Name:       name,
		Promoted:   make(map[string]struct{}, len(promoted)),
		KeyColumns: make(map[string]string, len(promoted)),
	}
	for key, column := range promoted {
		f.Promoted[column] = struct{}{}
		if key != column {
			f.KeyColumns[key] = column
		}
	}
	return f
}

// KeyColumn is the physical array holding the non-promoted keys.
func (f Family) KeyColumn() string {
	return f.Name + ".key"
}

// ValueColumn is the physical array holding the non-promoted values.
func (f Family) ValueColumn() string {
	return f.Name + ".value"
}

// PhysicalName resolves a logical key through the alias map.
func (f Family) PhysicalName(key string) string {
	if column, ok := f.KeyColumns[key]; ok {
		return column
	}
	return key
}

// PromotedColumn returns the dedicated column for key, if key is promoted:
// the key's physical name must be one of the family's promoted columns.
// An alias target is promoted under its own name too, so "release" and
// "sentry:release" both resolve to the release column.
func (f Family) PromotedColumn(key string) (string, bool) {
	column := f.PhysicalName(key)
	if _, ok := f.Promoted[column]; ok {
		return column, true
	}
	return "", false
}

// IsAlias reports whether key reaches its column through the alias map.
// An alias takes precedence over the column's own name on write.
func (f Family) IsAlias(key string) bool {
	_, ok := f.KeyColumns[key]
	return ok
}

// IsPromoted reports whether key has a dedicated column.
func (f Family) IsPromoted(key string) bool {
	_, ok := f.PromotedColumn(key)
	return ok
}

// Families is a set of families indexed by name.
type Families map[string]Family

// NewFamilies indexes the given families by name.
func NewFamilies(families ...Family) Families {
	out := make(Families, len(families))
	for _, f := range families {
		out[f.Name] = f
	}
	return out
}

// Get returns the family with the given name.
func (fs Families) Get(name string) (Family, bool) {
	f, ok := fs[name]
	return f, ok
}
