package ast

import "regexp"

var subscriptRE = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)\[(.+)\]$`)

// ParseReference turns a column reference written by a client into an
// expression. "tags[environment]" becomes a SubscriptExpr aliased with the
// reference itself; anything else is a plain column.
func ParseReference(ref string) Expression {
	if m := subscriptRE.FindStringSubmatch(ref); m != nil {
		return &SubscriptExpr{Alias: ref, Column: m[1], Key: m[2]}
	}
	return &ColumnRef{Column: ref}
}
