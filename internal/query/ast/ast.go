// Package ast defines the expression tree of a query. The set of node kinds
// is closed: every node implements the unexported expressionNode method and
// every walker in this module switches over all of them.
package ast

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expression represents an expression in the AST.
type Expression interface {
	expressionNode()
	String() string
}

var safeIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reserved words that are also column names in the event schemas.
var reserved = map[string]struct{}{
	"offset": {}, "partition": {}, "order": {}, "group": {}, "limit": {},
	"select": {}, "from": {}, "where": {}, "table": {}, "index": {}, "release": {},
}

// QuoteIdent renders an identifier, wrapping it in backticks when it is
// not a plain word. "tags.key" is rendered as `tags.key`.
func QuoteIdent(name string) string {
	if _, ok := reserved[strings.ToLower(name)]; !ok && safeIdentRE.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnRef represents a column reference.
type ColumnRef struct {
	Alias  string
	Table  string
	Column string
}

func (c *ColumnRef) expressionNode() {}

// String returns the SQL representation of the column reference.
func (c *ColumnRef) String() string {
	if c.Table != "" {
		return QuoteIdent(c.Table) + "." + QuoteIdent(c.Column)
	}
	return QuoteIdent(c.Column)
}

// SubscriptExpr is a key access into a dictionary valued column, such as
// tags[environment]. It has no storage representation and must be
// rewritten before execution.
type SubscriptExpr struct {
	Alias  string
	Column string
	Key    string
}

func (s *SubscriptExpr) expressionNode() {}

// String returns the logical form of the subscript, e.g. tags['env'].
func (s *SubscriptExpr) String() string {
	return fmt.Sprintf("%s[%s]", QuoteIdent(s.Column), quoteString(s.Key))
}

// Literal represents a literal value.
type Literal struct {
	Alias string
	Value interface{}
}

func (l *Literal) expressionNode() {}

// String returns the SQL representation of the literal.
func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		return quoteString(v)
	case nil:
		return "NULL"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// FunctionCall represents a function call expression.
type FunctionCall struct {
	Alias string
	Name  string
	Args  []Expression
}

func (f *FunctionCall) expressionNode() {}

// String returns the SQL representation of the function call.
func (f *FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

// BinaryExpr represents a binary operation (e.g., a = b, a AND b).
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}

// String returns the SQL representation of the binary expression.
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Operator, b.Right.String())
}

// UnaryExpr represents a unary operation (e.g., NOT x, -x).
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}

// String returns the SQL representation of the unary expression.
func (u *UnaryExpr) String() string {
	return fmt.Sprintf("%s %s", u.Operator, u.Operand.String())
}

// InExpr represents an IN expression (e.g., x IN (1, 2, 3)).
type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

func (i *InExpr) expressionNode() {}

// String returns the SQL representation of the IN expression.
func (i *InExpr) String() string {
	values := make([]string, len(i.Values))
	for j, v := range i.Values {
		values[j] = v.String()
	}
	if i.Not {
		return fmt.Sprintf("%s NOT IN (%s)", i.Expr.String(), strings.Join(values, ", "))
	}
	return fmt.Sprintf("%s IN (%s)", i.Expr.String(), strings.Join(values, ", "))
}

// IsNullExpr represents an IS NULL or IS NOT NULL expression.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (i *IsNullExpr) expressionNode() {}

// String returns the SQL representation of the IS NULL expression.
func (i *IsNullExpr) String() string {
	if i.Not {
		return fmt.Sprintf("%s IS NOT NULL", i.Expr.String())
	}
	return fmt.Sprintf("%s IS NULL", i.Expr.String())
}

// LikeExpr represents a LIKE expression.
type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Not     bool
}

func (l *LikeExpr) expressionNode() {}

// String returns the SQL representation of the LIKE expression.
func (l *LikeExpr) String() string {
	if l.Not {
		return fmt.Sprintf("%s NOT LIKE %s", l.Expr.String(), l.Pattern.String())
	}
	return fmt.Sprintf("%s LIKE %s", l.Expr.String(), l.Pattern.String())
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (p *ParenExpr) expressionNode() {}

// String returns the SQL representation of the parenthesized expression.
func (p *ParenExpr) String() string {
	return fmt.Sprintf("(%s)", p.Expr.String())
}

// AliasOf returns the output alias of an expression, if it carries one.
func AliasOf(e Expression) string {
	switch n := e.(type) {
	case nil:
		return ""
	case *ColumnRef:
		return n.Alias
	case *SubscriptExpr:
		return n.Alias
	case *Literal:
		return n.Alias
	case *FunctionCall:
		return n.Alias
	case *BinaryExpr, *UnaryExpr, *InExpr, *IsNullExpr, *LikeExpr, *ParenExpr:
		return ""
	default:
		panic(fmt.Sprintf("ast: unknown expression node %T", e))
	}
}
