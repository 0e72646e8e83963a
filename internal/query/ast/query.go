package ast

import (
	"fmt"
	"strings"
)

// SelectedExpression is one entry of the select list. Name is the column
// name of the result; it defaults to the alias of the expression.
type SelectedExpression struct {
	Name string
	Expr Expression
}

// OutputName returns the result column name of the entry.
func (s SelectedExpression) OutputName() string {
	if s.Name != "" {
		return s.Name
	}
	if alias := AliasOf(s.Expr); alias != "" {
		return alias
	}
	return s.Expr.String()
}

// OrderByClause represents an ORDER BY clause item.
type OrderByClause struct {
	Expr Expression
	Desc bool
}

// String returns the SQL representation of the ORDER BY clause.
func (o OrderByClause) String() string {
	if o.Desc {
		return fmt.Sprintf("%s DESC", o.Expr.String())
	}
	return fmt.Sprintf("%s ASC", o.Expr.String())
}

// Query is a single table SELECT.
type Query struct {
	Selected []SelectedExpression
	From     string
	Where    Expression
	GroupBy  []Expression
	Having   Expression
	OrderBy  []OrderByClause
	Limit    *int64
	Offset   *int64
}

// TransformExpressions replaces every expression of the query, in every
// clause, with the result of Transform(e, fn).
func (q *Query) TransformExpressions(fn func(Expression) Expression) {
	for i := range q.Selected {
		q.Selected[i].Expr = Transform(q.Selected[i].Expr, fn)
	}
	if q.Where != nil {
		q.Where = Transform(q.Where, fn)
	}
	for i := range q.GroupBy {
		q.GroupBy[i] = Transform(q.GroupBy[i], fn)
	}
	if q.Having != nil {
		q.Having = Transform(q.Having, fn)
	}
	for i := range q.OrderBy {
		q.OrderBy[i].Expr = Transform(q.OrderBy[i].Expr, fn)
	}
}

// String returns the SQL representation of the query.
func (q *Query) String() string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	cols := make([]string, len(q.Selected))
	for i, s := range q.Selected {
		cols[i] = fmt.Sprintf("%s AS %s", s.Expr.String(), QuoteIdent(s.OutputName()))
	}
	sb.WriteString(strings.Join(cols, ", "))

	if q.From != "" {
		sb.WriteString(" FROM ")
		sb.WriteString(QuoteIdent(q.From))
	}

	if q.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Where.String())
	}

	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		groups := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			groups[i] = g.String()
		}
		sb.WriteString(strings.Join(groups, ", "))
	}

	if q.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(q.Having.String())
	}

	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		orders := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			orders[i] = o.String()
		}
		sb.WriteString(strings.Join(orders, ", "))
	}

	if q.Limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *q.Limit))
	}
	if q.Offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", *q.Offset))
	}

	return sb.String()
}
