package ast

import "fmt"

// Transform rebuilds e bottom-up: children are transformed first, then fn
// is applied to the rebuilt node. Nodes are copied, never modified, so the
// input tree can be shared.
func Transform(e Expression, fn func(Expression) Expression) Expression {
	switch n := e.(type) {
	case nil:
		return nil
	case *ColumnRef:
		cp := *n
		return fn(&cp)
	case *SubscriptExpr:
		cp := *n
		return fn(&cp)
	case *Literal:
		cp := *n
		return fn(&cp)
	case *FunctionCall:
		return fn(&FunctionCall{
			Alias: n.Alias,
			Name:  n.Name,
			Args:  transformAll(n.Args, fn),
		})
	case *BinaryExpr:
		return fn(&BinaryExpr{
			Left:     Transform(n.Left, fn),
			Operator: n.Operator,
			Right:    Transform(n.Right, fn),
		})
	case *UnaryExpr:
		return fn(&UnaryExpr{
			Operator: n.Operator,
			Operand:  Transform(n.Operand, fn),
		})
	case *InExpr:
		return fn(&InExpr{
			Expr:   Transform(n.Expr, fn),
			Values: transformAll(n.Values, fn),
			Not:    n.Not,
		})
	case *IsNullExpr:
		return fn(&IsNullExpr{
			Expr: Transform(n.Expr, fn),
			Not:  n.Not,
		})
	case *LikeExpr:
		return fn(&LikeExpr{
			Expr:    Transform(n.Expr, fn),
			Pattern: Transform(n.Pattern, fn),
			Not:     n.Not,
		})
	case *ParenExpr:
		return fn(&ParenExpr{Expr: Transform(n.Expr, fn)})
	default:
		panic(fmt.Sprintf("ast: unknown expression node %T", e))
	}
}

func transformAll(exprs []Expression, fn func(Expression) Expression) []Expression {
	if exprs == nil {
		return nil
	}
	out := make([]Expression, len(exprs))
	for i, e := range exprs {
		out[i] = Transform(e, fn)
	}
	return out
}

// Walk calls fn for every node of e, parents before children.
func Walk(e Expression, fn func(Expression)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *ColumnRef, *SubscriptExpr, *Literal:
	case *FunctionCall:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *InExpr:
		Walk(n.Expr, fn)
		for _, v := range n.Values {
			Walk(v, fn)
		}
	case *IsNullExpr:
		Walk(n.Expr, fn)
	case *LikeExpr:
		Walk(n.Expr, fn)
		Walk(n.Pattern, fn)
	case *ParenExpr:
		Walk(n.Expr, fn)
	default:
		panic(fmt.Sprintf("ast: unknown expression node %T", e))
	}
}

// Expressions returns every top level expression of the query.
func (q *Query) Expressions() []Expression {
	var out []Expression
	for _, s := range q.Selected {
		out = append(out, s.Expr)
	}
	if q.Where != nil {
		out = append(out, q.Where)
	}
	out = append(out, q.GroupBy...)
	if q.Having != nil {
		out = append(out, q.Having)
	}
	for _, o := range q.OrderBy {
		out = append(out, o.Expr)
	}
	return out
}
