package planner

import (
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/pkg/types"
)

// ColumnTypes looks up the declared storage type of a column.
// *types.Schema implements it.
type ColumnTypes interface {
	ColumnType(name string) (string, bool)
}

// NestedRewriter turns subscript references into nested attribute families
// (tags[k], contexts[k]) into storage expressions:
//
//   - a promoted key becomes a reference to its column, wrapped in
//     toString unless the column already is a plain string;
//   - any other key becomes arrayElement(F.value, indexOf(F.key, 'k')).
//
// indexOf returns 0 for a missing key and arrayElement returns the empty
// default for index 0, which is how "not set" reads back.
type NestedRewriter struct {
	families nested.Families
	columns  ColumnTypes
	metrics  *observability.Metrics
	stats    *observability.KeyStats
}

// RewriterOption configures a NestedRewriter.
type RewriterOption func(*NestedRewriter)

// WithRewriteMetrics counts rewrites by family and branch.
func WithRewriteMetrics(m *observability.Metrics) RewriterOption {
	return func(r *NestedRewriter) { r.metrics = m }
}

// WithKeyStats records every rewritten key.
func WithKeyStats(s *observability.KeyStats) RewriterOption {
	return func(r *NestedRewriter) { r.stats = s }
}

// NewNestedRewriter creates a rewriter for the given families.
func NewNestedRewriter(families nested.Families, columns ColumnTypes, opts ...RewriterOption) *NestedRewriter {
	r := &NestedRewriter{families: families, columns: columns}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process rewrites every nested reference of the query in place.
func (r *NestedRewriter) Process(q *ast.Query) {
	q.TransformExpressions(r.rewrite)
}

// Rewrite rewrites the nested references of a single expression.
func (r *NestedRewriter) Rewrite(e ast.Expression) ast.Expression {
	return ast.Transform(e, r.rewrite)
}

func (r *NestedRewriter) rewrite(e ast.Expression) ast.Expression {
	sub, ok := e.(*ast.SubscriptExpr)
	if !ok {
		return e
	}
	family, ok := r.families.Get(sub.Column)
	if !ok {
		return e
	}

	if column, ok := family.PromotedColumn(sub.Key); ok {
		typ, _ := r.columns.ColumnType(column)
		if types.IsPlainStringType(typ) {
			r.observe(family.Name, sub.Key, observability.BranchPromoted)
			return &ast.ColumnRef{Alias: sub.Alias, Column: column}
		}
		r.observe(family.Name, sub.Key, observability.BranchCast)
		return &ast.FunctionCall{
			Alias: sub.Alias,
			Name:  "toString",
			Args:  []ast.Expression{&ast.ColumnRef{Column: column}},
		}
	}

	r.observe(family.Name, sub.Key, observability.BranchArray)
	return &ast.FunctionCall{
		Alias: sub.Alias,
		Name:  "arrayElement",
		Args: []ast.Expression{
			&ast.ColumnRef{Column: family.ValueColumn()},
			&ast.FunctionCall{
				Name: "indexOf",
				Args: []ast.Expression{
					&ast.ColumnRef{Column: family.KeyColumn()},
					&ast.Literal{Value: sub.Key},
				},
			},
		},
	}
}

func (r *NestedRewriter) observe(family, key, branch string) {
	r.metrics.ObserveRewrite(family, branch)
	r.stats.RecordKey(family, key, branch)
}
