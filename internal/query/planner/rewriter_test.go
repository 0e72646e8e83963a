package planner

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/pkg/types"
)

func testSchema() *types.Schema {
	return &types.Schema{
		Table: "sentry_local",
		Columns: []types.ColumnDef{
			{Name: "project_id", Type: "UInt64"},
			{Name: "environment", Type: "LowCardinality(Nullable(String))"},
			{Name: "release", Type: "Nullable(String)"},
			{Name: "transaction_name", Type: "String"},
			{Name: "level", Type: "FixedString(16)"},
			{Name: "device_simulator", Type: "Nullable(UInt8)"},
			{Name: "tags.key", Type: "Array(String)"},
			{Name: "tags.value", Type: "Array(String)"},
			{Name: "contexts.key", Type: "Array(String)"},
			{Name: "contexts.value", Type: "Array(String)"},
		},
	}
}

func testFamilies() nested.Families {
	return nested.NewFamilies(
		nested.NewFamily("tags", map[string]string{
			"environment":    "environment",
			"sentry:release": "release",
			"transaction":    "transaction_name",
			"level":          "level",
		}),
		nested.NewFamily("contexts", map[string]string{
			"device.simulator": "device_simulator",
		}),
	)
}

func sub(column, key string) *ast.SubscriptExpr {
	return &ast.SubscriptExpr{Alias: column + "[" + key + "]", Column: column, Key: key}
}

func TestNestedRewriter_PromotedString(t *testing.T) {
	r := NewNestedRewriter(testFamilies(), testSchema())

	out := r.Rewrite(sub("tags", "transaction"))
	assert.Equal(t, &ast.ColumnRef{Alias: "tags[transaction]", Column: "transaction_name"}, out)

	out = r.Rewrite(sub("tags", "environment"))
	assert.Equal(t, &ast.ColumnRef{Alias: "tags[environment]", Column: "environment"}, out)

	out = r.Rewrite(sub("tags", "sentry:release"))
	assert.Equal(t, &ast.ColumnRef{Alias: "tags[sentry:release]", Column: "release"}, out)
}

func TestNestedRewriter_PromotedCast(t *testing.T) {
	r := NewNestedRewriter(testFamilies(), testSchema())

	out := r.Rewrite(sub("contexts", "device.simulator"))
	assert.Equal(t, &ast.FunctionCall{
		Alias: "contexts[device.simulator]",
		Name:  "toString",
		Args:  []ast.Expression{&ast.ColumnRef{Column: "device_simulator"}},
	}, out)

	// FixedString is padded and is converted like any other type.
	out = r.Rewrite(sub("tags", "level"))
	assert.Equal(t, "toString(level)", out.String())
}

func TestNestedRewriter_ArrayLookup(t *testing.T) {
	r := NewNestedRewriter(testFamilies(), testSchema())

	out := r.Rewrite(sub("contexts", "browser.name"))
	assert.Equal(t, &ast.FunctionCall{
		Alias: "contexts[browser.name]",
		Name:  "arrayElement",
		Args: []ast.Expression{
			&ast.ColumnRef{Column: "contexts.value"},
			&ast.FunctionCall{
				Name: "indexOf",
				Args: []ast.Expression{
					&ast.ColumnRef{Column: "contexts.key"},
					&ast.Literal{Value: "browser.name"},
				},
			},
		},
	}, out)
	assert.Equal(t, "arrayElement(`contexts.value`, indexOf(`contexts.key`, 'browser.name'))", out.String())

	// An alias target is also reachable by its own name.
	out = r.Rewrite(sub("tags", "release"))
	assert.Equal(t, &ast.ColumnRef{Alias: "tags[release]", Column: "release"}, out)
	assert.Equal(t, "`release`", out.String())
}

func TestNestedRewriter_LeavesOtherNodesAlone(t *testing.T) {
	r := NewNestedRewriter(testFamilies(), testSchema())

	unknown := sub("modules", "django")
	assert.Equal(t, unknown, r.Rewrite(unknown))

	col := &ast.ColumnRef{Column: "project_id"}
	assert.Equal(t, col, r.Rewrite(col))

	expr := &ast.BinaryExpr{Left: col, Operator: "=", Right: &ast.Literal{Value: int64(1)}}
	assert.Equal(t, expr, r.Rewrite(expr))
}

func TestNestedRewriter_ProcessQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	stats := observability.NewKeyStats(0)
	r := NewNestedRewriter(testFamilies(), testSchema(), WithRewriteMetrics(metrics), WithKeyStats(stats))

	q := &ast.Query{
		Selected: []ast.SelectedExpression{
			{Name: "tags[transaction]", Expr: sub("tags", "transaction")},
			{Name: "contexts[browser.name]", Expr: sub("contexts", "browser.name")},
		},
		Where: &ast.BinaryExpr{
			Left:     &ast.FunctionCall{Name: "lower", Args: []ast.Expression{sub("tags", "browser")}},
			Operator: "=",
			Right:    &ast.Literal{Value: "firefox"},
		},
		OrderBy: []ast.OrderByClause{{Expr: sub("contexts", "device.simulator")}},
	}
	r.Process(q)

	assert.Equal(t, "SELECT transaction_name AS `tags[transaction]`, "+
		"arrayElement(`contexts.value`, indexOf(`contexts.key`, 'browser.name')) AS `contexts[browser.name]` "+
		"WHERE (lower(arrayElement(`tags.value`, indexOf(`tags.key`, 'browser'))) = 'firefox') "+
		"ORDER BY toString(device_simulator) ASC", q.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rewrites.WithLabelValues("tags", observability.BranchPromoted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rewrites.WithLabelValues("tags", observability.BranchArray)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rewrites.WithLabelValues("contexts", observability.BranchCast)))
	assert.Equal(t, 4, stats.Len())
}

func TestPlanner_Plan(t *testing.T) {
	schema := testSchema()
	p := NewPlanner(schema, NewNestedRewriter(testFamilies(), schema))

	plan, err := p.Plan(&ast.Query{
		Selected: []ast.SelectedExpression{
			{Expr: ast.ParseReference("tags[environment]")},
			{Expr: ast.ParseReference("project_id")},
		},
		Where: &ast.BinaryExpr{Left: ast.ParseReference("tags[level]"), Operator: "=", Right: &ast.Literal{Value: "error"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tags[environment]", "project_id"}, plan.Columns)
	assert.Equal(t, "SELECT environment AS `tags[environment]`, project_id AS project_id FROM sentry_local "+
		"WHERE (toString(level) = 'error')", plan.SQL)
}

func TestPlanner_RejectsUnknownReferences(t *testing.T) {
	schema := testSchema()
	p := NewPlanner(schema, NewNestedRewriter(testFamilies(), schema))

	_, err := p.Plan(&ast.Query{Selected: []ast.SelectedExpression{{Expr: ast.ParseReference("modules[django]")}}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidReference, errors.GetCode(err))

	_, err = p.Plan(&ast.Query{Selected: []ast.SelectedExpression{{Expr: ast.ParseReference("nope")}}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryQuery, errors.GetCategory(err))

	_, err = p.Plan(&ast.Query{})
	assert.Error(t, err)
}

// TestProperty_PromotedRewritesAreStrings checks that a promoted reference
// always yields a string typed expression, whatever the column type.
func TestProperty_PromotedRewritesAreStrings(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	colTypes := []string{
		"String", "Nullable(String)", "LowCardinality(String)", "FixedString(8)",
		"UInt8", "Nullable(UInt64)", "Float32", "DateTime", "UUID", "Nullable(IPv4)",
	}

	properties.Property("promoted rewrite output is string", prop.ForAll(
		func(typeIdx int, key string) bool {
			typ := colTypes[typeIdx]
			schema := &types.Schema{Columns: []types.ColumnDef{{Name: "col", Type: typ}}}
			families := nested.NewFamilies(nested.NewFamily("tags", map[string]string{key: "col"}))

			out := NewNestedRewriter(families, schema).Rewrite(sub("tags", key))
			switch n := out.(type) {
			case *ast.ColumnRef:
				return n.Column == "col" && types.IsPlainStringType(typ) && n.Alias == "tags["+key+"]"
			case *ast.FunctionCall:
				return n.Name == "toString" && !types.IsPlainStringType(typ) && n.Alias == "tags["+key+"]"
			default:
				return false
			}
		},
		gen.IntRange(0, len(colTypes)-1),
		gen.Identifier(),
	))

	properties.Property("non promoted rewrite is an indexOf lookup", prop.ForAll(
		func(key string) bool {
			out := NewNestedRewriter(testFamilies(), testSchema()).Rewrite(sub("contexts", key))
			fn, ok := out.(*ast.FunctionCall)
			if !ok || fn.Name != "arrayElement" || len(fn.Args) != 2 {
				return false
			}
			idx, ok := fn.Args[1].(*ast.FunctionCall)
			if !ok || idx.Name != "indexOf" {
				return false
			}
			lit, ok := idx.Args[1].(*ast.Literal)
			return ok && lit.Value == key
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
