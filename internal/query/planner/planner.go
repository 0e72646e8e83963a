// Package planner prepares logical queries for execution against the row
// store: it runs the query processors (nested attribute rewriting) and
// checks that every remaining reference names a storage column.
package planner

import (
	"fmt"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/pkg/types"
)

// QueryProcessor transforms a query in place.
type QueryProcessor interface {
	Process(q *ast.Query)
}

// QueryPlan is a query ready for execution.
type QueryPlan struct {
	// Query is the rewritten query.
	Query *ast.Query

	// SQL is the rendered query.
	SQL string

	// Columns are the result column names, in select order.
	Columns []string
}

// Planner runs query processors against one dataset schema.
type Planner struct {
	schema     *types.Schema
	processors []QueryProcessor
}

// NewPlanner creates a planner for the given schema.
func NewPlanner(schema *types.Schema, processors ...QueryProcessor) *Planner {
	return &Planner{schema: schema, processors: processors}
}

// Plan rewrites q in place and validates it. Queries without a FROM clause
// read the schema's table.
func (p *Planner) Plan(q *ast.Query) (*QueryPlan, error) {
	if q == nil {
		return nil, errors.NewQueryError(errors.CodeInvalidReference, "planner: nil query")
	}
	if len(q.Selected) == 0 {
		return nil, errors.NewQueryError(errors.CodeInvalidReference, "planner: empty select list")
	}
	if q.From == "" {
		q.From = p.schema.Table
	}

	for _, proc := range p.processors {
		proc.Process(q)
	}

	if err := p.validate(q); err != nil {
		return nil, err
	}

	columns := make([]string, len(q.Selected))
	for i, s := range q.Selected {
		columns[i] = s.OutputName()
	}
	return &QueryPlan{Query: q, SQL: q.String(), Columns: columns}, nil
}

func (p *Planner) validate(q *ast.Query) error {
	var err error
	for _, e := range q.Expressions() {
		ast.Walk(e, func(n ast.Expression) {
			if err != nil {
				return
			}
			switch node := n.(type) {
			case *ast.SubscriptExpr:
				err = errors.NewQueryError(errors.CodeInvalidReference,
					fmt.Sprintf("unknown nested column %q", node.Column))
			case *ast.ColumnRef:
				if _, ok := p.schema.ColumnType(node.Column); !ok {
					err = errors.NewQueryError(errors.CodeInvalidReference,
						fmt.Sprintf("unknown column %q", node.Column))
				}
			}
		})
	}
	return err
}
