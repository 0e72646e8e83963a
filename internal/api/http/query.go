package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/query/ast"
)

// QueryRequest is the body of POST /v1/query. Select and where keys are
// column names or family[key] references; where entries are equalities
// joined with AND.
type QueryRequest struct {
	Dataset string                 `json:"dataset"`
	Select  []string               `json:"select"`
	Where   map[string]interface{} `json:"where"`
	Limit   *int64                 `json:"limit,omitempty"`
}

// QueryResponse is the answer of POST /v1/query.
type QueryResponse struct {
	SQL       string                   `json:"sql"`
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows,omitempty"`
	Executed  bool                     `json:"executed"`
	ElapsedMs int64                    `json:"elapsed_ms"`
	RequestID string                   `json:"request_id"`
}

// BuildQuery turns a request into a logical query.
func BuildQuery(req QueryRequest) *ast.Query {
	q := &ast.Query{Limit: req.Limit}
	for _, ref := range req.Select {
		q.Selected = append(q.Selected, ast.SelectedExpression{Expr: ast.ParseReference(ref)})
	}

	refs := make([]string, 0, len(req.Where))
	for ref := range req.Where {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		cond := &ast.BinaryExpr{
			Left:     ast.ParseReference(ref),
			Operator: "=",
			Right:    &ast.Literal{Value: req.Where[ref]},
		}
		if q.Where == nil {
			q.Where = cond
		} else {
			q.Where = &ast.BinaryExpr{Left: q.Where, Operator: "AND", Right: cond}
		}
	}
	return q
}

// Query handles POST /v1/query. The query is rewritten and, when the
// dataset has a store, executed.
func (a *API) Query(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	start := time.Now()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "", requestID)
		return
	}
	if len(req.Select) == 0 {
		writeError(w, http.StatusBadRequest, "select must not be empty", errors.CodeInvalidReference, requestID)
		return
	}

	ds, name, ok := a.dataset(req.Dataset)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown dataset "+name, errors.CodeUnknownDataset, requestID)
		return
	}

	plan, err := ds.Planner.Plan(BuildQuery(req))
	if err != nil {
		writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
		return
	}

	resp := QueryResponse{SQL: plan.SQL, Columns: plan.Columns, RequestID: requestID}
	if ds.Store != nil {
		rows, err := ds.Store.Query(r.Context(), plan.Query)
		if err != nil {
			writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
			return
		}
		resp.Rows = rows
		resp.Executed = true
	}
	resp.ElapsedMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}
