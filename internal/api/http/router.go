package http

import (
	"context"
	"net/http"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/internal/query/planner"
	"github.com/arkilian/colflat/internal/replacer"
	"github.com/arkilian/colflat/internal/server"
	"github.com/arkilian/colflat/pkg/types"
)

// Store is the row store of one dataset.
type Store interface {
	Write(ctx context.Context, rows []types.Row) error
	Query(ctx context.Context, q *ast.Query) ([]map[string]interface{}, error)
}

// Dataset bundles the write and read paths of one dataset. Store may be
// nil, in which case processed rows are only returned and queries are
// only planned.
type Dataset struct {
	Processor *processor.Processor
	Planner   *planner.Planner
	Store     Store
}

// Config configures the router.
type Config struct {
	Datasets map[string]*Dataset

	// DefaultDataset is used when a request names no dataset.
	DefaultDataset string

	// Sink receives replacement batches from /v1/process. Optional.
	Sink replacer.Sink

	KeyStats *observability.KeyStats
	Gatherer prometheus.Gatherer
	Shutdown *server.ShutdownManager
	Logger   log.Logger
}

// API holds the handlers.
type API struct {
	cfg    Config
	logger log.Logger
}

// NewRouter builds the HTTP routes of the service.
func NewRouter(cfg Config) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	api := &API{cfg: cfg, logger: log.With(cfg.Logger, "component", "http")}

	r := mux.NewRouter()
	r.Use(RecoveryMiddleware(api.logger), RequestIDMiddleware, LoggingMiddleware(api.logger))
	if cfg.Shutdown != nil {
		r.Use(server.Middleware(cfg.Shutdown))
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(ContentTypeMiddleware)
	v1.HandleFunc("/process", api.Process).Methods(http.MethodPost)
	v1.HandleFunc("/query", api.Query).Methods(http.MethodPost)
	v1.HandleFunc("/stats/keys", api.KeyStats).Methods(http.MethodGet)
	v1.HandleFunc("/segments", api.ListSegments).Methods(http.MethodGet)
	v1.HandleFunc("/segments/seal", api.SealSegment).Methods(http.MethodPost)

	r.HandleFunc("/health", api.Health).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (a *API) dataset(name string) (*Dataset, string, bool) {
	if name == "" {
		name = a.cfg.DefaultDataset
	}
	ds, ok := a.cfg.Datasets[name]
	return ds, name, ok
}

// Health answers liveness probes.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a structured error to an HTTP status.
func statusFor(err error) int {
	switch errors.GetCategory(err) {
	case errors.ErrCategoryProtocol, errors.ErrCategoryValidation, errors.ErrCategoryQuery:
		if errors.GetCode(err) == errors.CodeExecutionFailed {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	case errors.ErrCategoryStorage, errors.ErrCategoryStream:
		if errors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
