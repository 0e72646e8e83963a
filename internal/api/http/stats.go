package http

import (
	"net/http"
	"strconv"

	"github.com/arkilian/colflat/internal/observability"
)

// KeyStatsResponse is the answer of GET /v1/stats/keys.
type KeyStatsResponse struct {
	Keys      []observability.KeyAccess `json:"keys"`
	RequestID string                    `json:"request_id"`
}

// KeyStats handles GET /v1/stats/keys?n=<count>&branch=<branch>. It lists
// the most queried nested keys, optionally restricted to one rewrite
// branch.
func (a *API) KeyStats(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer", "", requestID)
			return
		}
		n = parsed
	}

	resp := KeyStatsResponse{Keys: []observability.KeyAccess{}, RequestID: requestID}
	if a.cfg.KeyStats != nil {
		a.cfg.KeyStats.Prune()
		if top := a.cfg.KeyStats.Top(n, r.URL.Query().Get("branch")); top != nil {
			resp.Keys = top
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
