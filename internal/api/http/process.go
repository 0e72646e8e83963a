package http

import (
	"io"
	"net/http"

	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/processor"
	"github.com/arkilian/colflat/pkg/types"
)

const maxMessageBytes = 4 << 20

// Outcomes reported by /v1/process.
const (
	OutcomeInsert      = "insert"
	OutcomeReplacement = "replacement"
	OutcomeDropped     = "dropped"
)

// ProcessResponse is the answer of POST /v1/process.
type ProcessResponse struct {
	Outcome   string    `json:"outcome"`
	Row       types.Row `json:"row,omitempty"`
	Stored    bool      `json:"stored"`
	ProjectID string    `json:"project_id,omitempty"`
	Messages  int       `json:"messages,omitempty"`
	Forwarded bool      `json:"forwarded"`
	RequestID string    `json:"request_id"`
}

// Process handles POST /v1/process?dataset=<name>. The body is one wire
// message. The stream position is zero since the message did not come from
// the stream.
func (a *API) Process(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	ds, name, ok := a.dataset(r.URL.Query().Get("dataset"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown dataset "+name, errors.CodeUnknownDataset, requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error(), "", requestID)
		return
	}

	msg, err := processor.DecodeMessage(body)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
		return
	}
	result, err := ds.Processor.ProcessMessage(msg, processor.Metadata{})
	if err != nil {
		writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
		return
	}

	resp := ProcessResponse{Outcome: OutcomeDropped, RequestID: requestID}
	switch batch := result.(type) {
	case *processor.InsertBatch:
		resp.Outcome = OutcomeInsert
		resp.Row = batch.Rows[0]
		if ds.Store != nil {
			if err := ds.Store.Write(r.Context(), batch.Rows); err != nil {
				level.Error(a.logger).Log("msg", "failed to store row", "dataset", name, "request_id", requestID, "err", err)
				writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
				return
			}
			resp.Stored = true
		}
	case *processor.ReplacementBatch:
		resp.Outcome = OutcomeReplacement
		resp.ProjectID = batch.ProjectID
		resp.Messages = len(batch.Messages)
		if a.cfg.Sink != nil {
			if err := a.cfg.Sink.Forward(r.Context(), batch); err != nil {
				level.Error(a.logger).Log("msg", "failed to forward replacement", "project_id", batch.ProjectID, "request_id", requestID, "err", err)
				writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
				return
			}
			resp.Forwarded = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
