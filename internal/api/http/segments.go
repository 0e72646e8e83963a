package http

import (
	"context"
	"net/http"

	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/store"
)

// SegmentStore is implemented by stores that seal rows into archived
// segments.
type SegmentStore interface {
	Seal(ctx context.Context) (*store.SegmentInfo, error)
	Segments(ctx context.Context) ([]store.SegmentInfo, error)
}

// SegmentsResponse is the answer of GET /v1/segments.
type SegmentsResponse struct {
	Segments  []store.SegmentInfo `json:"segments"`
	RequestID string              `json:"request_id"`
}

// SealResponse is the answer of POST /v1/segments/seal. Segment is nil
// when no rows were pending.
type SealResponse struct {
	Segment   *store.SegmentInfo `json:"segment"`
	RequestID string             `json:"request_id"`
}

func (a *API) segmentStore(w http.ResponseWriter, r *http.Request) (SegmentStore, bool) {
	requestID := GetRequestID(r.Context())
	ds, name, ok := a.dataset(r.URL.Query().Get("dataset"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown dataset "+name, errors.CodeUnknownDataset, requestID)
		return nil, false
	}
	ss, ok := ds.Store.(SegmentStore)
	if !ok {
		writeError(w, http.StatusNotFound, "dataset "+name+" has no segment store", "", requestID)
		return nil, false
	}
	return ss, true
}

// ListSegments handles GET /v1/segments?dataset=<name>.
func (a *API) ListSegments(w http.ResponseWriter, r *http.Request) {
	ss, ok := a.segmentStore(w, r)
	if !ok {
		return
	}
	requestID := GetRequestID(r.Context())

	segments, err := ss.Segments(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
		return
	}
	if segments == nil {
		segments = []store.SegmentInfo{}
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{Segments: segments, RequestID: requestID})
}

// SealSegment handles POST /v1/segments/seal?dataset=<name>. It seals the
// rows written since the last seal without waiting for the row threshold.
func (a *API) SealSegment(w http.ResponseWriter, r *http.Request) {
	ss, ok := a.segmentStore(w, r)
	if !ok {
		return
	}
	requestID := GetRequestID(r.Context())

	info, err := ss.Seal(r.Context())
	if err != nil {
		level.Error(a.logger).Log("msg", "failed to seal segment", "request_id", requestID, "err", err)
		writeError(w, statusFor(err), err.Error(), errors.GetCode(err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, SealResponse{Segment: info, RequestID: requestID})
}
