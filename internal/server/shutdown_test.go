package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)

	var order []string
	started := false
	sm.OnShutdownStart(func() { started = true })
	sm.RegisterCloser("store", CloserFunc(func() error { order = append(order, "store"); return nil }))
	sm.RegisterCloser("spool", CloserFunc(func() error { order = append(order, "spool"); return fmt.Errorf("fsync") }))
	sm.RegisterCloser("http", CloserFunc(func() error { order = append(order, "http"); return nil }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close spool")
	assert.True(t, started)
	assert.Equal(t, []string{"http", "spool", "store"}, order)
	assert.True(t, sm.IsShuttingDown())

	// Second call is a no-op returning the first result.
	assert.Equal(t, err, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 3)

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second}, nil)
	handler := Middleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int64(1), sm.InFlightCount())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(0), sm.InFlightCount())

	require.NoError(t, sm.Shutdown(context.Background(), "test"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond}, nil)
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
	assert.False(t, sm.TrackRequest())
}

func TestListenForSignals_ReturnsOnCancel(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sm.ListenForSignals(ctx))
	assert.True(t, sm.IsShuttingDown())
}
