package observability

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "logfmt", "info")
	require.NoError(t, err)

	level.Debug(logger).Log("msg", "hidden")
	level.Info(logger).Log("msg", "segment sealed", "rows", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="segment sealed"`)
	assert.Contains(t, out, "rows=3")
	assert.Contains(t, out, "level=info")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "debug")
	require.NoError(t, err)
	level.Debug(logger).Log("msg", "shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "logfmt", "loud")
	assert.Error(t, err)
}
