package observability

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// NewLogger returns a go-kit logger writing logfmt or json to w, filtered
// at logLevel (debug, info, warn, error).
func NewLogger(w io.Writer, format, logLevel string) (log.Logger, error) {
	var lvl dslog.Level
	if err := lvl.Set(logLevel); err != nil {
		return nil, err
	}

	logger := dslog.NewGoKitWithWriter(format, log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	// Level filter last.
	return level.NewFilter(logger, lvl.Option), nil
}
