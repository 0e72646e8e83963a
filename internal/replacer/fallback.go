package replacer

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/processor"
)

// FallbackSink forwards to Primary and spools the batch when Primary
// fails. The spool is drained back into Primary by Drain.
type FallbackSink struct {
	Primary Sink
	Spool   *Spool
	Logger  log.Logger
}

// Forward implements Sink.
func (f *FallbackSink) Forward(ctx context.Context, batch *processor.ReplacementBatch) error {
	err := f.Primary.Forward(ctx, batch)
	if err == nil {
		return nil
	}
	if f.Logger != nil {
		level.Warn(f.Logger).Log("msg", "spooling replacement after forward failure",
			"project_id", batch.ProjectID, "err", err)
	}
	return f.Spool.Forward(ctx, batch)
}

// Drain replays spooled batches into Primary.
func (f *FallbackSink) Drain(ctx context.Context) (int, error) {
	return f.Spool.Replay(ctx, f.Primary)
}
