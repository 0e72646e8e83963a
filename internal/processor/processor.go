package processor

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/pkg/types"
)

// Processor turns stream messages into rows for one dataset. It holds no
// mutable state and is safe for concurrent use.
type Processor struct {
	dataset   Dataset
	retention RetentionPolicy
	denylist  StacktraceDenylist
	logger    log.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithRetention sets the retention policy. The default keeps events for
// DefaultRetentionDays and discards older ones.
func WithRetention(r RetentionPolicy) Option {
	return func(p *Processor) { p.retention = r }
}

// WithStacktraceDenylist disables stack trace extraction for some projects.
func WithStacktraceDenylist(d StacktraceDenylist) Option {
	return func(p *Processor) { p.denylist = d }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics records message outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock replaces the wall clock used for timestamp fallbacks and by the
// default retention policy.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor for the given dataset.
func New(dataset Dataset, opts ...Option) *Processor {
	p := &Processor{
		dataset: dataset,
		logger:  log.NewNopLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retention == nil {
		p.retention = &Retention{Default: DefaultRetentionDays, Now: p.now}
	}
	p.logger = log.With(p.logger, "component", "processor", "dataset", dataset.Name())
	return p
}

// Dataset returns the dataset the processor writes.
func (p *Processor) Dataset() Dataset {
	return p.dataset
}

// ProcessMessage classifies a message and processes it. It returns a nil
// result and a nil error when the message is fully handled without output:
// the event is too old, vetoed by the dataset, or carries no data.
func (p *Processor) ProcessMessage(msg Message, meta Metadata) (ProcessedMessage, error) {
	start := time.Now()
	result, outcome, err := p.processMessage(msg, meta)
	p.metrics.ObserveMessage(outcome, time.Since(start))
	return result, err
}

func (p *Processor) processMessage(msg Message, meta Metadata) (ProcessedMessage, string, error) {
	if msg.Version != SupportedVersion {
		return nil, observability.OutcomeError, errors.NewProtocolError(errors.CodeUnsupportedVersion,
			fmt.Sprintf("unsupported message version: %d", msg.Version))
	}

	switch {
	case msg.Kind == KindInsert:
		event, err := EventFromPayload(msg.Payload)
		if err != nil {
			return nil, observability.OutcomeError, err
		}
		row, outcome, err := p.processInsert(event, meta)
		if err != nil {
			if stderrors.Is(err, ErrEventTooOld) {
				return nil, observability.OutcomeDroppedTooOld, nil
			}
			return nil, observability.OutcomeError, err
		}
		if row == nil {
			return nil, outcome, nil
		}
		return &InsertBatch{Rows: []types.Row{row}}, observability.OutcomeInsert, nil

	case msg.Kind.IsReplacement():
		projectID, err := projectIDOf(msg.Payload)
		if err != nil {
			return nil, observability.OutcomeError, err
		}
		return &ReplacementBatch{ProjectID: projectID, Messages: []Message{msg}}, observability.OutcomeReplacement, nil

	default:
		return nil, observability.OutcomeError, errors.NewProtocolError(errors.CodeInvalidMessageKind,
			fmt.Sprintf("invalid message kind: %q", msg.Kind))
	}
}

// ProcessInsert flattens one insert event into a row. It returns a nil row
// when the event is vetoed or has no data, and ErrEventTooOld when the
// retention policy rejects it.
func (p *Processor) ProcessInsert(event *InsertEvent, meta Metadata) (types.Row, error) {
	row, _, err := p.processInsert(event, meta)
	return row, err
}

func (p *Processor) processInsert(event *InsertEvent, meta Metadata) (types.Row, string, error) {
	if !p.dataset.ShouldProcess(event) {
		return nil, observability.OutcomeDroppedFiltered, nil
	}

	out := types.Row{"deleted": uint8(0)}
	out["project_id"] = event.ProjectID
	p.dataset.ExtractEventID(out, event)

	parsed, err := time.Parse(PayloadDatetimeFormat, event.Datetime)
	if err != nil {
		parsed = time.Time{}
	}
	days, err := p.retention.RetentionDays(event, parsed)
	if err != nil {
		return nil, "", err
	}
	out["retention_days"] = uint16(days)

	p.extractRequired(out, event)

	if len(event.Data) == 0 {
		level.Error(p.logger).Log("msg", "no data for event", "project_id", event.ProjectID,
			"event_id", event.EventID, "offset", meta.Offset, "partition", meta.Partition)
		return nil, observability.OutcomeDroppedNoData, nil
	}
	data := event.Data

	p.extractCommon(out, event)
	p.dataset.ExtractCustom(out, event, meta)
	extractSDK(out, data.Object("sdk"))

	families := p.dataset.Families()

	tags := document.AsScalarDict(data.Lookup("tags"))
	p.dataset.ExtractPromotedTags(out, tags)
	p.dataset.ExtractTagsCustom(out, event, tags, meta)

	contexts := document.AsDictSafe(data.Lookup("contexts"))
	if m, ok := p.dataset.(ContextsMerger); ok {
		contexts = m.MergeContexts(event, contexts)
	}
	flatContexts := flattenContexts(contexts)
	p.dataset.ExtractPromotedContexts(out, flatContexts, tags)

	if f, ok := families.Get("contexts"); ok {
		flattenNested(out, f, flatContexts)
	}
	if f, ok := families.Get("tags"); ok {
		flattenNested(out, f, tags)
	}

	stacks, _ := exceptionOf(data).Lookup("values").([]interface{})
	p.extractStacktraces(out, event.ProjectID, stacks)

	out["offset"] = meta.Offset
	out["partition"] = meta.Partition
	out["message_timestamp"] = meta.Timestamp

	fillDefaults(out, p.dataset.Schema())
	return out, "", nil
}

// ContextsMerger is implemented by datasets that add contexts the payload's
// contexts object does not carry. MergeContexts must not modify its input.
type ContextsMerger interface {
	MergeContexts(event *InsertEvent, contexts document.Object) document.Object
}

// fillDefaults makes every schema column present in the row.
func fillDefaults(out types.Row, schema *types.Schema) {
	for _, col := range schema.Columns {
		if _, ok := out[col.Name]; !ok {
			out[col.Name] = col.Default()
		}
	}
}
