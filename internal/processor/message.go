// Package processor flattens inbound event messages into columnar rows.
//
// A message is a (version, kind, payload[, state]) tuple read from the event
// stream. Insert messages become one row; replacement messages are forwarded
// untouched, keyed by project id, for an out-of-band replacer to apply.
package processor

import (
	"errors"
	"time"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/pkg/types"
)

// SupportedVersion is the only message version the processor accepts.
const SupportedVersion = 2

// PayloadDatetimeFormat is the layout of InsertEvent.Datetime.
const PayloadDatetimeFormat = "2006-01-02T15:04:05.999999Z"

// ErrEventTooOld is returned by a RetentionPolicy when the event falls outside
// its retention window. ProcessMessage turns it into a silent drop.
var ErrEventTooOld = errors.New("event is older than its retention window")

// Kind is the message classification carried in the second tuple slot.
type Kind string

const (
	KindInsert Kind = "insert"

	KindStartDeleteGroups Kind = "start_delete_groups"
	KindStartMerge        Kind = "start_merge"
	KindStartUnmerge      Kind = "start_unmerge"
	KindStartDeleteTag    Kind = "start_delete_tag"
	KindEndDeleteGroups   Kind = "end_delete_groups"
	KindEndMerge          Kind = "end_merge"
	KindEndUnmerge        Kind = "end_unmerge"
	KindEndDeleteTag      Kind = "end_delete_tag"
	KindTombstoneEvents   Kind = "tombstone_events"
	KindReplaceGroup      Kind = "replace_group"
	KindExcludeGroups     Kind = "exclude_groups"
)

// ReplacementKinds lists every kind that is forwarded rather than inserted.
// Hierarchical unmerges are not replacements and fail classification.
var ReplacementKinds = []Kind{
	KindStartDeleteGroups,
	KindStartMerge,
	KindStartUnmerge,
	KindStartDeleteTag,
	KindEndDeleteGroups,
	KindEndMerge,
	KindEndUnmerge,
	KindEndDeleteTag,
	KindTombstoneEvents,
	KindReplaceGroup,
	KindExcludeGroups,
}

// IsReplacement reports whether messages of this kind are forwarded.
func (k Kind) IsReplacement() bool {
	switch k {
	case KindStartDeleteGroups, KindStartMerge, KindStartUnmerge, KindStartDeleteTag,
		KindEndDeleteGroups, KindEndMerge, KindEndUnmerge, KindEndDeleteTag,
		KindTombstoneEvents, KindReplaceGroup, KindExcludeGroups:
		return true
	default:
		return false
	}
}

// Message is one decoded stream message.
type Message struct {
	Version int
	Kind    Kind
	Payload document.Object
	// State is the optional fourth tuple slot. It is opaque to the processor.
	State interface{}
	// Raw is the encoded message as read from the stream, when available.
	Raw []byte
}

// Metadata is the stream position a message was read from.
type Metadata struct {
	Offset    uint64
	Partition uint32
	Timestamp time.Time
}

// InsertEvent is the payload of an insert message.
type InsertEvent struct {
	GroupID        uint64
	EventID        string
	OrganizationID uint64
	ProjectID      uint64
	Message        string
	SearchMessage  string
	Platform       string
	// Datetime is formatted with PayloadDatetimeFormat.
	Datetime string
	Data     document.Object
	// PrimaryHash is empty when the event has no hash.
	PrimaryHash   string
	RetentionDays int
}

// ProcessedMessage is the result of processing one message: either an
// *InsertBatch or a *ReplacementBatch.
type ProcessedMessage interface {
	processedMessage()
}

// InsertBatch carries rows to append to storage.
type InsertBatch struct {
	Rows []types.Row
}

func (*InsertBatch) processedMessage() {}

// ReplacementBatch carries raw messages to forward to the replacer, keyed
// by project id.
type ReplacementBatch struct {
	ProjectID string
	Messages  []Message
}

func (*ReplacementBatch) processedMessage() {}
