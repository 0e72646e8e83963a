package processor

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/pkg/types"
)

// ErrorsTagColumns maps promoted tag keys of the errors dataset to their
// columns.
var ErrorsTagColumns = map[string]string{
	"environment":    "environment",
	"sentry:release": "release",
	"sentry:dist":    "dist",
	"sentry:user":    "user",
	"transaction":    "transaction_name",
	"level":          "level",
}

// ErrorsContextColumns maps flattened context keys of the errors dataset to
// their columns.
var ErrorsContextColumns = map[string]string{
	"trace.trace_id": "trace_id",
	"trace.span_id":  "span_id",
}

var errorsColumns = columns(
	"project_id", "UInt64",
	"timestamp", "DateTime",
	"event_id", "UUID",
	"platform", "LowCardinality(String)",
	"environment", "LowCardinality(Nullable(String))",
	"release", "LowCardinality(Nullable(String))",
	"dist", "LowCardinality(Nullable(String))",
	"ip_address_v4", "Nullable(IPv4)",
	"ip_address_v6", "Nullable(IPv6)",
	"user", "String",
	"user_id", "Nullable(String)",
	"user_name", "Nullable(String)",
	"user_email", "Nullable(String)",
	"sdk_name", "LowCardinality(Nullable(String))",
	"sdk_version", "LowCardinality(Nullable(String))",
	"http_method", "LowCardinality(Nullable(String))",
	"http_referer", "Nullable(String)",
	"transaction_name", "LowCardinality(String)",
	"span_id", "Nullable(UInt64)",
	"trace_id", "Nullable(UUID)",
	"retention_days", "UInt16",
	"deleted", "UInt8",
	"group_id", "UInt64",
	"primary_hash", "UUID",
	"hierarchical_hashes", "Array(UUID)",
	"received", "DateTime",
	"message", "String",
	"title", "String",
	"culprit", "String",
	"level", "LowCardinality(Nullable(String))",
	"location", "Nullable(String)",
	"version", "LowCardinality(Nullable(String))",
	"type", "LowCardinality(String)",
)

// Errors is the errors dataset. It stores everything but transactions and
// normalises identifiers to canonical UUID form.
type Errors struct {
	schema   *types.Schema
	families nested.Families
}

// NewErrors creates the errors dataset.
func NewErrors() *Errors {
	return &Errors{
		schema: buildSchema("errors_local", errorsColumns, nestedColumns, streamColumns),
		families: nested.NewFamilies(
			nested.NewFamily("tags", ErrorsTagColumns),
			nested.NewFamily("contexts", ErrorsContextColumns),
		),
	}
}

func (e *Errors) Name() string              { return "errors" }
func (e *Errors) Schema() *types.Schema     { return e.schema }
func (e *Errors) Families() nested.Families { return e.families }

// ShouldProcess rejects transaction events, which belong to another dataset.
func (e *Errors) ShouldProcess(event *InsertEvent) bool {
	t, _ := event.Data.Lookup("type").(string)
	return t != "transaction"
}

func (e *Errors) ExtractEventID(out types.Row, event *InsertEvent) {
	if id, err := uuid.Parse(event.EventID); err == nil {
		out["event_id"] = id.String()
	}
}

func (e *Errors) ExtractCustom(out types.Row, event *InsertEvent, _ Metadata) {
	data := event.Data

	out["message"] = event.Message
	out["primary_hash"] = hashUUID(event.PrimaryHash)

	hashes := []string{}
	if list, ok := data.Lookup("hierarchical_hashes").([]interface{}); ok {
		for _, h := range list {
			if s, ok := document.Unicodify(h); ok {
				hashes = append(hashes, hashUUID(s))
			}
		}
	}
	out["hierarchical_hashes"] = hashes

	out["culprit"] = stringOrEmpty(data.Lookup("culprit"))
	out["type"] = stringOrEmpty(data.Lookup("type"))
	out["title"] = stringOrEmpty(data.Lookup("title"))

	user := extractUser(interfaceOf(data, "user", "sentry.interfaces.User"))
	out["user_id"] = user.ID
	out["user_name"] = user.Username
	out["user_email"] = user.Email
	if user.IP != nil {
		if user.IP.Is4() {
			out["ip_address_v4"] = user.IP.String()
		} else {
			out["ip_address_v6"] = user.IP.String()
		}
	}

	out["http_method"], out["http_referer"] = extractHTTP(interfaceOf(data, "request", "sentry.interfaces.Http"))
}

func (e *Errors) ExtractPromotedTags(out types.Row, tags document.Object) {
	f, _ := e.families.Get("tags")
	PromoteColumns(out, e.schema, f, tags)
}

// ExtractTagsCustom makes transaction_name an empty string rather than
// NULL when the tag is missing.
func (e *Errors) ExtractTagsCustom(out types.Row, _ *InsertEvent, tags document.Object, _ Metadata) {
	out["transaction_name"] = stringOrEmpty(tags.Lookup("transaction"))
}

// ExtractPromotedContexts stores the trace context ids. span_id is sent as
// a hex string and stored as an integer.
func (e *Errors) ExtractPromotedContexts(out types.Row, contexts document.Object, _ document.Object) {
	f, _ := e.families.Get("contexts")
	PromoteColumns(out, e.schema, f, contexts)

	delete(out, "span_id")
	if s, ok := contexts.Lookup("trace.span_id").(string); ok && s != "" {
		if id, err := strconv.ParseUint(s, 16, 64); err == nil {
			out["span_id"] = id
		}
	}
}

// MergeContexts adds the user's geo information as a "geo" context when the
// payload has none.
func (e *Errors) MergeContexts(event *InsertEvent, contexts document.Object) document.Object {
	if contexts.Has("geo") {
		return contexts
	}
	geo, ok := interfaceOf(event.Data, "user", "sentry.interfaces.User").Lookup("geo").(document.Object)
	if !ok {
		return contexts
	}
	merged := make(document.Object, len(contexts), len(contexts)+1)
	copy(merged, contexts)
	return append(merged, document.Field{Key: "geo", Value: geo})
}

func hashUUID(h string) string {
	id, err := uuid.Parse(hashify(h))
	if err != nil {
		return hashify(h)
	}
	return id.String()
}

func stringOrEmpty(v interface{}) string {
	s, _ := document.Unicodify(v)
	return s
}
