package processor

import (
	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/pkg/types"
)

// EventsTagColumns maps promoted tag keys of the events dataset to their
// columns.
var EventsTagColumns = map[string]string{
	"environment":    "environment",
	"sentry:release": "release",
	"sentry:dist":    "dist",
	"sentry:user":    "user",
	"transaction":    "transaction_name",
	"level":          "level",
	"logger":         "logger",
	"server_name":    "server_name",
	"site":           "site",
	"url":            "url",
}

// EventsContextColumns maps flattened context keys of the events dataset
// to their columns.
var EventsContextColumns = map[string]string{
	"os.build":             "os_build",
	"os.kernel_version":    "os_kernel_version",
	"device.name":          "device_name",
	"device.brand":         "device_brand",
	"device.locale":        "device_locale",
	"device.uuid":          "device_uuid",
	"device.model_id":      "device_model_id",
	"device.arch":          "device_arch",
	"device.battery_level": "device_battery_level",
	"device.orientation":   "device_orientation",
	"device.simulator":     "device_simulator",
	"device.online":        "device_online",
	"device.charging":      "device_charging",
}

var eventsColumns = columns(
	"event_id", "FixedString(32)",
	"project_id", "UInt64",
	"group_id", "UInt64",
	"timestamp", "DateTime",
	"deleted", "UInt8",
	"retention_days", "UInt16",
	"platform", "Nullable(String)",
	"message", "Nullable(String)",
	"search_message", "Nullable(String)",
	"primary_hash", "Nullable(FixedString(32))",
	"received", "Nullable(DateTime)",
	"title", "Nullable(String)",
	"culprit", "Nullable(String)",
	"type", "Nullable(String)",
	"location", "Nullable(String)",
	"version", "Nullable(String)",
	"user_id", "Nullable(String)",
	"username", "Nullable(String)",
	"email", "Nullable(String)",
	"ip_address", "Nullable(String)",
	"geo_country_code", "Nullable(String)",
	"geo_region", "Nullable(String)",
	"geo_city", "Nullable(String)",
	"sdk_name", "Nullable(String)",
	"sdk_version", "Nullable(String)",
	"http_method", "Nullable(String)",
	"http_referer", "Nullable(String)",
	// promoted tags
	"environment", "Nullable(String)",
	"release", "Nullable(String)",
	"dist", "Nullable(String)",
	"user", "Nullable(String)",
	"transaction_name", "Nullable(String)",
	"level", "Nullable(String)",
	"logger", "Nullable(String)",
	"server_name", "Nullable(String)",
	"site", "Nullable(String)",
	"url", "Nullable(String)",
	// promoted contexts
	"os_build", "Nullable(String)",
	"os_kernel_version", "Nullable(String)",
	"device_name", "Nullable(String)",
	"device_brand", "Nullable(String)",
	"device_locale", "Nullable(String)",
	"device_uuid", "Nullable(String)",
	"device_model_id", "Nullable(String)",
	"device_arch", "Nullable(String)",
	"device_battery_level", "Nullable(Float32)",
	"device_orientation", "Nullable(String)",
	"device_simulator", "Nullable(UInt8)",
	"device_online", "Nullable(UInt8)",
	"device_charging", "Nullable(UInt8)",
)

// Events is the generic events dataset.
type Events struct {
	schema   *types.Schema
	families nested.Families
}

// NewEvents creates the events dataset.
func NewEvents() *Events {
	return &Events{
		schema: buildSchema("sentry_local", eventsColumns, nestedColumns, streamColumns),
		families: nested.NewFamilies(
			nested.NewFamily("tags", EventsTagColumns),
			nested.NewFamily("contexts", EventsContextColumns),
		),
	}
}

func (e *Events) Name() string              { return "events" }
func (e *Events) Schema() *types.Schema     { return e.schema }
func (e *Events) Families() nested.Families { return e.families }

func (e *Events) ShouldProcess(*InsertEvent) bool { return true }

func (e *Events) ExtractEventID(out types.Row, event *InsertEvent) {
	out["event_id"] = event.EventID
}

func (e *Events) ExtractCustom(out types.Row, event *InsertEvent, _ Metadata) {
	data := event.Data
	out["message"] = document.NullableString(event.Message)
	out["search_message"] = document.NullableString(event.SearchMessage)

	user := extractUser(interfaceOf(data, "user", "sentry.interfaces.User"))
	out["user_id"] = user.ID
	out["username"] = user.Username
	out["email"] = user.Email
	out["ip_address"] = user.ipString()
	out["geo_country_code"] = document.NullableString(user.Geo.Lookup("country_code"))
	out["geo_region"] = document.NullableString(user.Geo.Lookup("region"))
	out["geo_city"] = document.NullableString(user.Geo.Lookup("city"))

	out["http_method"], out["http_referer"] = extractHTTP(interfaceOf(data, "request", "sentry.interfaces.Http"))

	if event.PrimaryHash != "" {
		out["primary_hash"] = hashify(event.PrimaryHash)
	} else {
		out["primary_hash"] = nil
	}
	out["culprit"] = document.NullableString(data.Lookup("culprit"))
	out["type"] = document.NullableString(data.Lookup("type"))
	out["title"] = document.NullableString(data.Lookup("title"))
}

func (e *Events) ExtractPromotedTags(out types.Row, tags document.Object) {
	f, _ := e.families.Get("tags")
	PromoteColumns(out, e.schema, f, tags)
}

func (e *Events) ExtractTagsCustom(types.Row, *InsertEvent, document.Object, Metadata) {}

func (e *Events) ExtractPromotedContexts(out types.Row, contexts document.Object, _ document.Object) {
	f, _ := e.families.Get("contexts")
	PromoteColumns(out, e.schema, f, contexts)
}
