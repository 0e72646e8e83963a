package processor

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/errors"
)

// DecodeMessage parses a wire message of the form
// [version, kind, payload] or [version, kind, payload, state].
// Only the envelope is validated here; version and kind are checked by
// ProcessMessage so that protocol drift is reported the same way for every
// transport.
func DecodeMessage(data []byte) (Message, error) {
	v, err := document.Decode(data)
	if err != nil {
		return Message{}, errors.Wrap(errors.ErrCategoryProtocol, errors.CodeMalformedMessage,
			"message is not valid JSON", err)
	}

	tuple, ok := v.([]interface{})
	if !ok || len(tuple) < 3 || len(tuple) > 4 {
		return Message{}, errors.NewProtocolError(errors.CodeMalformedMessage,
			"message must be an array of 3 or 4 elements")
	}

	version, ok := toInt64(tuple[0])
	if !ok {
		return Message{}, errors.NewProtocolError(errors.CodeMalformedMessage,
			fmt.Sprintf("message version is not an integer: %v", tuple[0]))
	}
	kind, ok := tuple[1].(string)
	if !ok {
		return Message{}, errors.NewProtocolError(errors.CodeMalformedMessage,
			fmt.Sprintf("message kind is not a string: %v", tuple[1]))
	}
	payload, ok := tuple[2].(document.Object)
	if !ok {
		return Message{}, errors.NewProtocolError(errors.CodeMalformedMessage,
			"message payload is not an object")
	}

	msg := Message{
		Version: int(version),
		Kind:    Kind(kind),
		Payload: payload,
		Raw:     data,
	}
	if len(tuple) == 4 {
		msg.State = tuple[3]
	}
	return msg, nil
}

// EncodeMessage renders a message in wire form. The raw bytes are returned
// as is when the message was decoded from the wire.
func EncodeMessage(msg Message) ([]byte, error) {
	if len(msg.Raw) > 0 {
		return msg.Raw, nil
	}
	tuple := []interface{}{json.Number(strconv.Itoa(msg.Version)), string(msg.Kind), msg.Payload}
	if msg.State != nil {
		tuple = append(tuple, msg.State)
	}
	return document.Marshal(tuple)
}

// EventFromPayload reads the insert event fields out of a message payload.
// Only project_id is required; every other field falls back to its zero
// value and is coerced again during extraction.
func EventFromPayload(p document.Object) (*InsertEvent, error) {
	projectID, ok := toUint64(p.Lookup("project_id"))
	if !ok {
		return nil, errors.NewProtocolError(errors.CodeMalformedMessage,
			"payload has no valid project_id")
	}

	ev := &InsertEvent{ProjectID: projectID}
	ev.GroupID, _ = toUint64(p.Lookup("group_id"))
	ev.OrganizationID, _ = toUint64(p.Lookup("organization_id"))
	ev.EventID, _ = document.Unicodify(p.Lookup("event_id"))
	ev.Message, _ = document.Unicodify(p.Lookup("message"))
	ev.SearchMessage, _ = document.Unicodify(p.Lookup("search_message"))
	ev.Platform, _ = document.Unicodify(p.Lookup("platform"))
	ev.Datetime, _ = p.Lookup("datetime").(string)
	ev.PrimaryHash, _ = document.Unicodify(p.Lookup("primary_hash"))
	if days, ok := toInt64(p.Lookup("retention_days")); ok {
		ev.RetentionDays = int(days)
	}
	ev.Data = p.Object("data")
	return ev, nil
}

// projectIDOf renders the project id of a replacement payload. Numbers are
// rendered without a fractional part; strings pass through.
func projectIDOf(p document.Object) (string, error) {
	switch v := p.Lookup("project_id").(type) {
	case json.Number:
		if id, ok := toUint64(v); ok {
			return strconv.FormatUint(id, 10), nil
		}
	case string:
		if v != "" {
			return v, nil
		}
	}
	return "", errors.NewProtocolError(errors.CodeMalformedMessage,
		"replacement payload has no valid project_id")
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	case int:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil && f >= 0 {
			return uint64(f), true
		}
	case int:
		if x >= 0 {
			return uint64(x), true
		}
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	case uint64:
		return x, true
	case float64:
		if x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}
