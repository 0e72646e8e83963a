package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors_SkipsTransactions(t *testing.T) {
	p := newTestProcessor(NewErrors())
	result, err := p.ProcessMessage(mustDecode(t, insertMessage(`{"type": "transaction", "tags": {"a": "b"}}`)), testMeta)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestErrors_ProcessInsert(t *testing.T) {
	p := newTestProcessor(NewErrors())
	row := processOne(t, p, insertMessage(`{
		"type": "error",
		"title": "ValueError: bad",
		"hierarchical_hashes": ["a", "d41d8cd98f00b204e9800998ecf8427e"],
		"tags": {"environment": "prod", "sentry:user": "id:5", "transaction": "/checkout", "browser": "Chrome"},
		"contexts": {"trace": {"trace_id": "ABCDEF0123456789ABCDEF0123456789", "span_id": "8841662216cc598b", "op": "http"}},
		"user": {"id": "5", "username": "jo", "ip_address": "2001:db8::1", "geo": {"city": "Berlin", "country_code": "DE"}}
	}`))

	assert.Equal(t, "9cdc4c32-dff1-4fbb-b3fa-2c9a8e3b2f4a", row["event_id"])
	assert.Equal(t, "d41d8cd9-8f00-b204-e980-0998ecf8427e", row["primary_hash"])
	require.Len(t, row["hierarchical_hashes"], 2)
	assert.Equal(t, "d41d8cd9-8f00-b204-e980-0998ecf8427e", row["hierarchical_hashes"].([]string)[1])

	assert.Equal(t, "boom", row["message"])
	assert.Equal(t, "error", row["type"])
	assert.Equal(t, "", row["culprit"])
	assert.Equal(t, "prod", row["environment"])
	assert.Equal(t, "id:5", row["user"])
	assert.Equal(t, "/checkout", row["transaction_name"])
	assert.Equal(t, []string{"browser"}, row["tags.key"])

	assert.Equal(t, "abcdef01-2345-6789-abcd-ef0123456789", row["trace_id"])
	assert.Equal(t, uint64(0x8841662216cc598b), row["span_id"])

	assert.Equal(t, "5", row["user_id"])
	assert.Equal(t, "jo", row["user_name"])
	assert.Equal(t, "2001:db8::1", row["ip_address_v6"])
	assert.Nil(t, row["ip_address_v4"])

	// Geo is added as a context; the trace ids stay out of the arrays.
	assert.Equal(t, []string{"trace.op", "geo.city", "geo.country_code"}, row["contexts.key"])
	assert.Equal(t, []string{"http", "Berlin", "DE"}, row["contexts.value"])
}

func TestErrors_DefaultsWhenMissing(t *testing.T) {
	p := newTestProcessor(NewErrors())
	row := processOne(t, p, insertMessage(`{"user": {"ip_address": "::ffff:10.1.2.3"}, "contexts": {"trace": {"span_id": "not-hex"}}}`))

	assert.Equal(t, "", row["transaction_name"])
	assert.Equal(t, "10.1.2.3", row["ip_address_v4"])
	assert.Nil(t, row["span_id"])
	assert.Nil(t, row["trace_id"])
	assert.Equal(t, []string{}, row["hierarchical_hashes"])
}

func TestErrors_ReceivedOutOfRangeTakesDefault(t *testing.T) {
	p := newTestProcessor(NewErrors())
	row := processOne(t, p, insertMessage(`{"received": 99999999999}`))
	assert.Equal(t, time.Unix(0, 0).UTC(), row["received"])

	row = processOne(t, p, insertMessage(`{"received": 1714564800}`))
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), row["received"])
}

func TestErrors_MergeContextsKeepsInput(t *testing.T) {
	e := NewErrors()
	event := &InsertEvent{Data: mustDecode(t, `[2, "insert", {"user": {"geo": {"city": "Rome"}}}]`).Payload}
	contexts := mustDecode(t, `[2, "insert", {"os": {"name": "Linux"}}]`).Payload

	merged := e.MergeContexts(event, contexts)
	assert.Equal(t, []string{"os", "geo"}, merged.Keys())
	assert.Equal(t, []string{"os"}, contexts.Keys())
}

func TestHashify(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", hashify(""))
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", hashify("a"))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", hashify("d41d8cd98f00b204e9800998ecf8427e"))
}
