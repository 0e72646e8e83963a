package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/internal/query/planner"
	"github.com/arkilian/colflat/internal/storage"
	"github.com/arkilian/colflat/pkg/types"
)

func smallSchema() *types.Schema {
	return &types.Schema{
		Table: "events_local",
		Columns: []types.ColumnDef{
			{Name: "project_id", Type: "UInt64"},
			{Name: "offset", Type: "UInt64"},
			{Name: "timestamp", Type: "DateTime"},
			{Name: "environment", Type: "Nullable(String)"},
			{Name: "tags.key", Type: "Array(String)"},
			{Name: "tags.value", Type: "Array(String)"},
		},
	}
}

func openStore(t *testing.T, schema *types.Schema, cfg Config) *Store {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := Open(context.Background(), schema, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func recentDatetime() string {
	return time.Now().UTC().Add(-time.Minute).Format(processor.PayloadDatetimeFormat)
}

func selectRefs(refs ...string) *ast.Query {
	q := &ast.Query{}
	for _, ref := range refs {
		q.Selected = append(q.Selected, ast.SelectedExpression{Expr: ast.ParseReference(ref)})
	}
	return q
}

func TestFunctions(t *testing.T) {
	arr := `["a","b","c"]`

	assert.Equal(t, int64(2), indexOf(arr, "b"))
	assert.Equal(t, int64(0), indexOf(arr, "z"))
	assert.Equal(t, int64(0), indexOf(arr, []byte(nil)))
	assert.Equal(t, int64(0), indexOf([]byte(nil), "a"))
	assert.Equal(t, int64(1), indexOf(`[1,2]`, int64(1)))

	assert.Equal(t, "a", arrayElement(arr, int64(1)))
	assert.Equal(t, "c", arrayElement(arr, int64(-1)))
	assert.Equal(t, "", arrayElement(arr, int64(0)))
	assert.Equal(t, "", arrayElement(arr, int64(4)))
	assert.Equal(t, "", arrayElement(arr, int64(-4)))
	assert.Equal(t, "", arrayElement("not json", int64(1)))
	assert.Equal(t, int64(7), arrayElement(`[7]`, int64(1)))

	assert.Nil(t, toString([]byte(nil)))
	assert.Equal(t, "12", toString(int64(12)))
	assert.Equal(t, "0.5", toString(0.5))
	assert.Equal(t, "x", toString("x"))
}

func TestStore_WriteAndQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	s := openStore(t, smallSchema(), Config{Metrics: metrics})
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write(ctx, []types.Row{
		{
			"project_id":  uint64(1),
			"offset":      uint64(10),
			"timestamp":   ts,
			"environment": "prod",
			"tags.key":    []string{"browser", "os"},
			"tags.value":  []string{"Firefox", "Linux"},
		},
		// Columns left out get their defaults.
		{"project_id": uint64(2)},
	}))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RowsWritten))

	q := selectRefs("project_id", "offset", "timestamp", "environment")
	q.Selected = append(q.Selected, ast.SelectedExpression{
		Name: "browser",
		Expr: &ast.FunctionCall{Name: "arrayElement", Args: []ast.Expression{
			&ast.ColumnRef{Column: "tags.value"},
			&ast.FunctionCall{Name: "indexOf", Args: []ast.Expression{
				&ast.ColumnRef{Column: "tags.key"},
				&ast.Literal{Value: "browser"},
			}},
		}},
	})
	q.OrderBy = []ast.OrderByClause{{Expr: &ast.ColumnRef{Column: "project_id"}}}

	rows, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["project_id"])
	assert.Equal(t, int64(10), rows[0]["offset"])
	assert.Equal(t, "2024-05-01 12:00:00", rows[0]["timestamp"])
	assert.Equal(t, "prod", rows[0]["environment"])
	assert.Equal(t, "Firefox", rows[0]["browser"])

	assert.Equal(t, int64(2), rows[1]["project_id"])
	assert.Nil(t, rows[1]["environment"])
	assert.Nil(t, rows[1]["timestamp"])
	assert.Equal(t, "", rows[1]["browser"])
}

func TestStore_QueryError(t *testing.T) {
	s := openStore(t, smallSchema(), Config{})
	_, err := s.Query(context.Background(), selectRefs("missing_column"))
	assert.Error(t, err)
}

func TestStore_SealUploadsSegments(t *testing.T) {
	archiveDir := t.TempDir()
	archive, err := storage.NewLocalStorage(archiveDir)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	s := openStore(t, smallSchema(), Config{
		MaxRowsPerSegment: 2,
		Archive:           archive,
		ArchivePrefix:     "segments",
		Metrics:           metrics,
	})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Write(ctx, []types.Row{{"project_id": uint64(i)}}))
	}

	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SegmentsSealed))

	segments, err := s.Segments(ctx)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, int64(2), segments[0].RowCount)
	assert.Equal(t, int64(1), segments[0].MinRowID)
	assert.Equal(t, int64(2), segments[0].MaxRowID)

	exists, err := archive.Exists(ctx, segments[0].ObjectPath)
	require.NoError(t, err)
	assert.True(t, exists)

	// The archived segment is a standalone database.
	local := filepath.Join(t.TempDir(), "segment.db")
	require.NoError(t, archive.Download(ctx, segments[0].ObjectPath, local))
	db, err := sql.Open(DriverName, local)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events_local").Scan(&count))
	assert.Equal(t, 2, count)

	// Manual seal picks up the remainder; nothing left afterwards.
	info, err := s.Seal(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(1), info.RowCount)
	assert.Equal(t, int64(3), info.MinRowID)

	info, err = s.Seal(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)

	// All rows stay queryable.
	rows, err := s.Query(ctx, selectRefs("project_id"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	paths, err := s.FetchSegments(ctx, t.TempDir(), 2)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestStore_ReopenKeepsWatermark(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, smallSchema(), Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []types.Row{{"project_id": uint64(1)}, {"project_id": uint64(2)}}))
	_, err = s.Seal(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []types.Row{{"project_id": uint64(3)}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, smallSchema(), Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Pending())
}

// TestEndToEnd_PromotionAgreesWithRewrite writes an event through the
// events processor and reads it back through the nested rewriter: every
// tags[k] and contexts[k] reference must return the value of the input.
func TestEndToEnd_PromotionAgreesWithRewrite(t *testing.T) {
	ctx := context.Background()
	events := processor.NewEvents()
	proc := processor.New(events)

	msg, err := processor.DecodeMessage([]byte(fmt.Sprintf(`[2, "insert", {
		"event_id": "9cdc4c32dff14fbbb3fa2c9a8e3b2f4a",
		"organization_id": 1,
		"project_id": 7,
		"group_id": 3,
		"message": "boom",
		"platform": "python",
		"datetime": %q,
		"primary_hash": "d41d8cd98f00b204e9800998ecf8427e",
		"data": {
			"tags": {
				"environment": "prod",
				"sentry:release": "1.0",
				"release": "shadowed",
				"browser": "Firefox",
				"level": "error"
			},
			"contexts": {
				"device": {"simulator": true, "model": "Pixel"},
				"os": {"kernel_version": "6.1"}
			}
		}
	}]`, recentDatetime())))
	require.NoError(t, err)
	result, err := proc.ProcessMessage(msg, processor.Metadata{Offset: 42, Partition: 1, Timestamp: time.Now()})
	require.NoError(t, err)
	batch, ok := result.(*processor.InsertBatch)
	require.True(t, ok)

	s := openStore(t, events.Schema(), Config{})
	require.NoError(t, s.Write(ctx, batch.Rows))

	schema := events.Schema()
	p := planner.NewPlanner(schema, planner.NewNestedRewriter(events.Families(), schema))

	q := selectRefs(
		"project_id",
		"tags[environment]",
		"tags[sentry:release]",
		"tags[release]",
		"tags[browser]",
		"tags[missing]",
		"contexts[device.simulator]",
		"contexts[device.model]",
		"contexts[os.kernel_version]",
	)
	q.Where = &ast.BinaryExpr{
		Left:     ast.ParseReference("tags[level]"),
		Operator: "=",
		Right:    &ast.Literal{Value: "error"},
	}
	plan, err := p.Plan(q)
	require.NoError(t, err)

	rows, err := s.Query(ctx, plan.Query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, int64(7), row["project_id"])
	assert.Equal(t, "prod", row["tags[environment]"])
	assert.Equal(t, "1.0", row["tags[sentry:release]"])
	// The alias owns the column; the plain key reads it back too.
	assert.Equal(t, "1.0", row["tags[release]"])
	assert.Equal(t, "Firefox", row["tags[browser]"])
	assert.Equal(t, "", row["tags[missing]"])
	assert.Equal(t, "1", row["contexts[device.simulator]"])
	assert.Equal(t, "Pixel", row["contexts[device.model]"])
	assert.Equal(t, "6.1", row["contexts[os.kernel_version]"])
}

func TestEndToEnd_AliasTargetRoundTrip(t *testing.T) {
	ctx := context.Background()
	events := processor.NewEvents()
	proc := processor.New(events)
	s := openStore(t, events.Schema(), Config{})

	for projectID, tags := range map[int]string{
		7: `{"sentry:release": "1.0", "release": "shadowed", "browser": "Firefox"}`,
		8: `{"release": "2.0", "browser": "Chrome"}`,
	} {
		msg, err := processor.DecodeMessage([]byte(fmt.Sprintf(`[2, "insert", {
			"event_id": "9cdc4c32dff14fbbb3fa2c9a8e3b2f4a",
			"project_id": %d,
			"datetime": %q,
			"data": {"tags": %s}
		}]`, projectID, recentDatetime(), tags)))
		require.NoError(t, err)
		result, err := proc.ProcessMessage(msg, processor.Metadata{Timestamp: time.Now()})
		require.NoError(t, err)
		batch, ok := result.(*processor.InsertBatch)
		require.True(t, ok)

		// The plain key never lands in the arrays next to its column.
		assert.NotContains(t, batch.Rows[0]["tags.key"], "release")
		require.NoError(t, s.Write(ctx, batch.Rows))
	}

	schema := events.Schema()
	p := planner.NewPlanner(schema, planner.NewNestedRewriter(events.Families(), schema))

	read := func(projectID int64) map[string]interface{} {
		q := selectRefs("tags[release]", "tags[sentry:release]", "tags[browser]")
		q.Where = &ast.BinaryExpr{
			Left:     &ast.ColumnRef{Column: "project_id"},
			Operator: "=",
			Right:    &ast.Literal{Value: projectID},
		}
		plan, err := p.Plan(q)
		require.NoError(t, err)
		rows, err := s.Query(ctx, plan.Query)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		return rows[0]
	}

	row := read(7)
	assert.Equal(t, "1.0", row["tags[release]"])
	assert.Equal(t, "1.0", row["tags[sentry:release]"])
	assert.Equal(t, "Firefox", row["tags[browser]"])

	row = read(8)
	assert.Equal(t, "2.0", row["tags[release]"])
	assert.Equal(t, "2.0", row["tags[sentry:release]"])
	assert.Equal(t, "Chrome", row["tags[browser]"])
}
