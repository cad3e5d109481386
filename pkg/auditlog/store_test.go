package auditlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func terminalTask(taskID, batchID, siteID string, state orchestrator.TaskState) orchestrator.TaskView {
	started := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Minute)
	return orchestrator.TaskView{
		ID:           taskID,
		BatchID:      batchID,
		OperationID:  "update_plugins",
		SiteID:       siteID,
		SiteName:     siteID + ".example.com",
		State:        state,
		AttemptCount: 1,
		CreatedAt:    started,
		StartedAt:    &started,
		CompletedAt:  &completed,
	}
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record(terminalTask("t1", "b1", "alpha", orchestrator.TaskCompleted)))
	require.NoError(t, store.Record(terminalTask("t2", "b1", "beta", orchestrator.TaskFailed)))

	entries, err := store.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byTask := map[string]Entry{}
	for _, e := range entries {
		byTask[e.TaskID] = e
	}
	assert.Equal(t, orchestrator.TaskCompleted, byTask["t1"].State)
	assert.Equal(t, "alpha", byTask["t1"].SiteID)
	assert.Equal(t, "alpha.example.com", byTask["t1"].SiteName)
	require.NotNil(t, byTask["t1"].StartedAt)
	require.NotNil(t, byTask["t1"].CompletedAt)
	assert.False(t, byTask["t1"].RecordedAt.IsZero())
}

func TestRecordIdempotentByTaskID(t *testing.T) {
	store := openTestStore(t)

	task := terminalTask("t1", "b1", "alpha", orchestrator.TaskCompleted)
	require.NoError(t, store.Record(task))

	// A duplicate attempt is a no-op, not an error, and the original row
	// is left untouched.
	dup := task
	dup.State = orchestrator.TaskFailed
	dup.Error = "should not overwrite"
	require.NoError(t, store.Record(dup))

	entries, err := store.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, orchestrator.TaskCompleted, entries[0].State)
	assert.Empty(t, entries[0].Error)
}

func TestListFilters(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record(terminalTask("t1", "b1", "alpha", orchestrator.TaskCompleted)))
	require.NoError(t, store.Record(terminalTask("t2", "b1", "beta", orchestrator.TaskFailed)))
	require.NoError(t, store.Record(terminalTask("t3", "b2", "alpha", orchestrator.TaskCancelled)))

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "by batch", query: Query{BatchID: "b1"}, want: []string{"t1", "t2"}},
		{name: "by site", query: Query{SiteID: "alpha"}, want: []string{"t1", "t3"}},
		{name: "by state", query: Query{State: orchestrator.TaskFailed}, want: []string{"t2"}},
		{name: "batch and site", query: Query{BatchID: "b2", SiteID: "alpha"}, want: []string{"t3"}},
		{name: "no match", query: Query{BatchID: "nope"}, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := store.List(context.Background(), tc.query)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.TaskID)
			}
			assert.ElementsMatch(t, tc.want, got)
		})
	}
}

func TestListLimit(t *testing.T) {
	store := openTestStore(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.Record(terminalTask(id, "b1", "alpha", orchestrator.TaskCompleted)))
	}

	entries, err := store.List(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	n, err := store.Count(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestExportJSONL(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record(terminalTask("t1", "b1", "alpha", orchestrator.TaskCompleted)))
	require.NoError(t, store.Record(terminalTask("t2", "b1", "beta", orchestrator.TaskFailed)))

	var buf bytes.Buffer
	n, err := store.Export(context.Background(), &buf, Query{BatchID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var records []ExportRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec ExportRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 3, "two entries plus a summary line")

	assert.Equal(t, TypeEntry, records[0].Type)
	assert.Equal(t, TypeEntry, records[1].Type)
	assert.Equal(t, TypeSummary, records[2].Type)

	var sum SummaryRecord
	require.NoError(t, json.Unmarshal(records[2].Data, &sum))
	assert.Equal(t, 2, sum.Entries)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
