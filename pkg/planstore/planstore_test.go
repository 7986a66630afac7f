package planstore

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmend/graphmend/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePlan(id string) *types.ResolutionPlan {
	return &types.ResolutionPlan{
		SchemaVersion: types.PlanSchemaVersion,
		ID:            id,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Scope:         types.Scope{Kind: types.ScopeLabel, Label: "Unit"},
		Groups: []types.DuplicateGroup{
			{
				CanonicalID: "a",
				MemberIDs:   []string{"a", "b"},
				PropertyMergeRules: []types.PropertyMergeRule{
					{Key: "points", Value: "150", SourceID: "b"},
				},
			},
		},
	}
}

func TestPlanRoundtrip(t *testing.T) {
	store := openTestStore(t)
	plan := samplePlan("p1")

	require.NoError(t, store.SavePlan(plan))
	got, err := store.GetPlan("p1")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, plan.Scope, got.Scope)
	assert.Equal(t, plan.Groups, got.Groups)
}

func TestPlansAreImmutable(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SavePlan(samplePlan("p1")))

	err := store.SavePlan(samplePlan("p1"))
	var validation *types.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestGetPlanNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetPlan("missing")
	assert.True(t, types.IsNotFound(err))
}

func TestListPlansNewestFirst(t *testing.T) {
	store := openTestStore(t)
	old := samplePlan("old")
	old.CreatedAt = time.Now().Add(-time.Hour)
	recent := samplePlan("recent")

	require.NoError(t, store.SavePlan(old))
	require.NoError(t, store.SavePlan(recent))

	plans, err := store.ListPlans()
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "recent", plans[0].ID)
	assert.Equal(t, "old", plans[1].ID)
}

func TestDeletePlanRemovesReport(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SavePlan(samplePlan("p1")))
	require.NoError(t, store.SaveReport(&types.ExecutionReport{
		PlanID: "p1", State: types.PlanCompleted,
	}))

	require.NoError(t, store.DeletePlan("p1"))
	_, err := store.GetPlan("p1")
	assert.True(t, types.IsNotFound(err))
	_, err = store.GetReport("p1")
	assert.True(t, types.IsNotFound(err))
}

func TestReportRoundtrip(t *testing.T) {
	store := openTestStore(t)
	report := &types.ExecutionReport{
		PlanID: "p1",
		State:  types.PlanPartiallyApplied,
		Groups: []types.GroupResult{
			{CanonicalID: "a", State: types.GroupApplied, DeletedMembers: 1},
			{CanonicalID: "c", State: types.GroupFailed, Error: "entity \"c\" not found"},
		},
	}
	require.NoError(t, store.SaveReport(report))

	got, err := store.GetReport("p1")
	require.NoError(t, err)
	assert.Equal(t, report.State, got.State)
	assert.Equal(t, report.Groups, got.Groups)
	assert.Equal(t, 1, got.Applied())
	assert.Equal(t, 1, got.Failed())
}

func TestV1PlanMigratedOnRead(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	store, err := Open(dir, logger)
	require.NoError(t, err)
	defer store.Close()

	// A v1 plan written by an earlier release, inserted raw.
	v1 := map[string]any{
		"schema_version": 1,
		"id":             "legacy",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
		"groups": []map[string]any{
			{"canonical": "a", "members": []string{"a", "b"}},
		},
	}
	raw, err := json.Marshal(v1)
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(planPrefix+"legacy"), raw)
	}))

	plan, err := store.GetPlan("legacy")
	require.NoError(t, err)
	assert.Equal(t, types.PlanSchemaVersion, plan.SchemaVersion)
	assert.Equal(t, "legacy", plan.ID)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, "a", plan.Groups[0].CanonicalID)
	assert.Equal(t, []string{"a", "b"}, plan.Groups[0].MemberIDs)
	require.NoError(t, plan.Validate())
}

func TestUnknownSchemaVersionRejected(t *testing.T) {
	store := openTestStore(t)
	raw := []byte(`{"schema_version": 99, "id": "future"}`)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(planPrefix+"future"), raw)
	}))

	_, err := store.GetPlan("future")
	var validation *types.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestExportJSON(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	plan := samplePlan("p1")

	path, err := store.ExportJSON(plan, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got types.ResolutionPlan
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, plan.ID, got.ID)
}
