package resolution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/judge"
	"github.com/graphmend/graphmend/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResolutionConfig() config.ResolutionConfig {
	return config.ResolutionConfig{
		JudgeThreshold:   0.85,
		CandidateFloor:   0.55,
		JudgeConcurrency: 2,
		PropertyPolicy:   "canonical-wins",
		EdgePolicy:       "collapse",
		ExecConcurrency:  2,
	}
}

// countingJudge wraps a judge and counts how often it is consulted.
type countingJudge struct {
	inner judge.SimilarityJudge
	calls atomic.Int64
}

func (c *countingJudge) Judge(ctx context.Context, a, b *types.Entity) (*judge.Verdict, error) {
	c.calls.Add(1)
	return c.inner.Judge(ctx, a, b)
}

func (c *countingJudge) Close() error { return nil }

// failingJudge errors on every call, like a judge whose backend is down.
type failingJudge struct{}

func (failingJudge) Judge(ctx context.Context, a, b *types.Entity) (*judge.Verdict, error) {
	return nil, &types.ExternalServiceError{Service: "judge", Err: errors.New("unavailable")}
}

func (failingJudge) Close() error { return nil }

func seedEntity(t *testing.T, store *driver.MemoryStore, id, label, name string) {
	t.Helper()
	err := store.UpsertEntity(context.Background(), &types.Entity{
		ID:         id,
		Label:      label,
		Properties: map[string]interface{}{"name": name},
	})
	require.NoError(t, err)
}

func seedRelationship(t *testing.T, store *driver.MemoryStore, id, relType, source, target string) {
	t.Helper()
	err := store.UpsertRelationship(context.Background(), &types.Relationship{
		ID: id, Type: relType, SourceID: source, TargetID: target,
	})
	require.NoError(t, err)
}

func TestDetectExactNormalizedMatchSkipsJudge(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "u1", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "u2", "Unit", "Gladiator_Lancer ")
	seedEntity(t, store, "c1", "Character", "Marshal")
	seedEntity(t, store, "c2", "Character", "High Marshal Helbrecht")

	cj := &countingJudge{inner: judge.NewStringJudge(0.85)}
	d := NewDetector(store, cj, testResolutionConfig(), testLogger())

	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeAll})
	require.NoError(t, err)

	// "Gladiator Lancer" and "Gladiator_Lancer " normalize identically and
	// are grouped without any judge involvement. "Marshal" never reaches the
	// candidate floor against "High Marshal Helbrecht", so no call there
	// either.
	require.Len(t, plan.Groups, 1)
	assert.ElementsMatch(t, []string{"u1", "u2"}, plan.Groups[0].MemberIDs)
	assert.Equal(t, int64(0), cj.calls.Load())
}

func TestDetectOverlappingNamesStayDistinct(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "c1", "Character", "Marshal")
	seedEntity(t, store, "c2", "Character", "High Marshal Helbrecht")

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel, Label: "Character"})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestDetectNearDuplicateConfirmedByJudge(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "f1", "Faction", "Black Templars")
	seedEntity(t, store, "f2", "Faction", "Black Templar")

	cj := &countingJudge{inner: judge.NewStringJudge(0.85)}
	d := NewDetector(store, cj, testResolutionConfig(), testLogger())

	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel, Label: "Faction"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.ElementsMatch(t, []string{"f1", "f2"}, plan.Groups[0].MemberIDs)
	assert.Equal(t, int64(1), cj.calls.Load())
}

func TestDetectJudgeFailureLeavesPairUnresolved(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "f1", "Faction", "Black Templars")
	seedEntity(t, store, "f2", "Faction", "Black Templar")
	seedEntity(t, store, "u1", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "u2", "Unit", "Gladiator_Lancer ")

	d := NewDetector(store, failingJudge{}, testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeAll})
	require.NoError(t, err)

	// The faction pair needed judge confirmation and stays unresolved; the
	// exact-normalized unit pair never consults the judge and still groups.
	require.Len(t, plan.Groups, 1)
	assert.ElementsMatch(t, []string{"u1", "u2"}, plan.Groups[0].MemberIDs)
}

func TestDetectTransitiveGrouping(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "a", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "b", "Unit", "Gladiator_Lancer")
	seedEntity(t, store, "c", "Unit", "gladiator   lancer ")

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, plan.Groups[0].MemberIDs)
	require.NoError(t, plan.Validate())
}

func TestDetectCanonicalSelectionPrefersDegree(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "a", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "b", "Unit", "Gladiator_Lancer")
	seedEntity(t, store, "x", "Faction", "Black Templars")
	// b is the better-connected member even though a has the lower id.
	seedRelationship(t, store, "r1", "BELONGS_TO", "b", "x")

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, "b", plan.Groups[0].CanonicalID)
}

func TestDetectCanonicalSelectionTieBreaksOnID(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "z9", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "a1", "Unit", "Gladiator_Lancer")

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, "a1", plan.Groups[0].CanonicalID)
}

func TestDetectRecordsPropertyConflicts(t *testing.T) {
	store := driver.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "a", Label: "Unit",
		Properties: map[string]interface{}{"name": "Gladiator Lancer", "points": "160"},
	}))
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "b", Label: "Unit",
		Properties: map[string]interface{}{"name": "Gladiator_Lancer", "points": "150"},
	}))

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(ctx, types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)

	group := plan.Groups[0]
	require.Len(t, group.Conflicts, 1)
	assert.Equal(t, "points", group.Conflicts[0].Key)
	assert.Len(t, group.Conflicts[0].Values, 2)
	// canonical-wins: the surviving entity keeps its own value.
	assert.Equal(t, group.CanonicalID, group.Conflicts[0].WinnerID)
	assert.False(t, group.RequiresReview)
}

func TestDetectManualPolicyFlagsReview(t *testing.T) {
	store := driver.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "a", Label: "Unit",
		Properties: map[string]interface{}{"name": "Gladiator Lancer", "points": "160"},
	}))
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "b", Label: "Unit",
		Properties: map[string]interface{}{"name": "Gladiator_Lancer", "points": "150"},
	}))

	cfg := testResolutionConfig()
	cfg.PropertyPolicy = "manual"
	d := NewDetector(store, judge.NewStringJudge(0.85), cfg, testLogger())
	plan, err := d.Detect(ctx, types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.True(t, plan.Groups[0].RequiresReview)
}

func TestDetectLabelSynonyms(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "p1", "Person", "Grimaldus")
	seedEntity(t, store, "p2", "Person", "Helbrecht")
	seedEntity(t, store, "p3", "person", "Sigismund")
	seedEntity(t, store, "p4", "Persons", "Dorn")
	seedEntity(t, store, "f1", "Faction", "Black Templars")

	d := NewDetector(store, judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())
	plan, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabels})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, "Person", plan.Groups[0].CanonicalID)
	assert.ElementsMatch(t, []string{"Person", "person", "Persons"}, plan.Groups[0].MemberIDs)
}

func TestDetectInvalidScope(t *testing.T) {
	d := NewDetector(driver.NewMemoryStore(), judge.NewStringJudge(0.85), testResolutionConfig(), testLogger())

	_, err := d.Detect(context.Background(), types.Scope{Kind: types.ScopeLabel})
	var validation *types.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = d.Detect(context.Background(), types.Scope{Kind: "bogus"})
	assert.ErrorAs(t, err, &validation)
}

func TestDetectThenExecuteIsIdempotent(t *testing.T) {
	store := driver.NewMemoryStore()
	seedEntity(t, store, "u1", "Unit", "Gladiator Lancer")
	seedEntity(t, store, "u2", "Unit", "Gladiator_Lancer ")

	cfg := testResolutionConfig()
	d := NewDetector(store, judge.NewStringJudge(0.85), cfg, testLogger())
	e := NewExecutor(store, cfg, nil, testLogger())
	ctx := context.Background()

	plan, err := d.Detect(ctx, types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	require.False(t, plan.Empty())

	report, err := e.Execute(ctx, plan, false)
	require.NoError(t, err)
	assert.Equal(t, types.PlanCompleted, report.State)

	again, err := d.Detect(ctx, types.Scope{Kind: types.ScopeLabel, Label: "Unit"})
	require.NoError(t, err)
	assert.True(t, again.Empty())
}
