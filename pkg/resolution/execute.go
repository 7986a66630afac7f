package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/types"
)

// BackupFunc snapshots the graph before execution and returns the snapshot
// location. Wired to the backup package in production, nil to skip.
type BackupFunc func(ctx context.Context) (string, error)

// Executor applies resolution plans. Each duplicate group is one store
// transaction; group failures are isolated and reported, never cascaded.
type Executor struct {
	store  driver.GraphStore
	cfg    config.ResolutionConfig
	backup BackupFunc
	logger *slog.Logger
}

// NewExecutor creates an executor. backup may be nil.
func NewExecutor(store driver.GraphStore, cfg config.ResolutionConfig, backup BackupFunc, logger *slog.Logger) *Executor {
	return &Executor{store: store, cfg: cfg, backup: backup, logger: logger}
}

// Execute validates and applies a plan, returning the full per-group report.
// A validation failure returns before any store mutation. With backup set
// the graph is snapshotted before the first group runs. When some groups
// fail and others apply, the report state is PARTIALLY_APPLIED and the error
// is a PartialFailure; the caller always gets the report alongside it.
func (e *Executor) Execute(ctx context.Context, plan *types.ResolutionPlan, backup bool) (*types.ExecutionReport, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	report := &types.ExecutionReport{
		PlanID:    plan.ID,
		State:     types.PlanDrafted,
		StartedAt: time.Now(),
	}

	if plan.Empty() {
		report.State = types.PlanCompleted
		report.FinishedAt = time.Now()
		return report, nil
	}

	if backup && e.backup != nil {
		path, err := e.backup(ctx)
		if err != nil {
			report.State = types.PlanFailed
			report.FinishedAt = time.Now()
			return report, fmt.Errorf("pre-execution backup failed: %w", err)
		}
		report.BackupPath = path
		report.State = types.PlanBackedUp
		e.logger.Info("graph backed up before execution", "plan_id", plan.ID, "path", path)
	}

	report.State = types.PlanExecuting

	if plan.Scope.Kind == types.ScopeLabels {
		e.executeLabelGroups(ctx, plan, report)
	} else {
		e.executeEntityGroups(ctx, plan, report)
	}

	report.FinishedAt = time.Now()
	applied, failed := report.Applied(), report.Failed()
	switch {
	case failed == 0:
		report.State = types.PlanCompleted
	case applied == 0:
		report.State = types.PlanFailed
	default:
		report.State = types.PlanPartiallyApplied
	}
	e.logger.Info("plan execution finished",
		"plan_id", plan.ID, "state", report.State, "applied", applied, "failed", failed)

	if failed > 0 && applied > 0 {
		return report, &types.PartialFailure{Succeeded: applied, Failed: failed}
	}
	if failed > 0 {
		return report, fmt.Errorf("all %d groups failed", failed)
	}
	return report, nil
}

// executeEntityGroups runs the plan's groups across a bounded pool. Groups
// are pairwise disjoint by validation, so they cannot contend on entities.
func (e *Executor) executeEntityGroups(ctx context.Context, plan *types.ResolutionPlan, report *types.ExecutionReport) {
	results := make([]types.GroupResult, len(plan.Groups))

	g, gctx := errgroup.WithContext(ctx)
	concurrency := e.cfg.ExecConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for i, group := range plan.Groups {
		i, group := i, group
		g.Go(func() error {
			result := e.executeGroup(gctx, group)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	report.Groups = results
}

// executeGroup applies one group transactionally. A version conflict gets a
// single retry with freshly captured versions.
func (e *Executor) executeGroup(ctx context.Context, group types.DuplicateGroup) types.GroupResult {
	result := types.GroupResult{CanonicalID: group.CanonicalID}

	if group.RequiresReview {
		result.State = types.GroupFailed
		result.Error = "group requires manual review before execution"
		return result
	}

	stats, retried, err := e.applyOnce(ctx, group)
	if err != nil && types.IsConflict(err) {
		e.logger.Warn("version conflict, retrying group once",
			"canonical_id", group.CanonicalID, "error", err)
		stats, _, err = e.applyOnce(ctx, group)
		retried = true
	}
	result.Retried = retried

	if err != nil {
		result.State = types.GroupFailed
		result.Error = err.Error()
		e.logger.Error("group execution failed",
			"canonical_id", group.CanonicalID, "error", err)
		return result
	}

	result.State = types.GroupApplied
	result.RewiredRelationships = stats.Rewired
	result.MergedProperties = len(group.PropertyMergeRules)
	result.DeletedMembers = stats.DeletedMembers
	return result
}

func (e *Executor) applyOnce(ctx context.Context, group types.DuplicateGroup) (*driver.MergeStats, bool, error) {
	members, err := e.store.GetEntities(ctx, group.MemberIDs)
	if err != nil {
		return nil, false, err
	}
	byID := make(map[string]*types.Entity, len(members))
	expected := make(map[string]int64, len(members))
	for _, m := range members {
		byID[m.ID] = m
		expected[m.ID] = m.Version
	}
	for _, id := range group.MemberIDs {
		if _, ok := byID[id]; !ok {
			return nil, false, &types.NotFoundError{Kind: "entity", ID: id}
		}
	}

	canonical := byID[group.CanonicalID]
	merged := make(map[string]interface{}, len(canonical.Properties)+len(group.PropertyMergeRules))
	for k, v := range canonical.Properties {
		merged[k] = v
	}
	for _, rule := range group.PropertyMergeRules {
		merged[rule.Key] = rule.Value
	}

	op := driver.MergeOp{
		CanonicalID:      group.CanonicalID,
		MemberIDs:        group.MemberIDs,
		Properties:       merged,
		Rewrites:         group.RelationshipRewrites,
		CollapseParallel: e.cfg.EdgePolicy != "preserve",
		ExpectedVersions: expected,
	}
	stats, err := e.store.ApplyMerge(ctx, op)
	return stats, false, err
}

// executeLabelGroups applies label-synonym plans, one MergeLabels call per
// group, sequentially. Label groups are rare and cheap.
func (e *Executor) executeLabelGroups(ctx context.Context, plan *types.ResolutionPlan, report *types.ExecutionReport) {
	for _, group := range plan.Groups {
		result := types.GroupResult{CanonicalID: group.CanonicalID}
		from := make([]string, 0, len(group.MemberIDs))
		for _, label := range group.MemberIDs {
			if label != group.CanonicalID {
				from = append(from, label)
			}
		}
		relabeled, err := e.store.MergeLabels(ctx, group.CanonicalID, from)
		if err != nil {
			result.State = types.GroupFailed
			result.Error = err.Error()
		} else {
			result.State = types.GroupApplied
			e.logger.Info("labels merged",
				"canonical", group.CanonicalID, "entities_relabeled", relabeled)
		}
		report.Groups = append(report.Groups, result)
	}
}
