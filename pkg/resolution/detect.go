// Package resolution implements the entity resolution engine: duplicate
// detection into an immutable plan, then transactional plan execution.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/judge"
	"github.com/graphmend/graphmend/pkg/types"
)

// Detector finds duplicate entities and drafts resolution plans. Detection
// never mutates the graph; its only output is the plan.
type Detector struct {
	store  driver.EntityReader
	judge  judge.SimilarityJudge
	cfg    config.ResolutionConfig
	logger *slog.Logger
}

// NewDetector creates a detector over the given store and judge.
func NewDetector(store driver.EntityReader, j judge.SimilarityJudge, cfg config.ResolutionConfig, logger *slog.Logger) *Detector {
	return &Detector{store: store, judge: j, cfg: cfg, logger: logger}
}

// Detect runs duplicate detection for the given scope and returns a drafted
// plan. An empty plan (no groups) means the scope is already clean, so
// re-running detection after execution is the idempotence check.
func (d *Detector) Detect(ctx context.Context, scope types.Scope) (*types.ResolutionPlan, error) {
	switch scope.Kind {
	case types.ScopeAll, types.ScopeLabels:
	case types.ScopeLabel:
		if scope.Label == "" {
			return nil, &types.ValidationError{Reason: "label scope requires a label"}
		}
	default:
		return nil, &types.ValidationError{Reason: fmt.Sprintf("unknown scope kind %q", scope.Kind)}
	}

	if d.cfg.DetectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DetectionTimeout)
		defer cancel()
	}

	start := time.Now()
	plan := &types.ResolutionPlan{
		SchemaVersion: types.PlanSchemaVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		Scope:         scope,
	}

	if scope.Kind == types.ScopeLabels {
		groups, err := d.detectLabelSynonyms(ctx)
		if err != nil {
			return nil, err
		}
		plan.Groups = groups
	} else {
		labels := []string{scope.Label}
		if scope.Kind == types.ScopeAll {
			all, err := d.store.Labels(ctx)
			if err != nil {
				return nil, err
			}
			labels = all
		}
		for _, label := range labels {
			groups, err := d.detectWithinLabel(ctx, label)
			if err != nil {
				return nil, err
			}
			plan.Groups = append(plan.Groups, groups...)
		}
	}

	d.logger.Info("detection finished",
		"plan_id", plan.ID,
		"scope", plan.Scope.String(),
		"groups", len(plan.Groups),
		"duration", time.Since(start))
	return plan, nil
}

// detectWithinLabel finds duplicate groups among entities of one label.
func (d *Detector) detectWithinLabel(ctx context.Context, label string) ([]types.DuplicateGroup, error) {
	entities, err := d.store.EntitiesByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	if len(entities) < 2 {
		return nil, nil
	}
	types.SortEntitiesByID(entities)

	candidates := generateCandidates(entities, d.cfg.CandidateFloor)
	confirmed, err := d.confirmCandidates(ctx, entities, candidates)
	if err != nil {
		return nil, err
	}
	if len(confirmed) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(entities))
	for i, e := range entities {
		index[e.ID] = i
	}
	uf := newUnionFind(len(entities))
	for _, pair := range confirmed {
		uf.union(index[pair.IDA], index[pair.IDB])
	}

	var groups []types.DuplicateGroup
	for _, members := range uf.groups() {
		group, err := d.buildGroup(ctx, entities, members)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}
	return groups, nil
}

// candidate pairs reference arena positions through entity ids; exact
// normalized matches skip judge confirmation entirely.
func generateCandidates(entities []*types.Entity, floor float64) []types.DuplicateCandidate {
	type arenaEntry struct {
		id   string
		norm string
	}
	arena := make([]arenaEntry, len(entities))
	for i, e := range entities {
		arena[i] = arenaEntry{id: e.ID, norm: judge.Normalize(e.Name())}
	}

	var out []types.DuplicateCandidate
	for i := 0; i < len(arena); i++ {
		if arena[i].norm == "" {
			continue
		}
		for j := i + 1; j < len(arena); j++ {
			if arena[j].norm == "" {
				continue
			}
			if arena[i].norm == arena[j].norm {
				out = append(out, types.DuplicateCandidate{
					IDA: arena[i].id, IDB: arena[j].id, Reason: types.MatchExactNormalized,
				})
				continue
			}
			if judge.Similarity(arena[i].norm, arena[j].norm) >= floor {
				out = append(out, types.DuplicateCandidate{
					IDA: arena[i].id, IDB: arena[j].id, Reason: types.MatchSimilarityFloor,
				})
			}
		}
	}
	return out
}

// confirmCandidates fans similarity-floor pairs out to the judge across a
// bounded worker pool. A pair whose judge call fails or times out is simply
// not confirmed; detection carries on with the rest.
func (d *Detector) confirmCandidates(ctx context.Context, entities []*types.Entity, candidates []types.DuplicateCandidate) ([]types.DuplicateCandidate, error) {
	byID := make(map[string]*types.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var mu sync.Mutex
	confirmed := make([]types.DuplicateCandidate, 0, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	concurrency := d.cfg.JudgeConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, c := range candidates {
		if c.Reason == types.MatchExactNormalized {
			mu.Lock()
			confirmed = append(confirmed, c)
			mu.Unlock()
			continue
		}
		c := c
		g.Go(func() error {
			verdict, err := d.judge.Judge(gctx, byID[c.IDA], byID[c.IDB])
			if err != nil {
				// Unconfirmable is not fatal: the pair stays unresolved.
				d.logger.Warn("judge call failed, leaving pair unresolved",
					"id_a", c.IDA, "id_b", c.IDB, "error", err)
				return nil
			}
			if verdict.IsDuplicate && verdict.Confidence >= d.cfg.JudgeThreshold {
				mu.Lock()
				confirmed = append(confirmed, c)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(confirmed, func(i, j int) bool {
		if confirmed[i].IDA != confirmed[j].IDA {
			return confirmed[i].IDA < confirmed[j].IDA
		}
		return confirmed[i].IDB < confirmed[j].IDB
	})
	return confirmed, nil
}

// buildGroup materializes one duplicate group: canonical selection, property
// merge rules under the configured policy, and edge rewrite rules.
func (d *Detector) buildGroup(ctx context.Context, entities []*types.Entity, members []int) (*types.DuplicateGroup, error) {
	group := make([]*types.Entity, len(members))
	ids := make([]string, len(members))
	for i, idx := range members {
		group[i] = entities[idx]
		ids[i] = entities[idx].ID
	}

	degrees, err := d.store.Degrees(ctx, ids)
	if err != nil {
		return nil, err
	}
	canonical := selectCanonical(group, degrees)

	out := &types.DuplicateGroup{
		CanonicalID: canonical.ID,
		MemberIDs:   ids,
	}
	out.PropertyMergeRules, out.Conflicts = mergeProperties(canonical, group, d.cfg.PropertyPolicy)
	if d.cfg.PropertyPolicy == "manual" && len(out.Conflicts) > 0 {
		out.RequiresReview = true
	}

	for _, member := range group {
		if member.ID == canonical.ID {
			continue
		}
		rels, err := d.store.RelationshipsFor(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if r.SourceID == member.ID {
				out.RelationshipRewrites = append(out.RelationshipRewrites, types.RelationshipRewriteRule{
					RelationshipID: r.ID, Type: r.Type, Endpoint: "source",
					FromID: member.ID, ToID: canonical.ID,
				})
			}
			if r.TargetID == member.ID {
				out.RelationshipRewrites = append(out.RelationshipRewrites, types.RelationshipRewriteRule{
					RelationshipID: r.ID, Type: r.Type, Endpoint: "target",
					FromID: member.ID, ToID: canonical.ID,
				})
			}
		}
	}
	return out, nil
}

// selectCanonical picks the survivor: highest degree, then most non-empty
// properties, then lowest id. Fully deterministic for a fixed graph.
func selectCanonical(group []*types.Entity, degrees map[string]int) *types.Entity {
	best := group[0]
	for _, e := range group[1:] {
		switch {
		case degrees[e.ID] != degrees[best.ID]:
			if degrees[e.ID] > degrees[best.ID] {
				best = e
			}
		case e.PropertyCount() != best.PropertyCount():
			if e.PropertyCount() > best.PropertyCount() {
				best = e
			}
		case e.ID < best.ID:
			best = e
		}
	}
	return best
}

// mergeProperties computes the rules that move member properties onto the
// canonical entity. Conflicting scalar values are recorded whatever the
// policy decides.
func mergeProperties(canonical *types.Entity, group []*types.Entity, policy string) ([]types.PropertyMergeRule, []types.PropertyConflict) {
	keys := make(map[string]bool)
	for _, e := range group {
		for k := range e.Properties {
			keys[k] = true
		}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var rules []types.PropertyMergeRule
	var conflicts []types.PropertyConflict

	for _, key := range ordered {
		type holder struct {
			e *types.Entity
			v interface{}
		}
		var holders []holder
		for _, e := range group {
			if v, ok := e.Properties[key]; ok && v != nil {
				holders = append(holders, holder{e, v})
			}
		}
		if len(holders) == 0 {
			continue
		}

		// Name variants that normalize identically are surface forms, not
		// conflicting data.
		distinct := distinctValues(holders, func(h holder) string {
			if key == "name" {
				return judge.Normalize(fmt.Sprint(h.v))
			}
			return fmt.Sprint(h.v)
		}, func(h holder) interface{} { return h.v })
		canonicalHas := canonical.Properties[key] != nil

		winner := holders[0]
		switch policy {
		case "most-recent-wins":
			for _, h := range holders[1:] {
				if h.e.UpdatedAt.After(winner.e.UpdatedAt) {
					winner = h
				}
			}
		default: // canonical-wins, manual
			if canonicalHas {
				winner = holder{canonical, canonical.Properties[key]}
			}
		}

		if len(distinct) > 1 {
			conflicts = append(conflicts, types.PropertyConflict{
				Key: key, Values: distinct, WinnerID: winner.e.ID,
			})
		}
		if !canonicalHas || fmt.Sprint(canonical.Properties[key]) != fmt.Sprint(winner.v) {
			rules = append(rules, types.PropertyMergeRule{
				Key: key, Value: winner.v, SourceID: winner.e.ID,
			})
		}
	}
	return rules, conflicts
}

func distinctValues[T any](items []T, key func(T) string, value func(T) interface{}) []interface{} {
	seen := make(map[string]bool)
	var out []interface{}
	for _, item := range items {
		k := key(item)
		if !seen[k] {
			seen[k] = true
			out = append(out, value(item))
		}
	}
	return out
}

// detectLabelSynonyms finds labels that are the same word modulo case and
// trivial plurals, e.g. "Person", "person", "Persons". Member ids are label
// names; the canonical is the label with the most entities.
func (d *Detector) detectLabelSynonyms(ctx context.Context) ([]types.DuplicateGroup, error) {
	labels, err := d.store.Labels(ctx)
	if err != nil {
		return nil, err
	}
	buckets := make(map[string][]string)
	var order []string
	for _, label := range labels {
		key := judge.Singularize(judge.Normalize(label))
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], label)
	}

	var groups []types.DuplicateGroup
	for _, key := range order {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		canonical, err := d.busiestLabel(ctx, members)
		if err != nil {
			return nil, err
		}
		groups = append(groups, types.DuplicateGroup{
			CanonicalID: canonical,
			MemberIDs:   members,
			Rationale:   fmt.Sprintf("labels share normal form %q", key),
		})
	}
	return groups, nil
}

func (d *Detector) busiestLabel(ctx context.Context, labels []string) (string, error) {
	best, bestCount := labels[0], -1
	for _, label := range labels {
		entities, err := d.store.EntitiesByLabel(ctx, label)
		if err != nil {
			return "", err
		}
		if len(entities) > bestCount || (len(entities) == bestCount && label < best) {
			best, bestCount = label, len(entities)
		}
	}
	return best, nil
}
