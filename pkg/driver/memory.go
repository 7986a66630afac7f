package driver

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/graphmend/graphmend/pkg/types"
)

// MemoryStore is an embedded GraphStore backed by maps. It implements the
// same optimistic versioning and per-merge atomicity as the Neo4j driver
// and doubles as the store fake in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	entities      map[string]*types.Entity
	relationships map[string]*types.Relationship
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
	}
}

func (m *MemoryStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, &types.NotFoundError{Kind: "entity", ID: id}
	}
	clone := *e
	return &clone, nil
}

func (m *MemoryStore) GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entities[id]; ok {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemoryStore) EntitiesByLabel(ctx context.Context, label string) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Entity
	for _, e := range m.entities {
		if label == "" || e.Label == label {
			clone := *e
			out = append(out, &clone)
		}
	}
	types.SortEntitiesByID(out)
	return out, nil
}

func (m *MemoryStore) Labels(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range m.entities {
		seen[e.Label] = true
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, nil
}

func (m *MemoryStore) Degrees(ctx context.Context, ids []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	degrees := make(map[string]int, len(ids))
	for _, id := range ids {
		degrees[id] = 0
	}
	for _, r := range m.relationships {
		if _, ok := degrees[r.SourceID]; ok {
			degrees[r.SourceID]++
		}
		if _, ok := degrees[r.TargetID]; ok {
			degrees[r.TargetID]++
		}
	}
	return degrees, nil
}

func (m *MemoryStore) RelationshipsFor(ctx context.Context, id string) ([]*types.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Relationship
	for _, r := range m.relationships {
		if r.SourceID == id || r.TargetID == id {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Neighbors(ctx context.Context, id string, limit int) ([]NeighborHit, error) {
	rels, err := m.RelationshipsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []NeighborHit
	for _, r := range rels {
		if limit > 0 && len(out) >= limit {
			break
		}
		otherID := r.TargetID
		if otherID == id {
			otherID = r.SourceID
		}
		other, ok := m.entities[otherID]
		if !ok {
			continue
		}
		clone := *other
		out = append(out, NeighborHit{Relationship: r, Other: &clone})
	}
	return out, nil
}

func (m *MemoryStore) UpsertEntity(ctx context.Context, e *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	if existing, ok := m.entities[e.ID]; ok {
		clone.Version = existing.Version + 1
		clone.CreatedAt = existing.CreatedAt
	} else {
		if clone.Version == 0 {
			clone.Version = 1
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = time.Now()
		}
	}
	clone.UpdatedAt = time.Now()
	m.entities[e.ID] = &clone
	return nil
}

func (m *MemoryStore) UpsertRelationship(ctx context.Context, r *types.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[r.SourceID]; !ok {
		return &types.NotFoundError{Kind: "entity", ID: r.SourceID}
	}
	if _, ok := m.entities[r.TargetID]; !ok {
		return &types.NotFoundError{Kind: "entity", ID: r.TargetID}
	}
	clone := *r
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.relationships[r.ID] = &clone
	return nil
}

// ApplyMerge applies one duplicate group under the store lock, which gives
// the same atomicity as a single write transaction.
func (m *MemoryStore) ApplyMerge(ctx context.Context, op MergeOp) (*MergeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range op.MemberIDs {
		e, ok := m.entities[id]
		if !ok {
			return nil, &types.NotFoundError{Kind: "entity", ID: id}
		}
		if op.ExpectedVersions != nil {
			if expected, tracked := op.ExpectedVersions[id]; tracked && e.Version != expected {
				return nil, &types.ConcurrencyConflict{EntityID: id, Expected: expected, Actual: e.Version}
			}
		}
	}
	canonical, ok := m.entities[op.CanonicalID]
	if !ok {
		return nil, &types.NotFoundError{Kind: "entity", ID: op.CanonicalID}
	}

	stats := &MergeStats{}

	for _, rw := range op.Rewrites {
		r, ok := m.relationships[rw.RelationshipID]
		if !ok {
			continue
		}
		switch rw.Endpoint {
		case "source":
			r.SourceID = rw.ToID
		case "target":
			r.TargetID = rw.ToID
		}
		stats.Rewired++
	}

	// Edges written after the plan was drafted have no rewrite rule. They
	// are detached with their member, mirroring DETACH DELETE, so no
	// relationship is left pointing at a deleted entity.
	doomed := make(map[string]bool, len(op.MemberIDs))
	for _, id := range op.MemberIDs {
		if id != op.CanonicalID {
			doomed[id] = true
		}
	}
	for rid, r := range m.relationships {
		if doomed[r.SourceID] || doomed[r.TargetID] {
			delete(m.relationships, rid)
		}
	}

	if op.CollapseParallel {
		stats.Collapsed = m.collapseParallelLocked(op.CanonicalID)
	}

	if op.Properties != nil {
		canonical.Properties = op.Properties
	}
	canonical.Version++

	for _, id := range op.MemberIDs {
		if id == op.CanonicalID {
			continue
		}
		delete(m.entities, id)
		stats.DeletedMembers++
	}
	return stats, nil
}

// collapseParallelLocked removes duplicate edges of identical type and
// direction incident to id, keeping the earliest-created one.
func (m *MemoryStore) collapseParallelLocked(id string) int {
	type key struct{ t, src, dst string }
	keep := make(map[key]*types.Relationship)
	collapsed := 0
	for _, r := range m.relationships {
		if r.SourceID != id && r.TargetID != id {
			continue
		}
		k := key{r.Type, r.SourceID, r.TargetID}
		existing, ok := keep[k]
		if !ok {
			keep[k] = r
			continue
		}
		victim := r
		if r.CreatedAt.Before(existing.CreatedAt) ||
			(r.CreatedAt.Equal(existing.CreatedAt) && r.ID < existing.ID) {
			keep[k] = r
			victim = existing
		}
		delete(m.relationships, victim.ID)
		collapsed++
	}
	return collapsed
}

func (m *MemoryStore) MergeLabels(ctx context.Context, canonical string, from []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fromSet := make(map[string]bool, len(from))
	for _, l := range from {
		fromSet[l] = true
	}
	relabeled := 0
	for _, e := range m.entities {
		if fromSet[e.Label] && e.Label != canonical {
			e.Label = canonical
			e.Version++
			relabeled++
		}
	}
	return relabeled, nil
}

func (m *MemoryStore) HasVectorIndex(ctx context.Context, label string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.Label == label && len(e.Embedding) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SearchByVector(ctx context.Context, label string, vector []float32, topK int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []SearchHit
	for _, e := range m.entities {
		if e.Label != label || len(e.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(vector, e.Embedding)
		clone := *e
		hits = append(hits, SearchHit{Entity: &clone, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) SearchText(ctx context.Context, tokens []string, labels []string, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	labelSet := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}
	var hits []SearchHit
	for _, e := range m.entities {
		if len(labels) > 0 && !labelSet[e.Label] {
			continue
		}
		haystack := strings.ToLower(e.Name() + " " + e.Text())
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		clone := *e
		hits = append(hits, SearchHit{Entity: &clone, Score: float64(matched) / float64(len(tokens))})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) ExportAll(ctx context.Context) ([]*types.Entity, []*types.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entities := make([]*types.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		clone := *e
		entities = append(entities, &clone)
	}
	relationships := make([]*types.Relationship, 0, len(m.relationships))
	for _, r := range m.relationships {
		clone := *r
		relationships = append(relationships, &clone)
	}
	types.SortEntitiesByID(entities)
	sort.Slice(relationships, func(i, j int) bool { return relationships[i].ID < relationships[j].ID })
	return entities, relationships, nil
}

func (m *MemoryStore) ImportAll(ctx context.Context, entities []*types.Entity, relationships []*types.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		clone := *e
		m.entities[e.ID] = &clone
	}
	for _, r := range relationships {
		clone := *r
		m.relationships[r.ID] = &clone
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[string]*types.Entity)
	m.relationships = make(map[string]*types.Relationship)
	return nil
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ GraphStore = (*MemoryStore)(nil)
