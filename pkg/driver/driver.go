// Package driver abstracts the transactional property-graph store consumed
// by the resolution and retrieval engines. Two implementations ship: a Neo4j
// driver for production and an embedded in-memory store for tests and local
// runs.
package driver

import (
	"context"

	"github.com/graphmend/graphmend/pkg/types"
)

// NeighborHit is one edge adjacent to an entity plus the entity at the far
// end, regardless of direction.
type NeighborHit struct {
	Relationship *types.Relationship
	Other        *types.Entity
}

// SearchHit is one scored entity returned by a search operation. Scores are
// store-specific and normalized by the caller before fusion.
type SearchHit struct {
	Entity *types.Entity
	Score  float64
}

// MergeOp is the transactional unit of plan execution: one duplicate group
// applied atomically. Rewires edges, replaces the canonical's properties,
// and deletes the non-canonical members (their vector-index entries die with
// them).
type MergeOp struct {
	CanonicalID string
	MemberIDs   []string
	// Properties is the fully merged property set for the canonical entity.
	Properties map[string]interface{}
	Rewrites   []types.RelationshipRewriteRule
	// CollapseParallel merges resulting parallel edges of identical
	// type and direction, keeping the earliest-created one's properties.
	CollapseParallel bool
	// ExpectedVersions, when non-nil, makes the merge fail with
	// ConcurrencyConflict if any listed entity has moved on.
	ExpectedVersions map[string]int64
}

// MergeStats reports what a merge transaction changed.
type MergeStats struct {
	Rewired        int
	Collapsed      int
	DeletedMembers int
}

// EntityReader provides read-only access to entities and relationships.
type EntityReader interface {
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error)
	// EntitiesByLabel returns all entities carrying label; an empty label
	// returns every entity.
	EntitiesByLabel(ctx context.Context, label string) ([]*types.Entity, error)
	Labels(ctx context.Context) ([]string, error)
	// Degrees returns the relationship degree for each id, zero for ids
	// with no edges.
	Degrees(ctx context.Context, ids []string) (map[string]int, error)
	RelationshipsFor(ctx context.Context, id string) ([]*types.Relationship, error)
	Neighbors(ctx context.Context, id string, limit int) ([]NeighborHit, error)
}

// EntityWriter provides mutation operations.
type EntityWriter interface {
	UpsertEntity(ctx context.Context, e *types.Entity) error
	UpsertRelationship(ctx context.Context, r *types.Relationship) error
	// ApplyMerge executes one duplicate group inside a single transaction.
	ApplyMerge(ctx context.Context, op MergeOp) (*MergeStats, error)
	// MergeLabels relabels every entity of the given labels to the
	// canonical label, in one transaction. Returns entities relabeled.
	MergeLabels(ctx context.Context, canonical string, from []string) (int, error)
}

// GraphSearcher provides the search primitives the retrieval engine fuses.
type GraphSearcher interface {
	// HasVectorIndex reports whether a vector index exists for the label.
	HasVectorIndex(ctx context.Context, label string) (bool, error)
	SearchByVector(ctx context.Context, label string, vector []float32, topK int) ([]SearchHit, error)
	// SearchText matches tokens against entity name/text properties within
	// the given labels (all labels when empty).
	SearchText(ctx context.Context, tokens []string, labels []string, limit int) ([]SearchHit, error)
}

// SnapshotStore provides the export/import primitives used for backup.
type SnapshotStore interface {
	ExportAll(ctx context.Context) ([]*types.Entity, []*types.Relationship, error)
	ImportAll(ctx context.Context, entities []*types.Entity, relationships []*types.Relationship) error
	Clear(ctx context.Context) error
}

// GraphStore is the full store contract, composed from the focused
// interfaces above. Consumers should depend on the smallest interface that
// meets their needs.
type GraphStore interface {
	EntityReader
	EntityWriter
	GraphSearcher
	SnapshotStore
	Close(ctx context.Context) error
}
