package graphmend

import (
	"context"

	"github.com/graphmend/graphmend/pkg/types"
)

// This file defines focused interfaces that follow the Interface Segregation
// Principle. The main GraphMend interface is composed from these smaller
// interfaces. Consumers should depend on the smallest interface that meets
// their needs.

// Resolver runs the entity resolution lifecycle: detect duplicates into an
// immutable plan, then apply a stored plan transactionally.
type Resolver interface {
	// Detect drafts a resolution plan for the scope and persists it. An
	// empty plan means the scope has no detectable duplicates.
	Detect(ctx context.Context, scope types.Scope) (*types.ResolutionPlan, error)

	// Execute applies a stored plan by id and returns the per-group report.
	// With backup set the graph is snapshotted before any mutation. The
	// report is returned even when the error is a PartialFailure.
	Execute(ctx context.Context, planID string, backup bool) (*types.ExecutionReport, error)
}

// Retriever answers queries with ranked, bounded evidence.
type Retriever interface {
	// Query fuses vector, keyword, and graph-expansion evidence. labels
	// restricts the search; empty means all labels.
	Query(ctx context.Context, query string, labels []string) (*types.RetrievalContext, error)
}

// PlanAdmin inspects stored plans and execution reports.
type PlanAdmin interface {
	GetPlan(ctx context.Context, id string) (*types.ResolutionPlan, error)
	ListPlans(ctx context.Context) ([]*types.ResolutionPlan, error)
	GetReport(ctx context.Context, planID string) (*types.ExecutionReport, error)
}

// SnapshotAdmin creates and restores graph snapshots.
type SnapshotAdmin interface {
	// Backup snapshots the full graph and returns the snapshot path.
	Backup(ctx context.Context) (string, error)

	// Restore loads a snapshot back into the graph. With clear set the
	// graph is emptied first.
	Restore(ctx context.Context, path string, clear bool) error
}

// GraphMend is the full client surface, composed from the focused
// interfaces above.
type GraphMend interface {
	Resolver
	Retriever
	PlanAdmin
	SnapshotAdmin

	// Close releases the store, plan store, and external clients.
	Close(ctx context.Context) error
}
