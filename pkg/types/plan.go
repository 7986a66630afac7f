package types

import (
	"fmt"
	"time"
)

// PlanSchemaVersion is the current resolution-plan schema. Older versions
// are migrated explicitly by the plan store, never coerced on decode.
const PlanSchemaVersion = 2

// ScopeKind selects what a detection run considers.
type ScopeKind string

const (
	// ScopeAll deduplicates entities across every label.
	ScopeAll ScopeKind = "all"
	// ScopeLabel deduplicates entities within a single label.
	ScopeLabel ScopeKind = "label"
	// ScopeLabels deduplicates the labels themselves (synonym detection,
	// e.g. "Person" vs "person").
	ScopeLabels ScopeKind = "labels"
)

// Scope describes what a resolution plan covers.
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Label string    `json:"label,omitempty"`
}

func (s Scope) String() string {
	if s.Kind == ScopeLabel {
		return fmt.Sprintf("label:%s", s.Label)
	}
	return string(s.Kind)
}

// MatchReason records how a duplicate candidate pair was produced.
type MatchReason string

const (
	MatchExactNormalized MatchReason = "exact-normalized"
	MatchSimilarityFloor MatchReason = "similarity-floor"
)

// DuplicateCandidate is a pair of entity ids proposed by candidate
// generation and consumed by confirmation.
type DuplicateCandidate struct {
	IDA    string      `json:"id_a"`
	IDB    string      `json:"id_b"`
	Reason MatchReason `json:"reason"`
}

// PropertyMergeRule moves one property value onto the canonical entity.
type PropertyMergeRule struct {
	Key      string      `json:"key"`
	Value    interface{} `json:"value"`
	SourceID string      `json:"source_id"`
}

// PropertyConflict records a scalar property that had differing non-null
// values across group members. The winning value is determined by the
// configured policy, but the conflict is always kept on the plan.
type PropertyConflict struct {
	Key      string        `json:"key"`
	Values   []interface{} `json:"values"`
	WinnerID string        `json:"winner_id"`
}

// RelationshipRewriteRule redirects one edge endpoint from a merged-away
// member to the canonical id.
type RelationshipRewriteRule struct {
	RelationshipID string `json:"relationship_id"`
	Type           string `json:"type"`
	// Endpoint is "source" or "target".
	Endpoint string `json:"endpoint"`
	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
}

// DuplicateGroup is a maximal set of entities judged mutually equivalent,
// with one designated survivor.
type DuplicateGroup struct {
	CanonicalID          string                    `json:"canonical_id"`
	MemberIDs            []string                  `json:"member_ids"`
	PropertyMergeRules   []PropertyMergeRule       `json:"property_merge_rules"`
	RelationshipRewrites []RelationshipRewriteRule `json:"relationship_rewrite_rules"`
	Conflicts            []PropertyConflict        `json:"conflicts,omitempty"`
	// RequiresReview is set when the manual property policy is active and
	// conflicts exist; execution refuses such a group until it is cleared.
	RequiresReview bool `json:"requires_review,omitempty"`
	// Rationale carries the judge's explanation for review, when available.
	Rationale string `json:"rationale,omitempty"`
}

// ResolutionPlan is an immutable, versioned description of proposed merges.
// Re-detection produces a new plan; plans are never mutated in place.
type ResolutionPlan struct {
	SchemaVersion int              `json:"schema_version"`
	ID            string           `json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	Scope         Scope            `json:"scope"`
	Groups        []DuplicateGroup `json:"groups"`
}

// Empty reports whether the plan proposes no merges.
func (p *ResolutionPlan) Empty() bool { return len(p.Groups) == 0 }

// Validate checks the structural invariants a plan must satisfy before
// execution: supported schema, canonical membership, and pairwise-disjoint
// groups. A failing plan must not touch the store.
func (p *ResolutionPlan) Validate() error {
	if p.SchemaVersion != PlanSchemaVersion {
		return &ValidationError{Reason: fmt.Sprintf(
			"unsupported plan schema version %d (current %d); run migration first",
			p.SchemaVersion, PlanSchemaVersion)}
	}
	seen := make(map[string]int)
	for i, g := range p.Groups {
		if len(g.MemberIDs) < 2 {
			return &ValidationError{Reason: fmt.Sprintf("group %d has fewer than two members", i)}
		}
		canonicalIn := false
		for _, id := range g.MemberIDs {
			if prev, ok := seen[id]; ok && prev != i {
				return &ValidationError{Reason: fmt.Sprintf(
					"entity %s appears in groups %d and %d; groups must be disjoint", id, prev, i)}
			}
			seen[id] = i
			if id == g.CanonicalID {
				canonicalIn = true
			}
		}
		if !canonicalIn {
			return &ValidationError{Reason: fmt.Sprintf(
				"group %d canonical %s is not a member", i, g.CanonicalID)}
		}
	}
	return nil
}

// PlanState tracks a plan through its lifecycle.
type PlanState string

const (
	PlanDrafted          PlanState = "DRAFTED"
	PlanBackedUp         PlanState = "BACKED_UP"
	PlanExecuting        PlanState = "EXECUTING"
	PlanCompleted        PlanState = "COMPLETED"
	PlanPartiallyApplied PlanState = "PARTIALLY_APPLIED"
	PlanFailed           PlanState = "FAILED"
)

// GroupState is the terminal state of one group's execution.
type GroupState string

const (
	GroupApplied GroupState = "APPLIED"
	GroupFailed  GroupState = "FAILED"
)

// GroupResult reports the outcome of executing a single group.
type GroupResult struct {
	CanonicalID          string     `json:"canonical_id"`
	State                GroupState `json:"state"`
	Error                string     `json:"error,omitempty"`
	RewiredRelationships int        `json:"rewired_relationships"`
	MergedProperties     int        `json:"merged_properties"`
	DeletedMembers       int        `json:"deleted_members"`
	Retried              bool       `json:"retried,omitempty"`
}

// ExecutionReport enumerates every group outcome of one plan execution.
// Execution never ends with a bare "done": callers always get the full
// group-level summary.
type ExecutionReport struct {
	PlanID     string        `json:"plan_id"`
	State      PlanState     `json:"state"`
	BackupPath string        `json:"backup_path,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Groups     []GroupResult `json:"groups"`
}

// Applied and Failed count terminal group states.
func (r *ExecutionReport) Applied() int {
	n := 0
	for _, g := range r.Groups {
		if g.State == GroupApplied {
			n++
		}
	}
	return n
}

func (r *ExecutionReport) Failed() int {
	n := 0
	for _, g := range r.Groups {
		if g.State == GroupFailed {
			n++
		}
	}
	return n
}
