package types

import (
	"sort"
	"strings"
	"time"
)

// Entity is a node in the knowledge graph. IDs are assigned by the store and
// stable across merges; only the canonical member of a duplicate group
// survives a merge.
type Entity struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties"`
	Embedding  []float32              `json:"embedding,omitempty"`
	// Version is the optimistic-concurrency token maintained by the store.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Name returns the canonical display name of the entity.
func (e *Entity) Name() string {
	if e.Properties == nil {
		return ""
	}
	if name, ok := e.Properties["name"].(string); ok {
		return name
	}
	return ""
}

// Text returns the free-text body of the entity, if any.
func (e *Entity) Text() string {
	if e.Properties == nil {
		return ""
	}
	if text, ok := e.Properties["text"].(string); ok {
		return text
	}
	return ""
}

// PropertyCount counts non-empty properties. Used for canonical selection.
func (e *Entity) PropertyCount() int {
	n := 0
	for _, v := range e.Properties {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		n++
	}
	return n
}

// Relationship is a directed, typed edge between two entities. Its endpoints
// must reference existing entities.
type Relationship struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// RelationshipSummary is a one-line rendering of an edge for retrieval
// context blocks, e.g. "Black Templars -[HAS_UNIT]-> Sword Brethren".
type RelationshipSummary struct {
	SourceName string `json:"source_name"`
	Type       string `json:"type"`
	TargetName string `json:"target_name"`
}

func (r RelationshipSummary) String() string {
	return r.SourceName + " -[" + r.Type + "]-> " + r.TargetName
}

// SortEntitiesByID sorts entities ascending by id, for deterministic output.
func SortEntitiesByID(entities []*Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}
