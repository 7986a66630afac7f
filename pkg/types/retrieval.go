package types

import (
	"fmt"
	"strings"
)

// Channel identifies which retrieval stage contributed an evidence item.
type Channel string

const (
	ChannelVector  Channel = "vector"
	ChannelKeyword Channel = "keyword"
	ChannelGraph   Channel = "graph"
)

// ContextItem is one ranked piece of evidence in a retrieval context.
type ContextItem struct {
	EntityID   string    `json:"entity_id"`
	Score      float64   `json:"score"`
	Provenance []Channel `json:"provenance"`
	Text       string    `json:"text"`
}

// RetrievalContext is the ranked, bounded evidence set handed to an
// external answer generator. It is ephemeral and never persisted.
//
// NoEvidence distinguishes "nothing matched" from an empty context produced
// by a bug: downstream callers must not synthesize an answer when it is set.
type RetrievalContext struct {
	Query         string                `json:"query"`
	Items         []ContextItem         `json:"items"`
	Relationships []RelationshipSummary `json:"relationships,omitempty"`
	NoEvidence    bool                  `json:"no_evidence"`
}

// Render serializes the context into the structured block consumed by the
// answer generator.
func (c *RetrievalContext) Render() string {
	if c.NoEvidence {
		return "NO EVIDENCE FOUND for query: " + c.Query
	}
	var b strings.Builder
	b.WriteString("EVIDENCE:\n")
	for i, item := range c.Items {
		provenance := make([]string, len(item.Provenance))
		for j, p := range item.Provenance {
			provenance[j] = string(p)
		}
		fmt.Fprintf(&b, "%d. [%s score=%.3f] %s\n", i+1, strings.Join(provenance, ","), item.Score, item.Text)
	}
	if len(c.Relationships) > 0 {
		b.WriteString("RELATIONSHIPS:\n")
		for _, r := range c.Relationships {
			b.WriteString("- " + r.String() + "\n")
		}
	}
	return b.String()
}
