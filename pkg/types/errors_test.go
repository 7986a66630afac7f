package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("executing group: %w", &NotFoundError{Kind: "entity", ID: "a"})
	assert.True(t, IsNotFound(wrapped))

	wrapped = fmt.Errorf("applying merge: %w", &ConcurrencyConflict{EntityID: "a", Expected: 1, Actual: 2})
	assert.True(t, IsConflict(wrapped))
}

func TestExternalServiceErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &ExternalServiceError{Service: "embedder", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "embedder")
}

func TestRetrievalContextRender(t *testing.T) {
	ctx := &RetrievalContext{
		Query: "who leads the black templars",
		Items: []ContextItem{
			{EntityID: "c1", Score: 0.85, Provenance: []Channel{ChannelVector, ChannelKeyword},
				Text: "High Marshal Helbrecht (Character)"},
		},
		Relationships: []RelationshipSummary{
			{SourceName: "High Marshal Helbrecht", Type: "LEADS", TargetName: "Black Templars"},
		},
	}
	rendered := ctx.Render()
	assert.Contains(t, rendered, "EVIDENCE:")
	assert.Contains(t, rendered, "vector,keyword")
	assert.Contains(t, rendered, "RELATIONSHIPS:")
	assert.Contains(t, rendered, "High Marshal Helbrecht -[LEADS]-> Black Templars")

	empty := &RetrievalContext{Query: "unknown", NoEvidence: true}
	assert.Equal(t, "NO EVIDENCE FOUND for query: unknown", empty.Render())
}
