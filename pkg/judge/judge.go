// Package judge decides whether two entities denote the same real-world
// thing. The string judge is deterministic and offline; the OpenAI judge
// asks an LLM and is guarded by a circuit breaker.
package judge

import (
	"context"

	"github.com/graphmend/graphmend/pkg/types"
)

// Verdict is a judge's answer for one candidate pair.
type Verdict struct {
	IsDuplicate bool    `json:"is_duplicate"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`
}

// SimilarityJudge confirms or rejects duplicate candidates. Implementations
// must be safe for concurrent use; the detection pipeline fans pairs out
// across a bounded worker pool.
type SimilarityJudge interface {
	Judge(ctx context.Context, a, b *types.Entity) (*Verdict, error)
	Close() error
}
