package judge

import (
	"context"
	"fmt"

	"github.com/graphmend/graphmend/pkg/types"
)

// StringJudge is a deterministic, offline judge built on normalized name
// similarity. It is the default provider and keeps detection runnable
// without any external service.
type StringJudge struct {
	// Threshold is the minimum similarity considered a duplicate.
	Threshold float64
}

// NewStringJudge creates a string judge with the given duplicate threshold.
func NewStringJudge(threshold float64) *StringJudge {
	return &StringJudge{Threshold: threshold}
}

func (j *StringJudge) Judge(ctx context.Context, a, b *types.Entity) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	na, nb := Normalize(a.Name()), Normalize(b.Name())
	score := Similarity(na, nb)
	if s := Similarity(Singularize(na), Singularize(nb)); s > score {
		score = s
	}
	return &Verdict{
		IsDuplicate: score >= j.Threshold,
		Confidence:  score,
		Rationale:   fmt.Sprintf("name similarity %.3f between %q and %q", score, a.Name(), b.Name()),
	}, nil
}

func (j *StringJudge) Close() error { return nil }

var _ SimilarityJudge = (*StringJudge)(nil)
