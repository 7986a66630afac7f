// Package dto holds the request and response shapes of the HTTP API.
package dto

import (
	"errors"
	"strings"

	"github.com/graphmend/graphmend/pkg/types"
)

// DetectRequest starts a detection run.
type DetectRequest struct {
	Scope string `json:"scope" binding:"required"`
	Label string `json:"label,omitempty"`
}

// Validate checks the request and converts it to a Scope.
func (r *DetectRequest) ToScope() (types.Scope, error) {
	kind := types.ScopeKind(strings.ToLower(strings.TrimSpace(r.Scope)))
	switch kind {
	case types.ScopeAll, types.ScopeLabels:
		return types.Scope{Kind: kind}, nil
	case types.ScopeLabel:
		if strings.TrimSpace(r.Label) == "" {
			return types.Scope{}, errors.New("label scope requires a label")
		}
		return types.Scope{Kind: kind, Label: r.Label}, nil
	default:
		return types.Scope{}, errors.New("scope must be all, label, or labels")
	}
}

// ExecuteRequest applies a stored plan. Backup defaults to true when
// omitted; pass false to skip the pre-execution snapshot.
type ExecuteRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
	Backup *bool  `json:"backup,omitempty"`
}

// WantBackup reports whether the caller asked for a pre-execution snapshot.
func (r *ExecuteRequest) WantBackup() bool {
	return r.Backup == nil || *r.Backup
}

// QueryRequest runs a hybrid retrieval query.
type QueryRequest struct {
	Query  string   `json:"query" binding:"required"`
	Labels []string `json:"labels,omitempty"`
}

// RestoreRequest restores a snapshot.
type RestoreRequest struct {
	Path  string `json:"path" binding:"required"`
	Clear bool   `json:"clear,omitempty"`
}

// QueryResponse wraps a retrieval context with its rendered form.
type QueryResponse struct {
	Context  *types.RetrievalContext `json:"context"`
	Rendered string                  `json:"rendered"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
