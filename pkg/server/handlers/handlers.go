// Package handlers implements the HTTP API over a graphmend client.
package handlers

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	graphmend "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/server/dto"
	"github.com/graphmend/graphmend/pkg/types"
)

// Build information, settable at build time with ldflags.
var (
	Version   = "dev"
	GoVersion = runtime.Version()
)

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var validation *types.ValidationError
	var notFound *types.NotFoundError
	var conflict *types.ConcurrencyConflict
	var external *types.ExternalServiceError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation_failed", Message: err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "version_conflict", Message: err.Error()})
	case errors.As(err, &external):
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "external_service_failed", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

// HealthHandler answers liveness checks.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "graphmend",
		"version":    Version,
		"go_version": GoVersion,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ResolutionHandler exposes detection, execution, and plan inspection.
type ResolutionHandler struct {
	client graphmend.GraphMend
}

func NewResolutionHandler(client graphmend.GraphMend) *ResolutionHandler {
	return &ResolutionHandler{client: client}
}

// Detect handles POST /api/v1/detect.
func (h *ResolutionHandler) Detect(c *gin.Context) {
	var req dto.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	scope, err := req.ToScope()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	plan, err := h.client.Detect(c.Request.Context(), scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// Execute handles POST /api/v1/execute. On partial failure the report is
// returned with 207 so the caller can inspect per-group outcomes.
func (h *ResolutionHandler) Execute(c *gin.Context) {
	var req dto.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	report, err := h.client.Execute(c.Request.Context(), req.PlanID, req.WantBackup())
	if err != nil {
		var partial *types.PartialFailure
		if errors.As(err, &partial) && report != nil {
			c.JSON(http.StatusMultiStatus, report)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetPlan handles GET /api/v1/plans/:id.
func (h *ResolutionHandler) GetPlan(c *gin.Context) {
	plan, err := h.client.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// ListPlans handles GET /api/v1/plans.
func (h *ResolutionHandler) ListPlans(c *gin.Context) {
	plans, err := h.client.ListPlans(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetReport handles GET /api/v1/plans/:id/report.
func (h *ResolutionHandler) GetReport(c *gin.Context) {
	report, err := h.client.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RetrieveHandler exposes hybrid retrieval.
type RetrieveHandler struct {
	client graphmend.GraphMend
}

func NewRetrieveHandler(client graphmend.GraphMend) *RetrieveHandler {
	return &RetrieveHandler{client: client}
}

// Query handles POST /api/v1/query.
func (h *RetrieveHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	result, err := h.client.Query(c.Request.Context(), req.Query, req.Labels)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.QueryResponse{Context: result, Rendered: result.Render()})
}

// SnapshotHandler exposes backup and restore.
type SnapshotHandler struct {
	client graphmend.GraphMend
}

func NewSnapshotHandler(client graphmend.GraphMend) *SnapshotHandler {
	return &SnapshotHandler{client: client}
}

// Backup handles POST /api/v1/backup.
func (h *SnapshotHandler) Backup(c *gin.Context) {
	path, err := h.client.Backup(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// Restore handles POST /api/v1/restore.
func (h *SnapshotHandler) Restore(c *gin.Context) {
	var req dto.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.client.Restore(c.Request.Context(), req.Path, req.Clear); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": req.Path})
}
