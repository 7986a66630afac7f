package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmend/graphmend/pkg/types"
)

// fakeClient is a canned GraphMend implementation for handler tests.
type fakeClient struct {
	plan       *types.ResolutionPlan
	report     *types.ExecutionReport
	context    *types.RetrievalContext
	execErr    error
	planErr    error
	execBackup bool
}

func (f *fakeClient) Detect(ctx context.Context, scope types.Scope) (*types.ResolutionPlan, error) {
	return f.plan, nil
}

func (f *fakeClient) Execute(ctx context.Context, planID string, backup bool) (*types.ExecutionReport, error) {
	f.execBackup = backup
	return f.report, f.execErr
}

func (f *fakeClient) Query(ctx context.Context, query string, labels []string) (*types.RetrievalContext, error) {
	return f.context, nil
}

func (f *fakeClient) GetPlan(ctx context.Context, id string) (*types.ResolutionPlan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan, nil
}

func (f *fakeClient) ListPlans(ctx context.Context) ([]*types.ResolutionPlan, error) {
	return []*types.ResolutionPlan{f.plan}, nil
}

func (f *fakeClient) GetReport(ctx context.Context, planID string) (*types.ExecutionReport, error) {
	return f.report, nil
}

func (f *fakeClient) Backup(ctx context.Context) (string, error) { return "/tmp/backup_1", nil }

func (f *fakeClient) Restore(ctx context.Context, path string, clear bool) error { return nil }

func (f *fakeClient) Close(ctx context.Context) error { return nil }

func perform(t *testing.T, register func(*gin.Engine), method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	register(router)

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := perform(t, func(r *gin.Engine) {
		r.GET("/health", NewHealthHandler().HealthCheck)
	}, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "graphmend", resp["service"])
}

func TestDetectHandler(t *testing.T) {
	client := &fakeClient{plan: &types.ResolutionPlan{
		SchemaVersion: types.PlanSchemaVersion, ID: "p1",
		Scope: types.Scope{Kind: types.ScopeLabel, Label: "Unit"},
	}}
	h := NewResolutionHandler(client)

	w := perform(t, func(r *gin.Engine) {
		r.POST("/detect", h.Detect)
	}, http.MethodPost, "/detect", map[string]any{"scope": "label", "label": "Unit"})

	require.Equal(t, http.StatusOK, w.Code)
	var plan types.ResolutionPlan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, "p1", plan.ID)
}

func TestDetectHandlerRejectsBadScope(t *testing.T) {
	h := NewResolutionHandler(&fakeClient{})
	w := perform(t, func(r *gin.Engine) {
		r.POST("/detect", h.Detect)
	}, http.MethodPost, "/detect", map[string]any{"scope": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteHandlerPartialFailure(t *testing.T) {
	client := &fakeClient{
		report: &types.ExecutionReport{
			PlanID: "p1", State: types.PlanPartiallyApplied,
			Groups: []types.GroupResult{
				{CanonicalID: "a", State: types.GroupApplied},
				{CanonicalID: "c", State: types.GroupFailed, Error: "entity \"c\" not found"},
			},
		},
		execErr: &types.PartialFailure{Succeeded: 1, Failed: 1},
	}
	h := NewResolutionHandler(client)

	w := perform(t, func(r *gin.Engine) {
		r.POST("/execute", h.Execute)
	}, http.MethodPost, "/execute", map[string]any{"plan_id": "p1"})

	require.Equal(t, http.StatusMultiStatus, w.Code)
	var report types.ExecutionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, types.PlanPartiallyApplied, report.State)
}

func TestExecuteHandlerBackupFlag(t *testing.T) {
	run := func(t *testing.T, body map[string]any) *fakeClient {
		client := &fakeClient{report: &types.ExecutionReport{PlanID: "p1", State: types.PlanCompleted}}
		h := NewResolutionHandler(client)
		w := perform(t, func(r *gin.Engine) {
			r.POST("/execute", h.Execute)
		}, http.MethodPost, "/execute", body)
		require.Equal(t, http.StatusOK, w.Code)
		return client
	}

	t.Run("defaults to backup", func(t *testing.T) {
		client := run(t, map[string]any{"plan_id": "p1"})
		assert.True(t, client.execBackup)
	})

	t.Run("opt out", func(t *testing.T) {
		client := run(t, map[string]any{"plan_id": "p1", "backup": false})
		assert.False(t, client.execBackup)
	})
}

func TestGetPlanNotFound(t *testing.T) {
	client := &fakeClient{planErr: &types.NotFoundError{Kind: "plan", ID: "missing"}}
	h := NewResolutionHandler(client)

	w := perform(t, func(r *gin.Engine) {
		r.GET("/plans/:id", h.GetPlan)
	}, http.MethodGet, "/plans/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryHandler(t *testing.T) {
	client := &fakeClient{context: &types.RetrievalContext{
		Query: "helbrecht",
		Items: []types.ContextItem{
			{EntityID: "c1", Score: 0.85, Provenance: []types.Channel{types.ChannelKeyword},
				Text: "High Marshal Helbrecht (Character)"},
		},
	}}
	h := NewRetrieveHandler(client)

	w := perform(t, func(r *gin.Engine) {
		r.POST("/query", h.Query)
	}, http.MethodPost, "/query", map[string]any{"query": "helbrecht"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rendered string `json:"rendered"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Rendered, "EVIDENCE:")
}

func TestQueryHandlerRequiresQuery(t *testing.T) {
	h := NewRetrieveHandler(&fakeClient{})
	w := perform(t, func(r *gin.Engine) {
		r.POST("/query", h.Query)
	}, http.MethodPost, "/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
