package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/middleware"
	"github.com/noah-isme/followup-api/internal/models"
)

type fakeDashboardSrv struct {
	resp      *dto.DashboardSummary
	err       error
	hit       bool
	lastOwner string
}

func (f *fakeDashboardSrv) Summary(_ context.Context, ownerID string) (*dto.DashboardSummary, bool, error) {
	f.lastOwner = ownerID
	return f.resp, f.hit, f.err
}

// practitionerContext builds a test context carrying practitioner claims.
func practitionerContext(rec *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "owner-1", Email: "dr@clinic.fr", Role: models.RolePractitioner})
	return c
}

func TestDashboardHandlerRequiresOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(&fakeDashboardSrv{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil)

	handler.Summary(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboardHandlerSummary(t *testing.T) {
	srv := &fakeDashboardSrv{resp: &dto.DashboardSummary{OwnerID: "owner-1", DispatchesTotal: 7}, hit: true}
	handler := NewDashboardHandler(srv)

	rec := httptest.NewRecorder()
	c := practitionerContext(rec, httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil))

	handler.Summary(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, float64(7), envelope.Data["dispatchesTotal"])
	assert.Equal(t, "owner-1", srv.lastOwner)
}

func TestDashboardHandlerServiceError(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	c := practitionerContext(rec, httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil))

	handler.Summary(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type responseEnvelope struct {
	Data map[string]interface{} `json:"data"`
	Meta map[string]interface{} `json:"meta"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
