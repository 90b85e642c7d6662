package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
)

type fakeResponseSrv struct {
	lastToken   string
	lastAnswers []int
	err         error
}

func (f *fakeResponseSrv) Form(_ context.Context, token string) (*dto.PublicFormResponse, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &dto.PublicFormResponse{DispatchID: "d-1", Title: "Suivi genou", Questions: models.QuestionList{{Text: "Douleur ?"}}}, nil
}

func (f *fakeResponseSrv) Submit(_ context.Context, token string, req dto.SubmitResponseRequest) (*dto.SubmitResponseResult, error) {
	f.lastToken = token
	f.lastAnswers = req.Answers
	if f.err != nil {
		return nil, f.err
	}
	return &dto.SubmitResponseResult{ResponseID: "r-1", Score: 3, SubmittedAt: time.Now()}, nil
}

func newPublicRouter(srv *fakeResponseSrv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewPublicFormHandler(srv)
	r.GET("/public/forms/:token", h.Form)
	r.POST("/public/forms/:token/responses", h.Submit)
	return r
}

func TestPublicFormOpenAndSubmit(t *testing.T) {
	srv := &fakeResponseSrv{}
	r := newPublicRouter(srv)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/forms/tok-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1", srv.lastToken)
	assert.Contains(t, rec.Body.String(), "Douleur ?")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/public/forms/tok-1/responses", strings.NewReader(`{"answers":[3]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int{3}, srv.lastAnswers)
}

func TestPublicFormErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appErrors.ErrLinkExpired, http.StatusGone},
		{appErrors.Clone(appErrors.ErrConflict, "questionnaire already answered"), http.StatusConflict},
		{appErrors.Clone(appErrors.ErrNotFound, "questionnaire link not found"), http.StatusNotFound},
	}
	for _, tc := range cases {
		r := newPublicRouter(&fakeResponseSrv{err: tc.err})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/forms/tok-1", nil))
		assert.Equal(t, tc.want, rec.Code)
	}

	r := newPublicRouter(&fakeResponseSrv{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/public/forms/tok-1/responses", strings.NewReader(`{"answers":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
