package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/middleware"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// --- mocks ---

type mockCaseService struct{ mock.Mock }

func (m *mockCaseService) OpenCase(ctx context.Context, in lifecycle.OpenCaseInput) (*domain.Case, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Case), args.Error(1)
}

func (m *mockCaseService) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Case), args.Error(1)
}

func (m *mockCaseService) GetDeadline(ctx context.Context, caseID string) (domain.DeadlineInfo, error) {
	args := m.Called(ctx, caseID)
	return args.Get(0).(domain.DeadlineInfo), args.Error(1)
}

func (m *mockCaseService) Transition(ctx context.Context, in lifecycle.TransitionInput) (*lifecycle.TransitionResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.TransitionResult), args.Error(1)
}

type mockExtensionService struct{ mock.Mock }

func (m *mockExtensionService) Request(ctx context.Context, in lifecycle.RequestExtensionInput) (*domain.ExtensionRequest, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtensionRequest), args.Error(1)
}

func (m *mockExtensionService) Decide(ctx context.Context, in lifecycle.DecideExtensionInput) (*lifecycle.ExtensionDecisionResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.ExtensionDecisionResult), args.Error(1)
}

func (m *mockExtensionService) GetExtension(ctx context.Context, id string) (*domain.ExtensionRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtensionRequest), args.Error(1)
}

type mockScanner struct{ mock.Mock }

func (m *mockScanner) ScanActive(ctx context.Context) (*lifecycle.ScanReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.ScanReport), args.Error(1)
}

func (m *mockScanner) ScanCase(ctx context.Context, caseID string) (*lifecycle.ScanReport, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.ScanReport), args.Error(1)
}

type mockAnalyzer struct{ mock.Mock }

func (m *mockAnalyzer) Analyze(ctx context.Context, in risk.AnalyzeInput) (*compliance.UnifiedRiskResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*compliance.UnifiedRiskResult), args.Error(1)
}

// --- helpers ---

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

func newCaseRouter(h *CaseHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Actor)
	r.Post("/api/v1/cases", h.OpenCase)
	r.Get("/api/v1/cases/{caseId}", h.GetCase)
	r.Get("/api/v1/cases/{caseId}/deadline", h.GetDeadline)
	r.Post("/api/v1/cases/{caseId}/transitions", h.Transition)
	r.Post("/api/v1/cases/{caseId}/extensions", h.RequestExtension)
	r.Get("/api/v1/extensions/{extensionId}", h.GetExtension)
	r.Post("/api/v1/extensions/{extensionId}/decision", h.DecideExtension)
	return r
}

func do(t *testing.T, h http.Handler, method, path, actor, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env testEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// --- case handler ---

func TestOpenCase_Success(t *testing.T) {
	t.Parallel()
	cases := new(mockCaseService)
	h := NewCaseHandler(cases, new(mockExtensionService), 0, nil)

	opened := &domain.Case{ID: "case-1", InvestigatorID: "ivan"}
	cases.On("OpenCase", mock.Anything, mock.MatchedBy(func(in lifecycle.OpenCaseInput) bool {
		return in.InvestigatorID == "ivan" && in.Actor == "ana" && len(in.AlertRecipients) == 2
	})).Return(opened, nil)

	rec, env := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/cases", "ana",
		`{"investigator_id":"ivan","alert_recipients":["ivan","rrhh"]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/v1/cases/case-1", rec.Header().Get("Location"))
	assert.True(t, env.Success)
	cases.AssertExpectations(t)
}

func TestOpenCase_BadInput(t *testing.T) {
	t.Parallel()
	h := NewCaseHandler(new(mockCaseService), new(mockExtensionService), 64, nil)
	r := newCaseRouter(h)

	tests := []struct {
		name, actor, body string
		status            int
		code              string
	}{
		{"empty body", "ana", "", http.StatusUnprocessableEntity, "KARIN_001"},
		{"malformed", "ana", "{", http.StatusUnprocessableEntity, "KARIN_001"},
		{"unknown field", "ana", `{"investigator_id":"i","color":"red"}`, http.StatusUnprocessableEntity, "KARIN_001"},
		{"missing investigator", "ana", `{}`, http.StatusUnprocessableEntity, "KARIN_001"},
		{"too large", "ana", `{"investigator_id":"` + strings.Repeat("x", 100) + `"}`, http.StatusUnprocessableEntity, "KARIN_001"},
		{"trailing data", "ana", `{"investigator_id":"i"}{}`, http.StatusUnprocessableEntity, "KARIN_001"},
		{"no actor", "", `{"investigator_id":"i"}`, http.StatusUnauthorized, "COMMON_003"},
	}
	for _, tc := range tests {
		rec, env := do(t, r, http.MethodPost, "/api/v1/cases", tc.actor, tc.body)
		assert.Equal(t, tc.status, rec.Code, tc.name)
		require.NotNil(t, env.Error, tc.name)
		assert.Equal(t, tc.code, env.Error.Code, tc.name)
		assert.False(t, env.Success, tc.name)
	}
}

func TestGetDeadline(t *testing.T) {
	t.Parallel()
	cases := new(mockCaseService)
	h := NewCaseHandler(cases, new(mockExtensionService), 0, nil)
	deadline := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	cases.On("GetDeadline", mock.Anything, "case-1").Return(domain.DeadlineInfo{
		CaseID: "case-1", Stage: domain.StageInvestigation, HasDeadline: true,
		Deadline: deadline, TotalDays: 30, DaysRemaining: 4, Level: domain.AlertApproaching,
	}, nil)
	cases.On("GetDeadline", mock.Anything, "missing").
		Return(domain.DeadlineInfo{}, errors.New(errors.ErrCodeCaseNotFound, "case not found"))

	rec, env := do(t, newCaseRouter(h), http.MethodGet, "/api/v1/cases/case-1/deadline", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info domain.DeadlineInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 4, info.DaysRemaining)
	assert.Equal(t, domain.AlertApproaching, info.Level)

	rec, env = do(t, newCaseRouter(h), http.MethodGet, "/api/v1/cases/missing/deadline", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "KARIN_010", env.Error.Code)
}

func TestTransition_MapsDomainErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errors.InvalidTransition("investigation -> reception"), http.StatusConflict, "KARIN_002"},
		{errors.TerminalState("case is closed"), http.StatusConflict, "KARIN_003"},
		{errors.ConcurrencyConflict("version moved"), http.StatusConflict, "KARIN_004"},
		{errors.New(errors.ErrCodeDatabaseError, "connection reset by peer"), http.StatusInternalServerError, "COMMON_012"},
		{context.Canceled, http.StatusInternalServerError, "COMMON_001"},
	}
	for _, tc := range tests {
		cases := new(mockCaseService)
		h := NewCaseHandler(cases, new(mockExtensionService), 0, nil)
		cases.On("Transition", mock.Anything, mock.Anything).Return(nil, tc.err)

		rec, env := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/cases/case-1/transitions", "ana", `{"target":"report_creation"}`)
		assert.Equal(t, tc.status, rec.Code, tc.code)
		assert.Equal(t, tc.code, env.Error.Code)
		if tc.status >= 500 {
			assert.NotContains(t, env.Error.Message, "connection reset")
		}
	}
}

func TestTransition_PassesInput(t *testing.T) {
	t.Parallel()
	cases := new(mockCaseService)
	h := NewCaseHandler(cases, new(mockExtensionService), 0, nil)
	version := int64(3)
	cases.On("Transition", mock.Anything, lifecycle.TransitionInput{
		CaseID: "case-1", Target: "closed", Actor: "ana", Reason: "sin mérito", Dismiss: true, ExpectedVersion: &version,
	}).Return(&lifecycle.TransitionResult{Case: &domain.Case{ID: "case-1"}, From: domain.StageInvestigation}, nil)

	rec, env := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/cases/case-1/transitions", "ana",
		`{"target":"closed","reason":"sin mérito","dismiss":true,"expected_version":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	cases.AssertExpectations(t)
}

func TestRequestExtension(t *testing.T) {
	t.Parallel()
	ext := new(mockExtensionService)
	h := NewCaseHandler(new(mockCaseService), ext, 0, nil)
	ext.On("Request", mock.Anything, lifecycle.RequestExtensionInput{
		CaseID: "case-1", Days: 5, Justification: "testigos", RequestedBy: "ivan",
	}).Return(&domain.ExtensionRequest{ID: "ext-1", CaseID: "case-1", Status: domain.ExtensionPending}, nil)

	rec, _ := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/cases/case-1/extensions", "ivan", `{"days":5,"justification":"testigos"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/v1/extensions/ext-1", rec.Header().Get("Location"))

	rec, env := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/cases/case-1/extensions", "ivan", `{"days":0,"justification":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error.Detail, "days")
}

func TestDecideExtension(t *testing.T) {
	t.Parallel()
	ext := new(mockExtensionService)
	h := NewCaseHandler(new(mockCaseService), ext, 0, nil)
	ext.On("Decide", mock.Anything, lifecycle.DecideExtensionInput{ExtensionID: "ext-1", Approver: "ana", Approve: false, Note: "no"}).
		Return(&lifecycle.ExtensionDecisionResult{Request: &domain.ExtensionRequest{ID: "ext-1", Status: domain.ExtensionRejected}}, nil)
	ext.On("Decide", mock.Anything, mock.MatchedBy(func(in lifecycle.DecideExtensionInput) bool { return in.Approver == "mallory" })).
		Return(nil, errors.New(errors.ErrCodeApproverNotAuthorized, "not allowed"))

	rec, _ := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/extensions/ext-1/decision", "ana", `{"approve":false,"note":"no"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, newCaseRouter(h), http.MethodPost, "/api/v1/extensions/ext-1/decision", "mallory", `{"approve":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "KARIN_012", env.Error.Code)

	rec, _ = do(t, newCaseRouter(h), http.MethodPost, "/api/v1/extensions/ext-1/decision", "ana", `{"note":"missing approve"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// --- alert and risk handlers ---

func TestAlertScan(t *testing.T) {
	t.Parallel()
	scanner := new(mockScanner)
	h := NewAlertHandler(scanner, nil)
	scanner.On("ScanActive", mock.Anything).Return(&lifecycle.ScanReport{ScannedCases: 3}, nil)
	scanner.On("ScanCase", mock.Anything, "case-9").Return(&lifecycle.ScanReport{ScannedCases: 1}, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/alerts/scan", h.Scan)

	rec, env := do(t, r, http.MethodPost, "/api/v1/alerts/scan", "ana", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report lifecycle.ScanReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 3, report.ScannedCases)

	_, env = do(t, r, http.MethodPost, "/api/v1/alerts/scan?case_id=case-9", "ana", "")
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.ScannedCases)
	scanner.AssertExpectations(t)
}

func TestRiskAnalyze(t *testing.T) {
	t.Parallel()
	analyzer := new(mockAnalyzer)
	h := NewRiskHandler(analyzer, 0, nil)
	analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(in risk.AnalyzeInput) bool {
		return in.Narrative == "me humilló" && in.Attributes.Recurrent
	})).Return(&compliance.UnifiedRiskResult{AnalysisID: "an-1", UnifiedLevel: compliance.RiskImportant}, nil)
	analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(in risk.AnalyzeInput) bool { return in.Narrative == "" })).
		Return(nil, errors.Validation("invalid input").WithDetail("narrative is required"))

	r := chi.NewRouter()
	r.Post("/api/v1/risk/analyze", h.Analyze)

	rec, env := do(t, r, http.MethodPost, "/api/v1/risk/analyze", "", `{"narrative":"me humilló","attributes":{"recurrent":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res compliance.UnifiedRiskResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, compliance.RiskImportant, res.UnifiedLevel)

	rec, env = do(t, r, http.MethodPost, "/api/v1/risk/analyze", "", `{"narrative":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "narrative is required", env.Error.Detail)
}

// --- health ---

type fakeDeps struct {
	mu sync.Mutex
	up map[string]bool
}

func (f *fakeDeps) SetDependencyUp(name string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up[name] = up
}

func TestHealth(t *testing.T) {
	t.Parallel()
	deps := &fakeDeps{up: map[string]bool{}}
	failing := false
	h := NewHealthHandler("1.2.3", deps,
		CheckFunc{Component: "postgres", Fn: func(context.Context) error { return nil }},
		CheckFunc{Component: "redis", Fn: func(context.Context) error {
			if failing {
				return errors.New(errors.ErrCodeCacheError, "redis down")
			}
			return nil
		}},
	)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	require.Len(t, ready.Components, 2)
	assert.Equal(t, "postgres", ready.Components[0].Name)

	failing = true
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, deps.up["redis"])
	assert.True(t, deps.up["postgres"])
}
