package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/karin-compliance/internal/application/lifecycle"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/validation"
)

// CaseService is the part of the case service the handler calls.
type CaseService interface {
	OpenCase(ctx context.Context, in lifecycle.OpenCaseInput) (*domain.Case, error)
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
	GetDeadline(ctx context.Context, caseID string) (domain.DeadlineInfo, error)
	Transition(ctx context.Context, in lifecycle.TransitionInput) (*lifecycle.TransitionResult, error)
}

// ExtensionService is the part of the extension workflow the handler calls.
type ExtensionService interface {
	Request(ctx context.Context, in lifecycle.RequestExtensionInput) (*domain.ExtensionRequest, error)
	Decide(ctx context.Context, in lifecycle.DecideExtensionInput) (*lifecycle.ExtensionDecisionResult, error)
	GetExtension(ctx context.Context, id string) (*domain.ExtensionRequest, error)
}

// CaseHandler serves case intake, stage transitions, deadlines and
// extension requests.
type CaseHandler struct {
	cases       CaseService
	extensions  ExtensionService
	maxBodySize int64
	logger      logging.Logger
}

// NewCaseHandler creates a CaseHandler.
func NewCaseHandler(cases CaseService, extensions ExtensionService, maxBodySize int64, logger logging.Logger) *CaseHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CaseHandler{
		cases:       cases,
		extensions:  extensions,
		maxBodySize: maxBodySize,
		logger:      logger.Named("case_handler"),
	}
}

// OpenCaseRequest is the body of POST /api/v1/cases.
type OpenCaseRequest struct {
	ID              string     `json:"id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	InvestigatorID  string     `json:"investigator_id" validate:"required"`
	AlertRecipients []string   `json:"alert_recipients,omitempty" validate:"omitempty,dive,required"`
	Stage           string     `json:"stage,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
}

// TransitionRequest is the body of POST /api/v1/cases/{caseId}/transitions.
type TransitionRequest struct {
	Target          string `json:"target" validate:"required"`
	Reason          string `json:"reason,omitempty"`
	Dismiss         bool   `json:"dismiss,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,min=1"`
}

// ExtensionRequestBody is the body of POST /api/v1/cases/{caseId}/extensions.
type ExtensionRequestBody struct {
	Days          int    `json:"days" validate:"required,min=1"`
	Justification string `json:"justification" validate:"required"`
}

// DecisionRequest is the body of POST /api/v1/extensions/{extensionId}/decision.
type DecisionRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note,omitempty"`
}

// OpenCase handles POST /api/v1/cases
func (h *CaseHandler) OpenCase(w http.ResponseWriter, r *http.Request) {
	var req OpenCaseRequest
	if err := h.bind(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	c, err := h.cases.OpenCase(r.Context(), lifecycle.OpenCaseInput{
		ID:              req.ID,
		Reference:       req.Reference,
		OrganizationID:  req.OrganizationID,
		InvestigatorID:  req.InvestigatorID,
		AlertRecipients: req.AlertRecipients,
		Stage:           req.Stage,
		OpenedAt:        req.OpenedAt,
		Actor:           actorFromRequest(r),
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/cases/"+c.ID)
	writeSuccess(w, r, http.StatusCreated, c)
}

// GetCase handles GET /api/v1/cases/{caseId}
func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.GetCase(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, c)
}

// GetDeadline handles GET /api/v1/cases/{caseId}/deadline
func (h *CaseHandler) GetDeadline(w http.ResponseWriter, r *http.Request) {
	info, err := h.cases.GetDeadline(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, info)
}

// Transition handles POST /api/v1/cases/{caseId}/transitions
func (h *CaseHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := h.bind(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.cases.Transition(r.Context(), lifecycle.TransitionInput{
		CaseID:          chi.URLParam(r, "caseId"),
		Target:          req.Target,
		Actor:           actorFromRequest(r),
		Reason:          req.Reason,
		Dismiss:         req.Dismiss,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

// RequestExtension handles POST /api/v1/cases/{caseId}/extensions
func (h *CaseHandler) RequestExtension(w http.ResponseWriter, r *http.Request) {
	var req ExtensionRequestBody
	if err := h.bind(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	ext, err := h.extensions.Request(r.Context(), lifecycle.RequestExtensionInput{
		CaseID:        chi.URLParam(r, "caseId"),
		Days:          req.Days,
		Justification: req.Justification,
		RequestedBy:   actorFromRequest(r),
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/extensions/"+ext.ID)
	writeSuccess(w, r, http.StatusCreated, ext)
}

// GetExtension handles GET /api/v1/extensions/{extensionId}
func (h *CaseHandler) GetExtension(w http.ResponseWriter, r *http.Request) {
	ext, err := h.extensions.GetExtension(r.Context(), chi.URLParam(r, "extensionId"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, ext)
}

// DecideExtension handles POST /api/v1/extensions/{extensionId}/decision
func (h *CaseHandler) DecideExtension(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.bind(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.extensions.Decide(r.Context(), lifecycle.DecideExtensionInput{
		ExtensionID: chi.URLParam(r, "extensionId"),
		Approver:    actorFromRequest(r),
		Approve:     *req.Approve,
		Note:        req.Note,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

func (h *CaseHandler) bind(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := decodeJSON(w, r, h.maxBodySize, dst); err != nil {
		return err
	}
	if err := validation.Struct(dst); err != nil {
		return err
	}
	if actorFromRequest(r) == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	return nil
}
