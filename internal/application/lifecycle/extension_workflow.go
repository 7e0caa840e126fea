package lifecycle

import (
	"context"
	"strings"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/validation"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

// RequestExtensionInput asks for more days on the case's current stage.
type RequestExtensionInput struct {
	CaseID        string `json:"case_id" validate:"required"`
	Days          int    `json:"days" validate:"required,min=1"`
	Justification string `json:"justification" validate:"required"`
	RequestedBy   string `json:"requested_by" validate:"required"`
}

// DecideExtensionInput approves or rejects a pending request.
type DecideExtensionInput struct {
	ExtensionID string `json:"extension_id" validate:"required"`
	Approver    string `json:"approver" validate:"required"`
	Approve     bool   `json:"approve"`
	Note        string `json:"note,omitempty"`
}

// ExtensionDecisionResult carries the decided request, the case after the
// decision and the deadline it now has.
type ExtensionDecisionResult struct {
	Request  *domain.ExtensionRequest `json:"request"`
	Case     *domain.Case             `json:"case"`
	Deadline domain.DeadlineInfo      `json:"deadline"`
}

// ---------------------------------------------------------------------------
// ExtensionWorkflow
// ---------------------------------------------------------------------------

// ExtensionWorkflow records extension requests and applies decisions.  At
// most one request per case and stage is pending at a time.
type ExtensionWorkflow struct {
	store      domain.CaseStore
	calc       *domain.DeadlineCalculator
	roles      RoleDirectory
	alertState AlertStateStore
	opts       options
	logger     logging.Logger
}

// NewExtensionWorkflow constructs an ExtensionWorkflow.
func NewExtensionWorkflow(
	store domain.CaseStore,
	calc *domain.DeadlineCalculator,
	roles RoleDirectory,
	alertState AlertStateStore,
	logger logging.Logger,
	opts ...Option,
) *ExtensionWorkflow {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExtensionWorkflow{
		store:      store,
		calc:       calc,
		roles:      roles,
		alertState: alertState,
		opts:       buildOptions(opts),
		logger:     logger.Named("extension_workflow"),
	}
}

// Request records a pending extension request for the case's current stage.
func (w *ExtensionWorkflow) Request(ctx context.Context, in RequestExtensionInput) (*domain.ExtensionRequest, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	c, err := w.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	rule, err := w.calc.Rules().Rule(c.CurrentStage)
	if err != nil {
		return nil, err
	}
	pending, err := w.store.FindPendingExtension(ctx, c.ID, c.CurrentStage)
	if err != nil {
		return nil, err
	}

	r, err := domain.NewExtensionRequest(c, rule, domain.ExtensionInput{
		Days:          in.Days,
		Justification: in.Justification,
		RequestedBy:   in.RequestedBy,
	}, pending != nil, w.opts.now())
	if err != nil {
		return nil, err
	}
	if err := w.store.CreateExtension(ctx, r); err != nil {
		return nil, err
	}

	w.opts.metrics.RecordExtensionRequest(r.Stage)
	publish(ctx, w.logger, w.opts.events, domain.NewExtensionRequestedEvent(r))
	w.logger.Info("extension requested",
		logging.CaseID(c.ID),
		logging.ExtensionID(r.ID),
		logging.Stage(r.Stage.String()),
		logging.Int("days", r.RequestedDays),
		logging.Actor(r.RequestedBy))
	return r, nil
}

// Decide approves or rejects a pending request.  Approval adds the granted
// days to the case clock, capped at the stage maximum, and stores the
// request and the case in one write.
func (w *ExtensionWorkflow) Decide(ctx context.Context, in DecideExtensionInput) (*ExtensionDecisionResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	r, err := w.store.GetExtension(ctx, in.ExtensionID)
	if err != nil {
		return nil, err
	}
	if !r.IsPending() {
		return nil, errors.AlreadyDecided("extension request is " + string(r.Status)).WithDetail(r.ID)
	}
	c, err := w.store.GetCase(ctx, r.CaseID)
	if err != nil {
		return nil, err
	}
	if err := w.authorize(ctx, in.Approver, c); err != nil {
		return nil, err
	}
	rule, err := w.calc.Rules().Rule(r.Stage)
	if err != nil {
		return nil, err
	}

	now := w.opts.now()
	next, decided, err := r.Decide(c, rule, domain.Decision{
		Approver: in.Approver,
		Approve:  in.Approve,
		Note:     in.Note,
	}, now)
	if err != nil {
		return nil, err
	}

	info, err := w.calc.Compute(next, now)
	if err != nil {
		return nil, err
	}
	var changed *domain.Case
	if decided.Status == domain.ExtensionApproved {
		if info.HasDeadline {
			d := info.Deadline
			decided.NewDeadline = &d
		}
		changed = next
	}
	if err := w.store.SaveExtensionDecision(ctx, changed, c.Version, decided, r.Version); err != nil {
		return nil, err
	}
	if changed != nil {
		invalidate(ctx, w.logger, w.alertState, c.ID)
	}

	w.opts.metrics.RecordExtensionDecision(decided.Status)
	publish(ctx, w.logger, w.opts.events, domain.NewExtensionDecidedEvent(decided))
	w.logger.Info("extension decided",
		logging.CaseID(c.ID),
		logging.ExtensionID(decided.ID),
		logging.String("status", string(decided.Status)),
		logging.Int("granted_days", decided.GrantedDays),
		logging.Actor(in.Approver))
	return &ExtensionDecisionResult{Request: decided, Case: next, Deadline: info}, nil
}

// GetExtension returns a stored request.
func (w *ExtensionWorkflow) GetExtension(ctx context.Context, id string) (*domain.ExtensionRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.Validation("extension_id is required")
	}
	return w.store.GetExtension(ctx, id)
}

func (w *ExtensionWorkflow) authorize(ctx context.Context, actor string, c *domain.Case) error {
	if w.roles == nil {
		return errors.New(errors.ErrCodeApproverNotAuthorized, "no role directory configured")
	}
	ok, err := w.roles.CanApproveExtension(ctx, actor, c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalUnavailable, "role lookup failed")
	}
	if !ok {
		return errors.New(errors.ErrCodeApproverNotAuthorized, "actor may not decide extension requests").
			WithDetail(actor)
	}
	return nil
}
