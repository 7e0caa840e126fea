package lifecycle

import (
	"context"
	"strings"
	"time"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
	"github.com/turtacn/karin-compliance/pkg/validation"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

// OpenCaseInput registers a new case at intake.
type OpenCaseInput struct {
	ID              string     `json:"id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	InvestigatorID  string     `json:"investigator_id" validate:"required"`
	AlertRecipients []string   `json:"alert_recipients,omitempty" validate:"omitempty,dive,required"`
	Stage           string     `json:"stage,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	Actor           string     `json:"actor" validate:"required"`
}

// TransitionInput moves a case to Target.  When ExpectedVersion is set the
// call fails with a ConcurrencyConflict if the stored case has moved on.
type TransitionInput struct {
	CaseID          string `json:"case_id" validate:"required"`
	Target          string `json:"target" validate:"required"`
	Actor           string `json:"actor" validate:"required"`
	Reason          string `json:"reason,omitempty"`
	Dismiss         bool   `json:"dismiss,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// TransitionResult is the case after a transition.
type TransitionResult struct {
	Case     *domain.Case        `json:"case"`
	From     domain.ProcessStage `json:"from"`
	Deadline domain.DeadlineInfo `json:"deadline"`
}

// ---------------------------------------------------------------------------
// CaseService
// ---------------------------------------------------------------------------

// CaseService opens cases, moves them through stages and answers deadline
// queries.
type CaseService struct {
	store      domain.CaseStore
	engine     *domain.TransitionEngine
	calc       *domain.DeadlineCalculator
	alertState AlertStateStore
	opts       options
	logger     logging.Logger
}

// NewCaseService constructs a CaseService.  alertState may be nil when no
// alert dedup store is deployed.
func NewCaseService(
	store domain.CaseStore,
	engine *domain.TransitionEngine,
	calc *domain.DeadlineCalculator,
	alertState AlertStateStore,
	logger logging.Logger,
	opts ...Option,
) *CaseService {
	if engine == nil {
		engine = domain.NewTransitionEngine(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CaseService{
		store:      store,
		engine:     engine,
		calc:       calc,
		alertState: alertState,
		opts:       buildOptions(opts),
		logger:     logger.Named("case_service"),
	}
}

// OpenCase creates a case at complaint_filed, or at the given stage when a
// case is imported mid-process.
func (s *CaseService) OpenCase(ctx context.Context, in OpenCaseInput) (*domain.Case, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	var stage domain.ProcessStage
	if strings.TrimSpace(in.Stage) != "" {
		parsed, err := domain.ParseStage(in.Stage)
		if err != nil {
			return nil, err
		}
		stage = parsed
	}
	openedAt := s.opts.now()
	if in.OpenedAt != nil {
		openedAt = *in.OpenedAt
	}

	c, err := domain.NewCase(domain.OpenCaseParams{
		ID:              in.ID,
		Reference:       in.Reference,
		OrganizationID:  in.OrganizationID,
		InvestigatorID:  in.InvestigatorID,
		AlertRecipients: in.AlertRecipients,
		Stage:           stage,
		OpenedAt:        openedAt,
		Actor:           in.Actor,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("case opened",
		logging.CaseID(c.ID), logging.Stage(c.CurrentStage.String()), logging.Actor(in.Actor))
	publish(ctx, s.logger, s.opts.events, domain.NewCaseOpenedEvent(c))
	return c, nil
}

// GetCase returns the stored case.
func (s *CaseService) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation("case_id is required")
	}
	return s.store.GetCase(ctx, caseID)
}

// GetDeadline computes the current deadline of a case.  It reads but never
// writes.
func (s *CaseService) GetDeadline(ctx context.Context, caseID string) (domain.DeadlineInfo, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return domain.DeadlineInfo{}, err
	}
	return s.calc.Compute(c, s.opts.now())
}

// Transition applies a stage change and persists it conditioned on the
// version read.  A ConcurrencyConflict is returned as is; callers re-read
// and decide whether to retry.
func (s *CaseService) Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	target, err := domain.ParseStage(in.Target)
	if err != nil {
		return nil, err
	}

	c, err := s.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != c.Version {
		return nil, errors.ConcurrencyConflict("case version does not match").
			WithDetail(in.CaseID)
	}

	now := s.opts.now()
	next, err := s.engine.Transition(c, domain.TransitionRequest{
		Target:  target,
		Actor:   in.Actor,
		Reason:  in.Reason,
		Dismiss: in.Dismiss,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateCase(ctx, next, c.Version); err != nil {
		return nil, err
	}

	invalidate(ctx, s.logger, s.alertState, c.ID)
	s.opts.metrics.RecordTransition(c.CurrentStage, next.CurrentStage)
	publish(ctx, s.logger, s.opts.events, domain.NewStageChangedEvent(c.CurrentStage, next, in.Actor))
	s.logger.Info("case stage changed",
		logging.CaseID(c.ID),
		logging.String("from", c.CurrentStage.String()),
		logging.String("to", next.CurrentStage.String()),
		logging.Actor(in.Actor),
		logging.Bool("dismissed", next.Dismissed))

	info, err := s.calc.Compute(next, now)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Case: next, From: c.CurrentStage, Deadline: info}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// publish is best effort: the write already committed, so a failure is
// logged and not returned.
func publish(ctx context.Context, logger logging.Logger, p EventPublisher, ev common.DomainEvent) {
	if err := p.PublishEvent(ctx, ev); err != nil {
		logger.Warn("event publish failed",
			logging.String("event_type", ev.EventType()),
			logging.String("aggregate_id", ev.AggregateID()),
			logging.Err(err))
	}
}

// invalidate drops remembered alert levels so the next scan re-evaluates the
// case from scratch.
func invalidate(ctx context.Context, logger logging.Logger, store AlertStateStore, caseID string) {
	if store == nil {
		return
	}
	if err := store.Invalidate(ctx, caseID); err != nil {
		logger.Warn("alert state invalidation failed", logging.CaseID(caseID), logging.Err(err))
	}
}
