package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// ExtensionStatus is the state of an extension request.  pending is the only
// non-final state.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// ExtensionRequest asks for more days on the case's current stage.
type ExtensionRequest struct {
	ID            string          `json:"id"`
	CaseID        string          `json:"case_id"`
	Stage         ProcessStage    `json:"stage"`
	RequestedDays int             `json:"requested_days"`
	Justification string          `json:"justification"`
	RequestedBy   string          `json:"requested_by"`
	Status        ExtensionStatus `json:"status"`
	DecidedBy     string          `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	DecisionNote  string          `json:"decision_note,omitempty"`
	// GrantedDays is the number of days actually added on approval; it is
	// lower than RequestedDays when the stage maximum caps it.
	GrantedDays int        `json:"granted_days,omitempty"`
	NewDeadline *time.Time `json:"new_deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Version     int64      `json:"version"`
}

// IsPending reports whether the request still awaits a decision.
func (r *ExtensionRequest) IsPending() bool { return r.Status == ExtensionPending }

// ExtensionInput is the caller-supplied part of a request.
type ExtensionInput struct {
	Days          int
	Justification string
	RequestedBy   string
}

// NewExtensionRequest validates in against c and its current stage rule and
// returns a pending request.  hasPending reports whether a pending request
// already exists for the case's current stage.
func NewExtensionRequest(c *Case, rule DeadlineRule, in ExtensionInput, hasPending bool, now time.Time) (*ExtensionRequest, error) {
	if c == nil {
		return nil, errors.Validation("case must not be nil")
	}
	if in.Days <= 0 {
		return nil, errors.Validation("requested days must be positive")
	}
	justification := strings.TrimSpace(in.Justification)
	if justification == "" {
		return nil, errors.Validation("justification must not be empty")
	}
	if strings.TrimSpace(in.RequestedBy) == "" {
		return nil, errors.Validation("requester must not be empty")
	}
	if c.IsClosed() {
		return nil, errors.TerminalState("case is already closed").WithDetail(c.ID)
	}
	if rule.Stage != c.CurrentStage {
		return nil, errors.Internal("rule does not match the case stage")
	}
	if !rule.Extendable {
		return nil, errors.New(errors.ErrCodeExtensionNotAllowed, "stage deadline is not extendable").
			WithDetail(string(rule.Stage))
	}
	if in.Days+c.ApprovedExtensionDays > rule.MaxExtensionDays {
		return nil, errors.Newf(errors.ErrCodeExtensionNotAllowed,
			"extension exceeds stage maximum (%d approved, %d requested, %d max)",
			c.ApprovedExtensionDays, in.Days, rule.MaxExtensionDays)
	}
	if hasPending {
		return nil, errors.New(errors.ErrCodeExtensionAlreadyPending, "an extension request is already pending").
			WithDetail(c.ID + "/" + string(c.CurrentStage))
	}
	return &ExtensionRequest{
		ID:            uuid.New().String(),
		CaseID:        c.ID,
		Stage:         c.CurrentStage,
		RequestedDays: in.Days,
		Justification: justification,
		RequestedBy:   in.RequestedBy,
		Status:        ExtensionPending,
		CreatedAt:     now.UTC(),
	}, nil
}

// Decision is an approver's verdict.
type Decision struct {
	Approver string
	Approve  bool
	Note     string
}

// Decide applies d to r against c.  It returns new snapshots of both; the
// inputs are never modified.  On rejection the returned case equals c.
// Callers set NewDeadline on the returned request after recomputing.
func (r *ExtensionRequest) Decide(c *Case, rule DeadlineRule, d Decision, now time.Time) (*Case, *ExtensionRequest, error) {
	if c == nil {
		return nil, nil, errors.Validation("case must not be nil")
	}
	if !r.IsPending() {
		return nil, nil, errors.AlreadyDecided("extension request is " + string(r.Status)).WithDetail(r.ID)
	}
	if r.CaseID != c.ID {
		return nil, nil, errors.Validation("extension request belongs to another case").WithDetail(r.ID)
	}
	if strings.TrimSpace(d.Approver) == "" {
		return nil, nil, errors.Validation("approver must not be empty")
	}
	if c.IsClosed() || r.Stage != c.CurrentStage {
		return nil, nil, errors.New(errors.ErrCodeExtensionStale, "case left the requested stage").
			WithDetail(string(r.Stage) + " != " + string(c.CurrentStage))
	}

	at := now.UTC()
	req := *r
	req.DecidedBy = d.Approver
	req.DecidedAt = &at
	req.DecisionNote = strings.TrimSpace(d.Note)

	next := c.Clone()
	if !d.Approve {
		req.Status = ExtensionRejected
		return next, &req, nil
	}

	total := c.ApprovedExtensionDays + r.RequestedDays
	if total > rule.MaxExtensionDays {
		total = rule.MaxExtensionDays
	}
	req.Status = ExtensionApproved
	req.GrantedDays = total - c.ApprovedExtensionDays
	next.ApprovedExtensionDays = total
	next.UpdatedAt = at
	return next, &req, nil
}
