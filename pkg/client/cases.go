package client

import (
	"context"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// StageEntry is one stage a case has passed through.
type StageEntry struct {
	Stage     string     `json:"stage"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Case is a complaint under investigation.
type Case struct {
	ID                    string       `json:"id"`
	Reference             string       `json:"reference,omitempty"`
	OrganizationID        string       `json:"organization_id,omitempty"`
	InvestigatorID        string       `json:"investigator_id,omitempty"`
	AlertRecipients       []string     `json:"alert_recipients,omitempty"`
	CurrentStage          string       `json:"current_stage"`
	StageEnteredAt        time.Time    `json:"stage_entered_at"`
	ApprovedExtensionDays int          `json:"approved_extension_days"`
	History               []StageEntry `json:"history"`
	Dismissed             bool         `json:"dismissed"`
	DismissalReason       string       `json:"dismissal_reason,omitempty"`
	Version               int64        `json:"version"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Deadline is the legal deadline of a case's current stage.
type Deadline struct {
	CaseID        string    `json:"case_id"`
	Stage         string    `json:"stage"`
	HasDeadline   bool      `json:"has_deadline"`
	Deadline      time.Time `json:"deadline,omitempty"`
	TotalDays     int       `json:"total_days"`
	DaysRemaining int       `json:"days_remaining"`
	Unit          string    `json:"unit"`
	Level         string    `json:"level"`
}

// OpenCaseRequest registers a complaint at intake.
type OpenCaseRequest struct {
	ID              string     `json:"id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	InvestigatorID  string     `json:"investigator_id"`
	AlertRecipients []string   `json:"alert_recipients,omitempty"`
	Stage           string     `json:"stage,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
}

// TransitionRequest moves a case to Target.  ExpectedVersion enables
// optimistic concurrency.
type TransitionRequest struct {
	Target          string `json:"target"`
	Reason          string `json:"reason,omitempty"`
	Dismiss         bool   `json:"dismiss,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// TransitionResult is the case after a transition and its new deadline.
type TransitionResult struct {
	Case     *Case    `json:"case"`
	From     string   `json:"from"`
	Deadline Deadline `json:"deadline"`
}

// Extension is a request for more days on a stage.
type Extension struct {
	ID            string     `json:"id"`
	CaseID        string     `json:"case_id"`
	Stage         string     `json:"stage"`
	RequestedDays int        `json:"requested_days"`
	Justification string     `json:"justification"`
	RequestedBy   string     `json:"requested_by"`
	Status        string     `json:"status"`
	DecidedBy     string     `json:"decided_by,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	DecisionNote  string     `json:"decision_note,omitempty"`
	GrantedDays   int        `json:"granted_days,omitempty"`
	NewDeadline   *time.Time `json:"new_deadline,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Version       int64      `json:"version"`
}

// ExtensionDecision is the decided request with the case it applied to.
type ExtensionDecision struct {
	Request  *Extension `json:"request"`
	Case     *Case      `json:"case"`
	Deadline Deadline   `json:"deadline"`
}

// CasesClient manages cases.
type CasesClient struct {
	client *Client
}

// Open registers a new case.  Requires an actor.
func (cc *CasesClient) Open(ctx context.Context, req *OpenCaseRequest) (*Case, error) {
	if req == nil || req.InvestigatorID == "" {
		return nil, errors.Validation("investigator_id is required")
	}
	var out Case
	if err := cc.client.post(ctx, "/api/v1/cases", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns a case.
func (cc *CasesClient) Get(ctx context.Context, caseID string) (*Case, error) {
	if caseID == "" {
		return nil, errors.Validation("case id is required")
	}
	var out Case
	if err := cc.client.get(ctx, "/api/v1/cases/"+escape(caseID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deadline returns the deadline of the case's current stage.
func (cc *CasesClient) Deadline(ctx context.Context, caseID string) (*Deadline, error) {
	if caseID == "" {
		return nil, errors.Validation("case id is required")
	}
	var out Deadline
	if err := cc.client.get(ctx, "/api/v1/cases/"+escape(caseID)+"/deadline", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition moves a case to another stage.  Requires an actor.
func (cc *CasesClient) Transition(ctx context.Context, caseID string, req *TransitionRequest) (*TransitionResult, error) {
	if caseID == "" {
		return nil, errors.Validation("case id is required")
	}
	if req == nil || req.Target == "" {
		return nil, errors.Validation("target stage is required")
	}
	var out TransitionResult
	if err := cc.client.post(ctx, "/api/v1/cases/"+escape(caseID)+"/transitions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestExtension files an extension request for the case's current
// stage.  Requires an actor.
func (cc *CasesClient) RequestExtension(ctx context.Context, caseID string, days int, justification string) (*Extension, error) {
	if caseID == "" {
		return nil, errors.Validation("case id is required")
	}
	if days < 1 {
		return nil, errors.Validation("days must be positive")
	}
	if justification == "" {
		return nil, errors.Validation("justification is required")
	}
	body := struct {
		Days          int    `json:"days"`
		Justification string `json:"justification"`
	}{days, justification}
	var out Extension
	if err := cc.client.post(ctx, "/api/v1/cases/"+escape(caseID)+"/extensions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtensionsClient reads and decides extension requests.
type ExtensionsClient struct {
	client *Client
}

// Get returns an extension request.
func (ec *ExtensionsClient) Get(ctx context.Context, extensionID string) (*Extension, error) {
	if extensionID == "" {
		return nil, errors.Validation("extension id is required")
	}
	var out Extension
	if err := ec.client.get(ctx, "/api/v1/extensions/"+escape(extensionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide approves or rejects a pending request.  The actor must hold an
// approving role for the case.
func (ec *ExtensionsClient) Decide(ctx context.Context, extensionID string, approve bool, note string) (*ExtensionDecision, error) {
	if extensionID == "" {
		return nil, errors.Validation("extension id is required")
	}
	body := struct {
		Approve bool   `json:"approve"`
		Note    string `json:"note,omitempty"`
	}{approve, note}
	var out ExtensionDecision
	if err := ec.client.post(ctx, "/api/v1/extensions/"+escape(extensionID)+"/decision", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
