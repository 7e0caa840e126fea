package lifecycle

import (
	"time"

	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// Event types published after lifecycle mutations.
const (
	EventCaseOpened         = "karin.case.opened"
	EventStageChanged       = "karin.case.stage_changed"
	EventExtensionRequested = "karin.case.extension_requested"
	EventExtensionDecided   = "karin.case.extension_decided"
	EventDeadlineAlert      = "karin.deadline.alert"
)

type CaseOpenedEvent struct {
	common.BaseEvent
	Stage          ProcessStage `json:"stage"`
	InvestigatorID string       `json:"investigator_id,omitempty"`
	Version        int64        `json:"version"`
}

func NewCaseOpenedEvent(c *Case) *CaseOpenedEvent {
	return &CaseOpenedEvent{
		BaseEvent:      common.NewBaseEvent(EventCaseOpened, c.ID, c.CreatedAt),
		Stage:          c.CurrentStage,
		InvestigatorID: c.InvestigatorID,
		Version:        c.Version,
	}
}

type StageChangedEvent struct {
	common.BaseEvent
	From      ProcessStage `json:"from"`
	To        ProcessStage `json:"to"`
	Actor     string       `json:"actor,omitempty"`
	Dismissed bool         `json:"dismissed"`
	Version   int64        `json:"version"`
}

func NewStageChangedEvent(from ProcessStage, c *Case, actor string) *StageChangedEvent {
	return &StageChangedEvent{
		BaseEvent: common.NewBaseEvent(EventStageChanged, c.ID, c.StageEnteredAt),
		From:      from,
		To:        c.CurrentStage,
		Actor:     actor,
		Dismissed: c.Dismissed,
		Version:   c.Version,
	}
}

type ExtensionRequestedEvent struct {
	common.BaseEvent
	ExtensionID   string       `json:"extension_id"`
	Stage         ProcessStage `json:"stage"`
	RequestedDays int          `json:"requested_days"`
	RequestedBy   string       `json:"requested_by"`
}

func NewExtensionRequestedEvent(r *ExtensionRequest) *ExtensionRequestedEvent {
	return &ExtensionRequestedEvent{
		BaseEvent:     common.NewBaseEvent(EventExtensionRequested, r.CaseID, r.CreatedAt),
		ExtensionID:   r.ID,
		Stage:         r.Stage,
		RequestedDays: r.RequestedDays,
		RequestedBy:   r.RequestedBy,
	}
}

type ExtensionDecidedEvent struct {
	common.BaseEvent
	ExtensionID string          `json:"extension_id"`
	Stage       ProcessStage    `json:"stage"`
	Status      ExtensionStatus `json:"status"`
	GrantedDays int             `json:"granted_days"`
	DecidedBy   string          `json:"decided_by"`
	NewDeadline *time.Time      `json:"new_deadline,omitempty"`
}

func NewExtensionDecidedEvent(r *ExtensionRequest) *ExtensionDecidedEvent {
	at := r.CreatedAt
	if r.DecidedAt != nil {
		at = *r.DecidedAt
	}
	return &ExtensionDecidedEvent{
		BaseEvent:   common.NewBaseEvent(EventExtensionDecided, r.CaseID, at),
		ExtensionID: r.ID,
		Stage:       r.Stage,
		Status:      r.Status,
		GrantedDays: r.GrantedDays,
		DecidedBy:   r.DecidedBy,
		NewDeadline: r.NewDeadline,
	}
}

type DeadlineAlertEvent struct {
	common.BaseEvent
	DeadlineAlert
}

func NewDeadlineAlertEvent(a DeadlineAlert) *DeadlineAlertEvent {
	return &DeadlineAlertEvent{
		BaseEvent:     common.NewBaseEvent(EventDeadlineAlert, a.CaseID, a.GeneratedAt),
		DeadlineAlert: a,
	}
}
