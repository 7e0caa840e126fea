package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// StageEntry records one stay in a stage.  ExitedAt is nil for the open
// entry of the current stage.
type StageEntry struct {
	Stage     ProcessStage `json:"stage"`
	EnteredAt time.Time    `json:"entered_at"`
	ExitedAt  *time.Time   `json:"exited_at,omitempty"`
	Actor     string       `json:"actor,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// CaseClock is the timing state of a case.  The case is always in exactly
// one stage and History is non-decreasing in time.
type CaseClock struct {
	CurrentStage          ProcessStage `json:"current_stage"`
	StageEnteredAt        time.Time    `json:"stage_entered_at"`
	ApprovedExtensionDays int          `json:"approved_extension_days"`
	History               []StageEntry `json:"history"`
}

// Case is the aggregate root.  It exclusively owns its clock; extension
// requests reference it by ID.
type Case struct {
	ID              string   `json:"id"`
	Reference       string   `json:"reference,omitempty"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	InvestigatorID  string   `json:"investigator_id,omitempty"`
	AlertRecipients []string `json:"alert_recipients,omitempty"`

	CaseClock

	Dismissed       bool   `json:"dismissed"`
	DismissalReason string `json:"dismissal_reason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenCaseParams describes a new case at intake.
type OpenCaseParams struct {
	ID              string
	Reference       string
	OrganizationID  string
	InvestigatorID  string
	AlertRecipients []string
	// Stage is optional; imports may start a case at a later stage.
	Stage    ProcessStage
	OpenedAt time.Time
	Actor    string
}

// NewCase opens a case at its initial stage with an open history entry.
func NewCase(p OpenCaseParams) (*Case, error) {
	if p.OpenedAt.IsZero() {
		return nil, errors.Validation("opened_at must not be zero")
	}
	stage := p.Stage
	if stage == "" {
		stage = StageComplaintFiled
	}
	if !stage.IsValid() {
		return nil, errors.Validation("unknown process stage").WithDetail(string(stage))
	}
	if stage.IsTerminal() {
		return nil, errors.Validation("a case cannot be opened closed")
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.New().String()
	}
	at := p.OpenedAt.UTC()
	return &Case{
		ID:              id,
		Reference:       p.Reference,
		OrganizationID:  p.OrganizationID,
		InvestigatorID:  p.InvestigatorID,
		AlertRecipients: dedupe(p.AlertRecipients),
		CaseClock: CaseClock{
			CurrentStage:   stage,
			StageEnteredAt: at,
			History:        []StageEntry{{Stage: stage, EnteredAt: at, Actor: p.Actor}},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}

// IsClosed reports whether the case reached the terminal stage.
func (c *Case) IsClosed() bool { return c.CurrentStage.IsTerminal() }

// HasVisited reports whether the case has ever been in stage.
func (c *Case) HasVisited(stage ProcessStage) bool {
	for _, h := range c.History {
		if h.Stage == stage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that engine operations never mutate the
// caller's snapshot.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.AlertRecipients = append([]string(nil), c.AlertRecipients...)
	out.History = make([]StageEntry, len(c.History))
	for i, h := range c.History {
		out.History[i] = h
		if h.ExitedAt != nil {
			t := *h.ExitedAt
			out.History[i].ExitedAt = &t
		}
	}
	return &out
}

// Validate checks the clock invariants against the rule table.
func (c *Case) Validate(rules *RuleTable) error {
	if c.ID == "" {
		return errors.Validation("case id must not be empty")
	}
	rule, err := rules.Rule(c.CurrentStage)
	if err != nil {
		return err
	}
	if c.ApprovedExtensionDays < 0 || c.ApprovedExtensionDays > rule.MaxExtensionDays {
		return errors.Validation("approved extension days out of range").WithDetail(c.ID)
	}
	if len(c.History) == 0 {
		return errors.Validation("case history is empty").WithDetail(c.ID)
	}
	var prev time.Time
	for i, h := range c.History {
		if h.EnteredAt.Before(prev) {
			return errors.Validation("case history is not ordered").WithDetail(c.ID)
		}
		last := i == len(c.History)-1
		switch {
		case last && h.ExitedAt != nil:
			return errors.Validation("current stage entry is closed").WithDetail(c.ID)
		case !last && h.ExitedAt == nil:
			return errors.Validation("past stage entry is open").WithDetail(c.ID)
		case h.ExitedAt != nil && h.ExitedAt.Before(h.EnteredAt):
			return errors.Validation("stage entry exits before it enters").WithDetail(c.ID)
		}
		prev = h.EnteredAt
		if h.ExitedAt != nil {
			prev = *h.ExitedAt
		}
	}
	if cur := c.History[len(c.History)-1]; cur.Stage != c.CurrentStage || !cur.EnteredAt.Equal(c.StageEnteredAt) {
		return errors.Validation("history does not match current stage").WithDetail(c.ID)
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
