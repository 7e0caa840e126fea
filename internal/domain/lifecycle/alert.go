package lifecycle

import "time"

// DeadlineAlert is derived from a case clock and a rule; it is never edited
// by hand and can be regenerated at any time.
type DeadlineAlert struct {
	CaseID        string       `json:"case_id"`
	Stage         ProcessStage `json:"stage"`
	Deadline      time.Time    `json:"deadline"`
	DaysRemaining int          `json:"days_remaining"`
	Level         AlertLevel   `json:"level"`
	Article       string       `json:"article,omitempty"`
	Recipients    []string     `json:"recipients,omitempty"`
	GeneratedAt   time.Time    `json:"generated_at"`
	// Delivered is set once at least one recipient accepted the alert.
	Delivered bool `json:"delivered,omitempty"`
}

// NewDeadlineAlert builds an alert from computed deadline info.
func NewDeadlineAlert(info DeadlineInfo, recipients []string, now time.Time) DeadlineAlert {
	return DeadlineAlert{
		CaseID:        info.CaseID,
		Stage:         info.Stage,
		Deadline:      info.Deadline,
		DaysRemaining: info.DaysRemaining,
		Level:         info.Level,
		Article:       info.Rule.Article,
		Recipients:    append([]string(nil), recipients...),
		GeneratedAt:   now.UTC(),
	}
}

// ShouldEmit reports whether an alert at current must be sent given the last
// level observed for the same case and stage.  known is false when nothing
// has been observed yet.
func ShouldEmit(current, last AlertLevel, known bool) bool {
	if !current.IsAlerting() {
		return false
	}
	return !known || current != last
}
