package client

import (
	"context"
	"net/url"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// Alert is one deadline warning produced by a scan.
type Alert struct {
	CaseID        string    `json:"case_id"`
	Stage         string    `json:"stage"`
	Deadline      time.Time `json:"deadline"`
	DaysRemaining int       `json:"days_remaining"`
	Level         string    `json:"level"`
	Article       string    `json:"article,omitempty"`
	Recipients    []string  `json:"recipients,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
	Delivered     bool      `json:"delivered,omitempty"`
}

// ScanReport summarizes one alert scan.
type ScanReport struct {
	StartedAt        time.Time           `json:"started_at"`
	Duration         time.Duration       `json:"duration"`
	ScannedCases     int                 `json:"scanned_cases"`
	SkippedClosed    int                 `json:"skipped_closed"`
	Alerts           []Alert             `json:"alerts"`
	Failures         []ScanFailure       `json:"failures,omitempty"`
	DispatchFailures []ScanDispatchError `json:"dispatch_failures,omitempty"`
}

// ScanFailure is a case the scan could not evaluate.
type ScanFailure struct {
	CaseID string `json:"case_id"`
	Error  string `json:"error"`
}

// ScanDispatchError is a recipient an alert could not be delivered to.
type ScanDispatchError struct {
	CaseID    string `json:"case_id"`
	Stage     string `json:"stage"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// AlertsClient triggers deadline scans.
type AlertsClient struct {
	client *Client
}

// Scan evaluates every active case.  Requires an actor allowed to scan.
func (ac *AlertsClient) Scan(ctx context.Context) (*ScanReport, error) {
	return ac.scan(ctx, "/api/v1/alerts/scan")
}

// ScanCase evaluates a single case.
func (ac *AlertsClient) ScanCase(ctx context.Context, caseID string) (*ScanReport, error) {
	if caseID == "" {
		return nil, errors.Validation("case id is required")
	}
	return ac.scan(ctx, "/api/v1/alerts/scan?case_id="+url.QueryEscape(caseID))
}

func (ac *AlertsClient) scan(ctx context.Context, path string) (*ScanReport, error) {
	var out ScanReport
	if err := ac.client.post(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
