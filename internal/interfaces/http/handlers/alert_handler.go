package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// AlertScanner runs deadline alert scans.
type AlertScanner interface {
	ScanActive(ctx context.Context) (*lifecycle.ScanReport, error)
	ScanCase(ctx context.Context, caseID string) (*lifecycle.ScanReport, error)
}

// AlertHandler triggers on-demand alert scans.
type AlertHandler struct {
	scanner AlertScanner
	logger  logging.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(scanner AlertScanner, logger logging.Logger) *AlertHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AlertHandler{scanner: scanner, logger: logger.Named("alert_handler")}
}

// Scan handles POST /api/v1/alerts/scan.  With ?case_id= only that case is
// evaluated.
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var (
		report *lifecycle.ScanReport
		err    error
	)
	if caseID := strings.TrimSpace(r.URL.Query().Get("case_id")); caseID != "" {
		report, err = h.scanner.ScanCase(r.Context(), caseID)
	} else {
		report, err = h.scanner.ScanActive(r.Context())
	}
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	h.logger.Info("on-demand scan finished",
		logging.Actor(actorFromRequest(r)),
		logging.Int("cases", report.ScannedCases),
		logging.Int("alerts", len(report.Alerts)))
	writeSuccess(w, r, http.StatusOK, report)
}
