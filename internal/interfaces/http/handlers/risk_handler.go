package handlers

import (
	"context"
	"net/http"

	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// RiskAnalyzer runs a unified risk analysis.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, in risk.AnalyzeInput) (*compliance.UnifiedRiskResult, error)
}

// RiskHandler serves risk analyses.
type RiskHandler struct {
	analyzer    RiskAnalyzer
	maxBodySize int64
	logger      logging.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(analyzer RiskAnalyzer, maxBodySize int64, logger logging.Logger) *RiskHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RiskHandler{analyzer: analyzer, maxBodySize: maxBodySize, logger: logger.Named("risk_handler")}
}

// Analyze handles POST /api/v1/risk/analyze
func (h *RiskHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var in risk.AnalyzeInput
	if err := decodeJSON(w, r, h.maxBodySize, &in); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.analyzer.Analyze(r.Context(), in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}
