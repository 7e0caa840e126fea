// Package risk runs the unified risk analysis: offense matching, the 5x5
// risk matrix and the optional AI signal, merged into one explained result.
// The AI path degrades to a compliance-only result; it never fails an
// analysis.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
	"github.com/turtacn/karin-compliance/pkg/validation"
)

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// SignalRequest is what the AI scorer receives.
type SignalRequest struct {
	CaseID    string            `json:"case_id,omitempty"`
	Narrative string            `json:"narrative"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SignalSource produces an AI signal.  Errors and timeouts are treated as
// unavailability.
type SignalSource interface {
	Score(ctx context.Context, req SignalRequest) (*compliance.AISignal, error)
}

// AuditArchive stores every result for later review and returns its key.
type AuditArchive interface {
	StoreEvaluation(ctx context.Context, result compliance.UnifiedRiskResult) (string, error)
}

// EventPublisher publishes the risk.evaluated event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev common.DomainEvent) error
}

// Metrics receives analysis measurements.
type Metrics interface {
	ObserveAnalysis(d time.Duration, level compliance.RiskLevel, degraded bool)
	RecordSignalFallback(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAnalysis(time.Duration, compliance.RiskLevel, bool) {}
func (nopMetrics) RecordSignalFallback(string)                               {}

// Fallback reasons reported to metrics.
const (
	FallbackNoSource      = "no_source"
	FallbackUnavailable   = "unavailable"
	FallbackTimeout       = "timeout"
	FallbackInvalidSignal = "invalid_signal"
	FallbackLowConfidence = "low_confidence"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

// AnalyzeInput requests a unified analysis.  Probability and impact are
// estimated from Attributes when omitted.  A caller-supplied AISignal is
// used instead of querying the signal source.
type AnalyzeInput struct {
	CaseID      string                    `json:"case_id,omitempty"`
	Narrative   string                    `json:"narrative" validate:"required"`
	Probability *int                      `json:"probability,omitempty" validate:"omitempty,min=1,max=5"`
	Impact      *int                      `json:"impact,omitempty" validate:"omitempty,min=1,max=5"`
	Attributes  compliance.CaseAttributes `json:"attributes"`
	Metadata    map[string]string         `json:"metadata,omitempty"`
	AISignal    *compliance.AISignal      `json:"ai_signal,omitempty"`
}

// Config tunes the service.
type Config struct {
	Weights         compliance.Weights
	MinAIConfidence float64
	AITimeout       time.Duration
}

// DefaultConfig mirrors the engine configuration defaults.
func DefaultConfig() Config {
	return Config{Weights: compliance.DefaultWeights(), MinAIConfidence: 0.3, AITimeout: 3 * time.Second}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service runs analyses.  It holds only read-only reference data and is safe
// for concurrent use.
type Service struct {
	matcher   *compliance.Matcher
	estimator compliance.Estimator
	scorer    *compliance.Scorer
	source    SignalSource
	archive   AuditArchive
	events    EventPublisher
	metrics   Metrics
	cfg       Config
	now       func() time.Time
	logger    logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSignalSource enables the AI path.
func WithSignalSource(src SignalSource) Option { return func(s *Service) { s.source = src } }

// WithAuditArchive stores every result.
func WithAuditArchive(a AuditArchive) Option { return func(s *Service) { s.archive = a } }

// WithEventPublisher publishes a risk.evaluated event per analysis.
func WithEventPublisher(p EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithMetrics records measurements on m.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEstimator replaces the default probability/impact heuristic.
func WithEstimator(e compliance.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service over matcher.  Invalid weights or confidence
// are a ValidationError.
func NewService(matcher *compliance.Matcher, cfg Config, logger logging.Logger, opts ...Option) (*Service, error) {
	if matcher == nil {
		return nil, errors.Validation("matcher must not be nil")
	}
	scorer, err := compliance.NewScorer(cfg.Weights, cfg.MinAIConfidence)
	if err != nil {
		return nil, err
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = DefaultConfig().AITimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Service{
		matcher:   matcher,
		estimator: compliance.DefaultEstimator{},
		scorer:    scorer,
		metrics:   nopMetrics{},
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("risk_service"),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s, nil
}

// Catalog returns the catalogue the service matches against.
func (s *Service) Catalog() *compliance.Catalog { return s.matcher.Catalog() }

// Evaluate runs the deterministic compliance path only.
func (s *Service) Evaluate(in AnalyzeInput) (compliance.ComplianceEvaluation, error) {
	if err := validation.Struct(in); err != nil {
		return compliance.ComplianceEvaluation{}, err
	}
	return s.evaluate(in)
}

// Analyze matches, evaluates and merges with the AI signal when one is
// available.  Only malformed input fails the call.
func (s *Service) Analyze(ctx context.Context, in AnalyzeInput) (*compliance.UnifiedRiskResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.AISignal != nil {
		if err := in.AISignal.Validate(); err != nil {
			return nil, err
		}
	}
	started := s.now()

	eval, err := s.evaluate(in)
	if err != nil {
		return nil, err
	}
	signal, reason := s.signal(ctx, in)

	res, err := s.scorer.Merge(eval, signal, reason)
	if err != nil {
		return nil, err
	}
	if res.Degraded() && signal != nil {
		s.metrics.RecordSignalFallback(FallbackLowConfidence)
	}
	finished := s.now()
	res.CaseID = in.CaseID
	res.EvaluatedAt = finished.UTC()
	res.ProcessingTimeMs = finished.Sub(started).Milliseconds()

	s.record(ctx, res)
	s.metrics.ObserveAnalysis(finished.Sub(started), res.UnifiedLevel, res.Degraded())
	s.logger.Info("risk analysis finished",
		logging.AnalysisID(res.AnalysisID),
		logging.CaseID(res.CaseID),
		logging.String("level", string(res.UnifiedLevel)),
		logging.Float64("score", res.UnifiedScore),
		logging.Bool("degraded", res.Degraded()),
		logging.Int("matches", len(res.ComplianceEvaluation.MatchedOffenses)))
	return &res, nil
}

func (s *Service) evaluate(in AnalyzeInput) (compliance.ComplianceEvaluation, error) {
	matches := s.matcher.Match(in.Narrative)

	estimatedBy := "caller"
	p, i := 0, 0
	if in.Probability == nil || in.Impact == nil {
		p, i = s.estimator.Estimate(in.Attributes, matches)
		estimatedBy = s.estimator.Name()
		if in.Probability != nil || in.Impact != nil {
			estimatedBy = "caller+" + estimatedBy
		}
	}
	if in.Probability != nil {
		p = *in.Probability
	}
	if in.Impact != nil {
		i = *in.Impact
	}

	eval, err := compliance.Evaluate(matches, p, i)
	if err != nil {
		return compliance.ComplianceEvaluation{}, err
	}
	eval.EstimatedBy = estimatedBy
	return eval, nil
}

// signal returns the AI signal to merge, or nil and the reason it is
// unavailable.
func (s *Service) signal(ctx context.Context, in AnalyzeInput) (*compliance.AISignal, string) {
	if in.AISignal != nil {
		sig := *in.AISignal
		return &sig, ""
	}
	if s.source == nil {
		s.metrics.RecordSignalFallback(FallbackNoSource)
		return nil, ""
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.AITimeout)
	defer cancel()
	sig, err := s.source.Score(sctx, SignalRequest{CaseID: in.CaseID, Narrative: in.Narrative, Metadata: in.Metadata})
	switch {
	case err != nil && sctx.Err() == context.DeadlineExceeded:
		s.metrics.RecordSignalFallback(FallbackTimeout)
		s.logger.Warn("ai signal timed out", logging.CaseID(in.CaseID), logging.Duration("timeout", s.cfg.AITimeout))
		return nil, fmt.Sprintf("signal source timed out after %s", s.cfg.AITimeout)
	case err != nil:
		s.metrics.RecordSignalFallback(FallbackUnavailable)
		s.logger.Warn("ai signal unavailable", logging.CaseID(in.CaseID), logging.Err(err))
		return nil, "signal source unavailable"
	case sig == nil:
		s.metrics.RecordSignalFallback(FallbackUnavailable)
		return nil, "signal source returned no signal"
	}
	if err := sig.Validate(); err != nil {
		s.metrics.RecordSignalFallback(FallbackInvalidSignal)
		s.logger.Warn("ai signal rejected", logging.CaseID(in.CaseID), logging.Err(err))
		return nil, "signal source returned an invalid signal"
	}
	return sig, ""
}

// record archives and publishes the result.  Both are best effort.
func (s *Service) record(ctx context.Context, res compliance.UnifiedRiskResult) {
	if s.archive != nil {
		key, err := s.archive.StoreEvaluation(ctx, res)
		if err != nil {
			s.logger.Warn("evaluation archive failed", logging.AnalysisID(res.AnalysisID), logging.Err(err))
		} else {
			s.logger.Debug("evaluation archived", logging.AnalysisID(res.AnalysisID), logging.String("key", key))
		}
	}
	if s.events != nil {
		if err := s.events.PublishEvent(ctx, compliance.NewRiskEvaluatedEvent(res)); err != nil {
			s.logger.Warn("event publish failed", logging.AnalysisID(res.AnalysisID), logging.Err(err))
		}
	}
}
