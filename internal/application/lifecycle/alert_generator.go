package lifecycle

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// ---------------------------------------------------------------------------
// Report types
// ---------------------------------------------------------------------------

// CaseFailure is a case that could not be evaluated in a scan.
type CaseFailure struct {
	CaseID string `json:"case_id"`
	Error  string `json:"error"`
}

// DispatchFailure is an alert that did not reach one recipient.
type DispatchFailure struct {
	CaseID    string              `json:"case_id"`
	Stage     domain.ProcessStage `json:"stage"`
	Recipient string              `json:"recipient"`
	Error     string              `json:"error"`
}

// ScanReport summarizes one scan.  A failed case never aborts the scan.
// Alerts holds every alert the scan raised, delivered or not.
type ScanReport struct {
	StartedAt        time.Time              `json:"started_at"`
	Duration         time.Duration          `json:"duration"`
	ScannedCases     int                    `json:"scanned_cases"`
	SkippedClosed    int                    `json:"skipped_closed"`
	Alerts           []domain.DeadlineAlert `json:"alerts"`
	Failures         []CaseFailure          `json:"failures,omitempty"`
	DispatchFailures []DispatchFailure      `json:"dispatch_failures,omitempty"`
}

// ---------------------------------------------------------------------------
// AlertGenerator
// ---------------------------------------------------------------------------

// AlertGeneratorConfig tunes scans.
type AlertGeneratorConfig struct {
	// Concurrency bounds the number of cases evaluated at once.
	Concurrency int `mapstructure:"scan_concurrency" yaml:"scan_concurrency"`
	// LeaseTTL is how long a scheduled scan holds the scan lease.
	LeaseTTL time.Duration `mapstructure:"scan_lease_ttl" yaml:"scan_lease_ttl"`
}

const (
	defaultScanConcurrency = 8
	defaultLeaseTTL        = 5 * time.Minute
)

// AlertGenerator evaluates active cases against their deadlines and
// dispatches an alert whenever a case's level changes into an alerting one.
// Every case in a scan is evaluated at the same instant.
type AlertGenerator struct {
	store      domain.CaseStore
	calc       *domain.DeadlineCalculator
	state      AlertStateStore
	dispatcher NotificationDispatcher
	lease      ScanLease
	cfg        AlertGeneratorConfig
	opts       options
	logger     logging.Logger
}

// NewAlertGenerator constructs an AlertGenerator.  lease may be nil, in
// which case scheduled scans always run.
func NewAlertGenerator(
	store domain.CaseStore,
	calc *domain.DeadlineCalculator,
	state AlertStateStore,
	dispatcher NotificationDispatcher,
	lease ScanLease,
	cfg AlertGeneratorConfig,
	logger logging.Logger,
	opts ...Option,
) *AlertGenerator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultScanConcurrency
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AlertGenerator{
		store:      store,
		calc:       calc,
		state:      state,
		dispatcher: dispatcher,
		lease:      lease,
		cfg:        cfg,
		opts:       buildOptions(opts),
		logger:     logger.Named("alert_generator"),
	}
}

// caseOutcome is the per-case result slot written by exactly one goroutine.
type caseOutcome struct {
	skipped    bool
	alert      *domain.DeadlineAlert
	failure    *CaseFailure
	dispatches []DispatchFailure
}

// Scan evaluates cases.  Closed cases are skipped.  Results are reported in
// input order regardless of evaluation order.
func (g *AlertGenerator) Scan(ctx context.Context, cases []*domain.Case) (*ScanReport, error) {
	started := g.opts.now()
	now := started

	outcomes := make([]caseOutcome, len(cases))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, c := range cases {
		i, c := i, c
		eg.Go(func() error {
			outcomes[i] = g.evaluate(egCtx, c, now)
			return nil
		})
	}
	_ = eg.Wait()

	report := &ScanReport{StartedAt: started.UTC(), Alerts: []domain.DeadlineAlert{}}
	for _, o := range outcomes {
		switch {
		case o.skipped:
			report.SkippedClosed++
			continue
		case o.failure != nil:
			report.Failures = append(report.Failures, *o.failure)
		}
		report.ScannedCases++
		if o.alert != nil {
			report.Alerts = append(report.Alerts, *o.alert)
		}
		report.DispatchFailures = append(report.DispatchFailures, o.dispatches...)
	}
	report.Duration = g.opts.now().Sub(started)
	g.opts.metrics.ObserveScan(report.Duration, report.ScannedCases, len(report.Failures))

	g.logger.Info("alert scan finished",
		logging.Int("scanned", report.ScannedCases),
		logging.Int("alerts", len(report.Alerts)),
		logging.Int("failures", len(report.Failures)),
		logging.Int("dispatch_failures", len(report.DispatchFailures)),
		logging.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, errors.ErrCodeTimeout, "alert scan interrupted")
	}
	return report, nil
}

// ScanActive scans every case that is not closed.
func (g *AlertGenerator) ScanActive(ctx context.Context) (*ScanReport, error) {
	cases, err := g.store.ListActiveCases(ctx)
	if err != nil {
		return nil, err
	}
	return g.Scan(ctx, cases)
}

// ScanCase scans a single case, typically right after a case event.
func (g *AlertGenerator) ScanCase(ctx context.Context, caseID string) (*ScanReport, error) {
	c, err := g.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return g.Scan(ctx, []*domain.Case{c})
}

// ScheduledScan runs ScanActive when this replica obtains the scan lease.
// Losing the lease race is not an error.
func (g *AlertGenerator) ScheduledScan(ctx context.Context) error {
	if g.lease != nil {
		release, ok, err := g.lease.TryAcquire(ctx, g.cfg.LeaseTTL)
		if err != nil {
			return err
		}
		if !ok {
			g.logger.Debug("scan lease held elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				g.logger.Warn("scan lease release failed", logging.Err(err))
			}
		}()
	}
	_, err := g.ScanActive(ctx)
	return err
}

func (g *AlertGenerator) evaluate(ctx context.Context, c *domain.Case, now time.Time) caseOutcome {
	if c == nil || c.IsClosed() {
		return caseOutcome{skipped: true}
	}
	fail := func(err error) caseOutcome {
		g.logger.Warn("case evaluation failed", logging.CaseID(c.ID), logging.Err(err))
		return caseOutcome{failure: &CaseFailure{CaseID: c.ID, Error: err.Error()}}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	info, err := g.calc.Compute(c, now)
	if err != nil {
		return fail(err)
	}
	if !info.HasDeadline {
		return caseOutcome{}
	}

	// Claiming the level before dispatch keeps concurrent scans of the same
	// case from both announcing one change.
	last, known, err := g.state.SwapLevel(ctx, c.ID, info.Stage, info.Level)
	if err != nil {
		return fail(err)
	}
	if !domain.ShouldEmit(info.Level, last, known) {
		return caseOutcome{}
	}

	alert := domain.NewDeadlineAlert(info, recipientsFor(c), now)
	out := caseOutcome{alert: &alert}
	res, err := g.dispatcher.Send(ctx, alert.Recipients, alert)
	if err != nil {
		for _, r := range alert.Recipients {
			out.dispatches = append(out.dispatches, DispatchFailure{
				CaseID: c.ID, Stage: info.Stage, Recipient: r, Error: err.Error(),
			})
		}
	} else {
		for _, f := range res.Failed {
			out.dispatches = append(out.dispatches, DispatchFailure{
				CaseID: c.ID, Stage: info.Stage, Recipient: f.Recipient, Error: f.Error,
			})
		}
	}
	for range out.dispatches {
		g.opts.metrics.RecordDispatchFailure()
	}
	if err != nil || len(res.Delivered) == 0 {
		g.logger.Warn("alert not delivered to any recipient",
			logging.CaseID(c.ID), logging.Stage(info.Stage.String()), logging.Err(err))
		// Nobody was told, so the next scan must see the change again.
		if err := g.state.RevertLevel(ctx, c.ID, info.Stage, info.Level, last, known); err != nil {
			g.logger.Warn("alert level not reverted", logging.CaseID(c.ID), logging.Err(err))
		}
		return out
	}

	alert.Delivered = true
	g.opts.metrics.RecordAlert(info.Level)
	publish(ctx, g.logger, g.opts.events, domain.NewDeadlineAlertEvent(alert))
	return out
}

// recipientsFor falls back to the assigned investigator when a case has no
// explicit recipients.
func recipientsFor(c *domain.Case) []string {
	if len(c.AlertRecipients) > 0 {
		return c.AlertRecipients
	}
	if c.InvestigatorID != "" {
		return []string{c.InvestigatorID}
	}
	return nil
}
