// Package lifecycle orchestrates case mutations, deadline queries, extension
// decisions and alert scans over the lifecycle domain.  Each mutation reads a
// case version, applies a pure domain operation and writes back conditioned
// on that version; conflicts are returned to the caller, never retried here.
package lifecycle

import (
	"context"
	"time"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// AlertStateStore remembers the last alert level observed per case and
// stage so that scans only notify on change.
type AlertStateStore interface {
	// SwapLevel atomically stores level and returns the level it replaced;
	// known is false when none was stored.
	SwapLevel(ctx context.Context, caseID string, stage domain.ProcessStage, level domain.AlertLevel) (prev domain.AlertLevel, known bool, err error)
	// RevertLevel puts back what SwapLevel replaced if level is still stored.
	RevertLevel(ctx context.Context, caseID string, stage domain.ProcessStage, level, prev domain.AlertLevel, known bool) error
	// Invalidate drops all remembered levels for the case.
	Invalidate(ctx context.Context, caseID string) error
}

// RecipientFailure is a failed delivery to one recipient.
type RecipientFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// DispatchResult reports per-recipient delivery.
type DispatchResult struct {
	Delivered []string           `json:"delivered"`
	Failed    []RecipientFailure `json:"failed,omitempty"`
}

// NotificationDispatcher delivers alerts.  A non-nil error means nothing
// was delivered.
type NotificationDispatcher interface {
	Send(ctx context.Context, recipients []string, alert domain.DeadlineAlert) (DispatchResult, error)
}

// RoleDirectory resolves whether an actor may decide extension requests:
// admins, super admins and the case's assigned investigator.
type RoleDirectory interface {
	CanApproveExtension(ctx context.Context, actorID string, c *domain.Case) (bool, error)
}

// EventPublisher publishes domain events after a successful write.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev common.DomainEvent) error
}

// ScanLease grants one replica the right to run a scheduled scan.
type ScanLease interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Metrics receives lifecycle measurements.
type Metrics interface {
	RecordTransition(from, to domain.ProcessStage)
	RecordExtensionRequest(stage domain.ProcessStage)
	RecordExtensionDecision(status domain.ExtensionStatus)
	RecordAlert(level domain.AlertLevel)
	RecordDispatchFailure()
	ObserveScan(d time.Duration, cases, failures int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransition(_, _ domain.ProcessStage)      {}
func (nopMetrics) RecordExtensionRequest(domain.ProcessStage)     {}
func (nopMetrics) RecordExtensionDecision(domain.ExtensionStatus) {}
func (nopMetrics) RecordAlert(domain.AlertLevel)                  {}
func (nopMetrics) RecordDispatchFailure()                         {}
func (nopMetrics) ObserveScan(_ time.Duration, _ int, _ int)      {}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, common.DomainEvent) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

type options struct {
	events  EventPublisher
	metrics Metrics
	now     func() time.Time
}

func defaultOptions() options {
	return options{events: nopPublisher{}, metrics: nopMetrics{}, now: time.Now}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Option configures the services in this package.
type Option func(*options)

// WithEventPublisher publishes domain events after successful writes.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithMetrics records measurements on m.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
