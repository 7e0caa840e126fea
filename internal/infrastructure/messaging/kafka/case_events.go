package kafka

import (
	"context"

	applifecycle "github.com/turtacn/karin-compliance/internal/application/lifecycle"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// CaseScanner evaluates the deadline alerts of one case.
type CaseScanner interface {
	ScanCase(ctx context.Context, caseID string) (*applifecycle.ScanReport, error)
}

// scanTriggers are the case events after which a deadline may have moved.
var scanTriggers = map[string]bool{
	domain.EventCaseOpened:       true,
	domain.EventStageChanged:     true,
	domain.EventExtensionDecided: true,
}

// NewCaseEventHandler returns a handler that rescans the case named by a
// case event.  Other event types and closed or missing cases are skipped.
func NewCaseEventHandler(scanner CaseScanner, log logging.Logger) Handler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("case_events")
	return func(ctx context.Context, msg *common.ConsumerMessage) error {
		env, err := MessageToEventEnvelope(msg)
		if err != nil {
			log.Warn("Dropping undecodable case event", logging.Int64("offset", msg.Offset), logging.Err(err))
			return nil
		}
		if !scanTriggers[env.EventType] {
			return nil
		}
		caseID := env.AggregateID
		if caseID == "" {
			caseID = string(msg.Key)
		}
		if caseID == "" {
			log.Warn("Case event without case id", logging.String("event_type", env.EventType))
			return nil
		}

		report, err := scanner.ScanCase(ctx, caseID)
		if err != nil {
			if errors.IsNotFound(err) {
				log.Warn("Case event for unknown case", logging.CaseID(caseID))
				return nil
			}
			return err
		}
		log.Debug("On-demand scan finished",
			logging.CaseID(caseID),
			logging.String("event_type", env.EventType),
			logging.Int("alerts", len(report.Alerts)))
		return nil
	}
}
