package cli

import (
	"context"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres"
	"github.com/turtacn/karin-compliance/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/infrastructure/storage/minio"
	"github.com/turtacn/karin-compliance/pkg/client"
)

// MigrationRunner applies and inspects schema migrations.
type MigrationRunner interface {
	Up() error
	Down(steps int) error
	Status() (postgres.MigrationState, error)
	Force(version int) error
}

// TopicAdmin creates and lists Kafka topics.
type TopicAdmin interface {
	EnsureTopics(ctx context.Context, specs []kafka.TopicSpec) error
	ListTopics(ctx context.Context) ([]string, error)
	Close() error
}

// EvaluationReader reads archived risk evaluations.
type EvaluationReader interface {
	ListEvaluations(ctx context.Context, caseID string) ([]string, error)
	GetEvaluation(ctx context.Context, caseID, analysisID string) (*compliance.UnifiedRiskResult, error)
}

// Dependencies builds the infrastructure the admin and case commands use.
// Nil fields are replaced by the production constructors.
type Dependencies struct {
	Migrator func(cfg *config.Config) MigrationRunner
	Topics   func(cfg *config.Config, log logging.Logger) (TopicAdmin, error)
	Archive  func(cfg *config.Config, log logging.Logger) (EvaluationReader, error)
	Client   func(cc *CLIContext) (*client.Client, error)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Migrator == nil {
		d.Migrator = func(cfg *config.Config) MigrationRunner {
			return postgres.NewMigrator(postgres.DSN(cfg.Database), cfg.Database.MigrationPath)
		}
	}
	if d.Topics == nil {
		d.Topics = func(cfg *config.Config, log logging.Logger) (TopicAdmin, error) {
			return kafka.NewTopicManager(cfg.Kafka.Brokers, log)
		}
	}
	if d.Archive == nil {
		d.Archive = func(cfg *config.Config, log logging.Logger) (EvaluationReader, error) {
			mc, err := minio.NewClient(cfg.MinIO, log)
			if err != nil {
				return nil, err
			}
			return minio.NewEvaluationArchive(mc), nil
		}
	}
	if d.Client == nil {
		d.Client = func(cc *CLIContext) (*client.Client, error) {
			return client.NewClient(cc.ServerAddr,
				client.WithActor(cc.Actor),
				client.WithUserAgent("karinctl/"+Version),
			)
		}
	}
	return d
}
