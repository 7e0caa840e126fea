// Package repositories holds the PostgreSQL implementations of the domain
// stores.
package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	pendingExtensionIndex = "uq_extension_requests_pending"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CaseRepository is the PostgreSQL CaseStore.  Every write on cases and
// extension_requests is conditioned on the row's version column.
type CaseRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ lifecycle.CaseStore = (*CaseRepository)(nil)

// NewCaseRepository constructs a ready-to-use CaseRepository.
func NewCaseRepository(pool *pgxpool.Pool, logger logging.Logger) *CaseRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CaseRepository{pool: pool, logger: logger.Named("case_repository")}
}

func (r *CaseRepository) executor(ctx context.Context) querier {
	if tx, ok := postgres.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

// ─────────────────────────────────────────────────────────────────────────────
// Cases
// ─────────────────────────────────────────────────────────────────────────────

const caseColumns = `id, reference, organization_id, investigator_id, alert_recipients,
	current_stage, stage_entered_at, approved_extension_days, history,
	dismissed, dismissal_reason, version, created_at, updated_at`

// GetCase loads a case by ID.
func (r *CaseRepository) GetCase(ctx context.Context, id string) (*lifecycle.Case, error) {
	row := r.executor(ctx).QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, caseNotFound(id)
		}
		r.logger.Error("GetCase: scan", logging.CaseID(id), logging.Err(err))
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load case")
	}
	return c, nil
}

// CreateCase inserts c at version 1.
func (r *CaseRepository) CreateCase(ctx context.Context, c *lifecycle.Case) error {
	history, err := json.Marshal(c.History)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode case history")
	}
	_, err = r.executor(ctx).Exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13)`,
		c.ID, c.Reference, c.OrganizationID, c.InvestigatorID, recipients(c.AlertRecipients),
		string(c.CurrentStage), c.StageEnteredAt, c.ApprovedExtensionDays, history,
		c.Dismissed, c.DismissalReason, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return errors.New(errors.ErrCodeConflict, "case already exists").WithDetail(c.ID)
		}
		r.logger.Error("CreateCase: insert", logging.CaseID(c.ID), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert case")
	}
	c.Version = 1
	return nil
}

// UpdateCase writes c when the stored version equals expectedVersion.
func (r *CaseRepository) UpdateCase(ctx context.Context, c *lifecycle.Case, expectedVersion int64) error {
	if err := r.updateCase(ctx, r.executor(ctx), c, expectedVersion); err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

func (r *CaseRepository) updateCase(ctx context.Context, q querier, c *lifecycle.Case, expectedVersion int64) error {
	history, err := json.Marshal(c.History)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode case history")
	}
	tag, err := q.Exec(ctx, `
		UPDATE cases SET
			reference = $3, organization_id = $4, investigator_id = $5, alert_recipients = $6,
			current_stage = $7, stage_entered_at = $8, approved_extension_days = $9, history = $10,
			dismissed = $11, dismissal_reason = $12, updated_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		c.ID, expectedVersion,
		c.Reference, c.OrganizationID, c.InvestigatorID, recipients(c.AlertRecipients),
		string(c.CurrentStage), c.StageEnteredAt, c.ApprovedExtensionDays, history,
		c.Dismissed, c.DismissalReason, c.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("UpdateCase: update", logging.CaseID(c.ID), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update case")
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, q, "cases", c.ID, caseNotFound(c.ID),
			errors.ConcurrencyConflict("case version changed").WithDetail(c.ID))
	}
	return nil
}

// ListActiveCases returns every case that is not closed, oldest stage entry
// first.
func (r *CaseRepository) ListActiveCases(ctx context.Context) ([]*lifecycle.Case, error) {
	rows, err := r.executor(ctx).Query(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE current_stage <> $1
		ORDER BY stage_entered_at ASC, id ASC`, string(lifecycle.StageClosed))
	if err != nil {
		r.logger.Error("ListActiveCases: query", logging.Err(err))
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list active cases")
	}
	defer rows.Close()

	var out []*lifecycle.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan case row")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate case rows")
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Extension requests
// ─────────────────────────────────────────────────────────────────────────────

const extensionColumns = `id, case_id, stage, requested_days, justification, requested_by,
	status, decided_by, decided_at, decision_note, granted_days, new_deadline,
	created_at, version`

// CreateExtension inserts a pending request at version 1.  The partial unique
// index on pending requests turns a duplicate into ExtensionAlreadyPending.
func (r *CaseRepository) CreateExtension(ctx context.Context, req *lifecycle.ExtensionRequest) error {
	_, err := r.executor(ctx).Exec(ctx, `
		INSERT INTO extension_requests (`+extensionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)`,
		req.ID, req.CaseID, string(req.Stage), req.RequestedDays, req.Justification, req.RequestedBy,
		string(req.Status), req.DecidedBy, req.DecidedAt, req.DecisionNote, req.GrantedDays, req.NewDeadline,
		req.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == pendingExtensionIndex:
				return errors.New(errors.ErrCodeExtensionAlreadyPending, "extension already pending").WithDetail(req.CaseID)
			case pgErr.Code == pgUniqueViolation:
				return errors.New(errors.ErrCodeConflict, "extension request already exists").WithDetail(req.ID)
			case pgErr.Code == pgForeignKeyViolation:
				return caseNotFound(req.CaseID)
			}
		}
		r.logger.Error("CreateExtension: insert", logging.ExtensionID(req.ID), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert extension request")
	}
	req.Version = 1
	return nil
}

// GetExtension loads an extension request by ID.
func (r *CaseRepository) GetExtension(ctx context.Context, id string) (*lifecycle.ExtensionRequest, error) {
	row := r.executor(ctx).QueryRow(ctx, `SELECT `+extensionColumns+` FROM extension_requests WHERE id = $1`, id)
	req, err := scanExtension(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, extensionNotFound(id)
		}
		r.logger.Error("GetExtension: scan", logging.ExtensionID(id), logging.Err(err))
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load extension request")
	}
	return req, nil
}

// FindPendingExtension returns the pending request for the case and stage,
// or nil when there is none.
func (r *CaseRepository) FindPendingExtension(ctx context.Context, caseID string, stage lifecycle.ProcessStage) (*lifecycle.ExtensionRequest, error) {
	row := r.executor(ctx).QueryRow(ctx, `
		SELECT `+extensionColumns+` FROM extension_requests
		WHERE case_id = $1 AND stage = $2 AND status = $3`,
		caseID, string(stage), string(lifecycle.ExtensionPending))
	req, err := scanExtension(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load pending extension request")
	}
	return req, nil
}

// SaveExtensionDecision writes the decided request, and the case when c is
// not nil, in one transaction.  Versions on the arguments are bumped only
// after the commit succeeds.
func (r *CaseRepository) SaveExtensionDecision(ctx context.Context, c *lifecycle.Case, expectedCaseVersion int64, req *lifecycle.ExtensionRequest, expectedRequestVersion int64) error {
	err := postgres.WithTransaction(ctx, r.pool, func(tx pgx.Tx, txCtx context.Context) error {
		if c != nil {
			if err := r.updateCase(txCtx, tx, c, expectedCaseVersion); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(txCtx, `
			UPDATE extension_requests SET
				status = $3, decided_by = $4, decided_at = $5, decision_note = $6,
				granted_days = $7, new_deadline = $8, version = version + 1
			WHERE id = $1 AND version = $2`,
			req.ID, expectedRequestVersion,
			string(req.Status), req.DecidedBy, req.DecidedAt, req.DecisionNote,
			req.GrantedDays, req.NewDeadline,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update extension request")
		}
		if tag.RowsAffected() == 0 {
			return r.missOrConflict(txCtx, tx, "extension_requests", req.ID, extensionNotFound(req.ID),
				errors.ConcurrencyConflict("extension request version changed").WithDetail(req.ID))
		}
		return nil
	})
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeDatabaseError {
			r.logger.Error("SaveExtensionDecision", logging.ExtensionID(req.ID), logging.Err(err))
		}
		return err
	}
	if c != nil {
		c.Version = expectedCaseVersion + 1
	}
	req.Version = expectedRequestVersion + 1
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// missOrConflict tells a missing row apart from a version mismatch after a
// conditional update touched nothing.  table is one of the two fixed names
// above, never caller input.
func (r *CaseRepository) missOrConflict(ctx context.Context, q querier, table, id string, missing, conflict error) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to check row existence")
	}
	if !exists {
		return missing
	}
	return conflict
}

func scanCase(row pgx.Row) (*lifecycle.Case, error) {
	var (
		c       lifecycle.Case
		stage   string
		history []byte
	)
	err := row.Scan(
		&c.ID, &c.Reference, &c.OrganizationID, &c.InvestigatorID, &c.AlertRecipients,
		&stage, &c.StageEnteredAt, &c.ApprovedExtensionDays, &history,
		&c.Dismissed, &c.DismissalReason, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.CurrentStage, err = lifecycle.ParseStage(stage); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "stored case stage is not recognized").WithDetail(c.ID)
	}
	if len(c.AlertRecipients) == 0 {
		c.AlertRecipients = nil
	}
	if err := decodeHistory(history, &c); err != nil {
		return nil, err
	}
	normalizeCaseTimes(&c)
	return &c, nil
}

func decodeHistory(raw []byte, c *lifecycle.Case) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &c.History); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode case history").WithDetail(c.ID)
	}
	return nil
}

// normalizeCaseTimes converts the driver's local times back to UTC.
func normalizeCaseTimes(c *lifecycle.Case) {
	c.StageEnteredAt = c.StageEnteredAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}

func scanExtension(row pgx.Row) (*lifecycle.ExtensionRequest, error) {
	var (
		req    lifecycle.ExtensionRequest
		stage  string
		status string
	)
	err := row.Scan(
		&req.ID, &req.CaseID, &stage, &req.RequestedDays, &req.Justification, &req.RequestedBy,
		&status, &req.DecidedBy, &req.DecidedAt, &req.DecisionNote, &req.GrantedDays, &req.NewDeadline,
		&req.CreatedAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}
	if req.Stage, err = lifecycle.ParseStage(stage); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "stored extension stage is not recognized").WithDetail(req.ID)
	}
	req.Status = lifecycle.ExtensionStatus(status)
	req.CreatedAt = req.CreatedAt.UTC()
	if req.DecidedAt != nil {
		t := req.DecidedAt.UTC()
		req.DecidedAt = &t
	}
	if req.NewDeadline != nil {
		t := req.NewDeadline.UTC()
		req.NewDeadline = &t
	}
	return &req, nil
}

func recipients(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func caseNotFound(id string) error {
	return errors.New(errors.ErrCodeCaseNotFound, "case not found").WithDetail(id)
}

func extensionNotFound(id string) error {
	return errors.New(errors.ErrCodeExtensionNotFound, "extension request not found").WithDetail(id)
}
