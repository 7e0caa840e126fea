//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres"
	"github.com/turtacn/karin-compliance/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "karin_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	p, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	cfg := config.DatabaseConfig{Host: host, Port: p, User: "test", Password: "test", DBName: "karin_test", MaxConns: 8}
	require.NoError(t, postgres.NewMigrator(postgres.DSN(cfg), "../../../../../migrations").Up())

	pool, err := postgres.NewConnectionPool(ctx, cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

var opened = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func newCase(t *testing.T, suffix string) *lifecycle.Case {
	t.Helper()
	c, err := lifecycle.NewCase(lifecycle.OpenCaseParams{
		ID:              "case-" + suffix,
		Reference:       "REF-" + suffix,
		OrganizationID:  "org-1",
		InvestigatorID:  "inv-1",
		AlertRecipients: []string{"rrhh@example.cl"},
		Stage:           lifecycle.StageInvestigation,
		OpenedAt:        opened,
		Actor:           "inv-1",
	})
	require.NoError(t, err)
	return c
}

func TestCaseRepository_CreateAndGet(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()

	c := newCase(t, "001")
	require.NoError(t, repo.CreateCase(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	found, err := repo.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Reference, found.Reference)
	assert.Equal(t, c.AlertRecipients, found.AlertRecipients)
	assert.Equal(t, lifecycle.StageInvestigation, found.CurrentStage)
	assert.True(t, found.StageEnteredAt.Equal(opened))
	require.Len(t, found.History, 1)
	assert.NoError(t, found.Validate(lifecycle.DefaultRuleTable()))

	err = repo.CreateCase(ctx, newCase(t, "001"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	_, err = repo.GetCase(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeCaseNotFound))
}

func TestCaseRepository_UpdateIsVersioned(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()

	c := newCase(t, "002")
	require.NoError(t, repo.CreateCase(ctx, c))

	next := c.Clone()
	next.ApprovedExtensionDays = 5
	require.NoError(t, repo.UpdateCase(ctx, next, 1))
	assert.Equal(t, int64(2), next.Version)

	stale := c.Clone()
	stale.ApprovedExtensionDays = 10
	err := repo.UpdateCase(ctx, stale, 1)
	assert.True(t, errors.IsConcurrencyConflict(err))

	found, err := repo.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, found.ApprovedExtensionDays)
	assert.Equal(t, int64(2), found.Version)

	ghost := newCase(t, "ghost")
	err = repo.UpdateCase(ctx, ghost, 1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCaseNotFound))
}

func TestCaseRepository_ConcurrentWritersOneWins(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()

	c := newCase(t, "003")
	require.NoError(t, repo.CreateCase(ctx, c))

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := c.Clone()
			next.DismissalReason = fmt.Sprintf("writer-%d", i)
			err := repo.UpdateCase(ctx, next, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.IsConcurrencyConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
}

func TestCaseRepository_ListActiveCases(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()

	open := newCase(t, "open")
	require.NoError(t, repo.CreateCase(ctx, open))

	closed := newCase(t, "closed")
	closed.CurrentStage = lifecycle.StageClosed
	closed.History[0].Stage = lifecycle.StageClosed
	require.NoError(t, repo.CreateCase(ctx, closed))

	active, err := repo.ListActiveCases(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)
}

func pendingRequest(c *lifecycle.Case, id string) *lifecycle.ExtensionRequest {
	return &lifecycle.ExtensionRequest{
		ID:            id,
		CaseID:        c.ID,
		Stage:         c.CurrentStage,
		RequestedDays: 10,
		Justification: "witnesses on leave",
		RequestedBy:   "inv-1",
		Status:        lifecycle.ExtensionPending,
		CreatedAt:     opened.Add(24 * time.Hour),
	}
}

func TestCaseRepository_ExtensionRequests(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()

	c := newCase(t, "004")
	require.NoError(t, repo.CreateCase(ctx, c))

	none, err := repo.FindPendingExtension(ctx, c.ID, c.CurrentStage)
	require.NoError(t, err)
	assert.Nil(t, none)

	req := pendingRequest(c, "ext-1")
	require.NoError(t, repo.CreateExtension(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	err = repo.CreateExtension(ctx, pendingRequest(c, "ext-2"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeExtensionAlreadyPending))

	orphan := pendingRequest(newCase(t, "orphan"), "ext-3")
	err = repo.CreateExtension(ctx, orphan)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCaseNotFound))

	pending, err := repo.FindPendingExtension(ctx, c.ID, c.CurrentStage)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "ext-1", pending.ID)

	_, err = repo.GetExtension(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeExtensionNotFound))
}

func TestCaseRepository_SaveExtensionDecision(t *testing.T) {
	repo := repositories.NewCaseRepository(startPostgres(t), logging.NewNopLogger())
	ctx := context.Background()
	rules := lifecycle.DefaultRuleTable()
	rule, err := rules.Rule(lifecycle.StageInvestigation)
	require.NoError(t, err)

	t.Run("approval updates case and request atomically", func(t *testing.T) {
		c := newCase(t, "005")
		require.NoError(t, repo.CreateCase(ctx, c))
		req := pendingRequest(c, "ext-approve")
		require.NoError(t, repo.CreateExtension(ctx, req))

		next, decided, err := req.Decide(c, rule, lifecycle.Decision{Approve: true, Approver: "admin-1"}, opened.Add(48*time.Hour))
		require.NoError(t, err)
		require.NoError(t, repo.SaveExtensionDecision(ctx, next, c.Version, decided, req.Version))
		assert.Equal(t, int64(2), next.Version)
		assert.Equal(t, int64(2), decided.Version)

		stored, err := repo.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, stored.ApprovedExtensionDays)

		gotReq, err := repo.GetExtension(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.ExtensionApproved, gotReq.Status)
		assert.Equal(t, "admin-1", gotReq.DecidedBy)

		// The pending slot is free again.
		require.NoError(t, repo.CreateExtension(ctx, pendingRequest(c, "ext-approve-2")))
	})

	t.Run("rejection leaves the case untouched", func(t *testing.T) {
		c := newCase(t, "006")
		require.NoError(t, repo.CreateCase(ctx, c))
		req := pendingRequest(c, "ext-reject")
		require.NoError(t, repo.CreateExtension(ctx, req))

		_, decided, err := req.Decide(c, rule, lifecycle.Decision{Approve: false, Approver: "admin-1"}, opened.Add(48*time.Hour))
		require.NoError(t, err)
		require.NoError(t, repo.SaveExtensionDecision(ctx, nil, c.Version, decided, req.Version))

		stored, err := repo.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("stale case rolls back the request decision", func(t *testing.T) {
		c := newCase(t, "007")
		require.NoError(t, repo.CreateCase(ctx, c))
		req := pendingRequest(c, "ext-stale")
		require.NoError(t, repo.CreateExtension(ctx, req))

		bumped := c.Clone()
		require.NoError(t, repo.UpdateCase(ctx, bumped, 1))

		next, decided, err := req.Decide(c, rule, lifecycle.Decision{Approve: true, Approver: "admin-1"}, opened.Add(48*time.Hour))
		require.NoError(t, err)
		err = repo.SaveExtensionDecision(ctx, next, 1, decided, req.Version)
		assert.True(t, errors.IsConcurrencyConflict(err))
		assert.Equal(t, int64(1), decided.Version)

		gotReq, err := repo.GetExtension(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, gotReq.IsPending())
	})
}
