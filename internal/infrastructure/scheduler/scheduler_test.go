package scheduler

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSpec("0 */15 * * * *"))
	assert.NoError(t, ValidateSpec("@every 1m"))
	err := ValidateSpec("*/15 * * * *")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestAddTask_Rejects(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.AddTask("", "@every 1m", 0, noop))
	assert.Error(t, s.AddTask("scan", "@every 1m", 0, nil))
	assert.Error(t, s.AddTask("scan", "bogus", 0, noop))

	require.NoError(t, s.AddTask("scan", "@every 1m", 0, noop))
	err := s.AddTask("scan", "@every 1m", 0, noop)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestRunNow_RecordsStatus(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, nil)
	fail := true
	require.NoError(t, s.AddTask("scan", "@every 1h", time.Second, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		if fail {
			return stderrors.New("boom")
		}
		return nil
	}))

	assert.Error(t, s.RunNow("scan"))
	fail = false
	assert.NoError(t, s.RunNow("scan"))

	st := s.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "scan", st[0].Name)
	assert.EqualValues(t, 2, st[0].RunCount)
	assert.EqualValues(t, 1, st[0].ErrorCount)
	assert.Empty(t, st[0].LastError)
	assert.False(t, st[0].LastRun.IsZero())

	assert.True(t, errors.IsNotFound(s.RunNow("missing")))
}

func TestRun_SkipsOverlapping(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.AddTask("slow", "@every 1h", 0, func(context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		_ = s.RunNow("slow")
		close(done)
	}()
	<-entered
	assert.NoError(t, s.RunNow("slow"))
	close(release)
	<-done
	assert.EqualValues(t, 1, calls.Load())
}

func TestStartStop_FiresAndCancels(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	fired := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	require.NoError(t, s.AddTask("tick", "* * * * * *", 0, func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case <-cancelled:
		default:
			close(cancelled)
		}
		return ctx.Err()
	}))
	s.Start()
	s.Start()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("task never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	<-cancelled
}

func TestRemoveTask(t *testing.T) {
	t.Parallel()
	s := New(nil, nil)
	require.NoError(t, s.AddTask("scan", "@every 1m", 0, func(context.Context) error { return nil }))
	require.NoError(t, s.RemoveTask("scan"))
	assert.Empty(t, s.Status())
	assert.True(t, errors.IsNotFound(s.RemoveTask("scan")))
}
