package testutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/testutil"
)

func TestRecordingLogger(t *testing.T) {
	log := testutil.NewRecordingLogger()

	log.Info("case opened", logging.CaseID("c-1"))
	child := log.Named("alerts").With(logging.Stage("investigation"))
	child.Warn("case evaluation failed", logging.Err(errors.New("boom")))

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "", entries[0].Logger)
	assert.Equal(t, "alerts", entries[1].Logger)

	got := log.Find(logging.LevelWarn, "case evaluation failed")
	require.Len(t, got, 1)
	stage, ok := got[0].Field("stage")
	require.True(t, ok)
	assert.Equal(t, "investigation", stage)
	_, ok = got[0].Field("case_id")
	assert.False(t, ok)

	assert.True(t, log.Has(logging.LevelInfo, "case opened"))
	assert.False(t, log.Has(logging.LevelError, "case opened"))

	log.Reset()
	assert.Empty(t, child.(*testutil.RecordingLogger).Entries())
}

func TestRecordingLogger_NamedNesting(t *testing.T) {
	log := testutil.NewRecordingLogger()
	log.Named("a").Named("b").Debug("x")
	assert.Equal(t, "a.b", log.Entries()[0].Logger)
}
