package logging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/turtacn/karin-compliance/pkg/errors"
)

func newTestLogger(t *testing.T) (Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), buf, zapcore.DebugLevel)
	return &zapLogger{z: zap.New(core)}, buf
}

func lastEntry(t *testing.T, buf *zaptest.Buffer) map[string]interface{} {
	t.Helper()
	lines := buf.Lines()
	require.NotEmpty(t, lines)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

// ─── construction ───────────────────────────────────────────────────────────

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: LevelInfo, Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputPathsRejected(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

// ─── fields ─────────────────────────────────────────────────────────────────

func TestZapLogger_DomainFields(t *testing.T) {
	l, buf := newTestLogger(t)
	l.Info("stage changed", CaseID("case-1"), Stage("investigation"), Actor("u-9"), Int("days", 30))

	m := lastEntry(t, buf)
	assert.Equal(t, "stage changed", m["msg"])
	assert.Equal(t, "case-1", m["case_id"])
	assert.Equal(t, "investigation", m["stage"])
	assert.Equal(t, "u-9", m["actor_id"])
	assert.EqualValues(t, 30, m["days"])
}

func TestZapLogger_ErrorFieldCarriesCode(t *testing.T) {
	l, buf := newTestLogger(t)
	err := apperrors.InvalidTransition("reception -> closed")
	l.Error("transition rejected", Err(err))

	m := lastEntry(t, buf)
	assert.Contains(t, m["error"], "reception -> closed")
	assert.Equal(t, string(apperrors.ErrCodeInvalidTransition), m["error_code"])
}

func TestZapLogger_PlainErrorHasNoCode(t *testing.T) {
	l, buf := newTestLogger(t)
	l.Warn("boom", Err(errors.New("plain")))
	m := lastEntry(t, buf)
	assert.Equal(t, "plain", m["error"])
	_, ok := m["error_code"]
	assert.False(t, ok)
}

func TestErr_Nil(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, buf := newTestLogger(t)
	child := l.With(Component("scanner")).Named("alerts")
	child.Debug("tick")

	m := lastEntry(t, buf)
	assert.Equal(t, "scanner", m["component"])
	assert.Equal(t, "alerts", m["logger"])
	assert.True(t, strings.Contains(buf.String(), "tick"))
}

// ─── nop / default / context ────────────────────────────────────────────────

func TestNopLogger_AllMethodsNoOp(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("m")
		l.Info("m")
		l.Warn("m")
		l.Error("m")
		l.With(CaseID("x")).Named("y").Info("m")
	})
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newTestLogger(t)
	SetDefault(l)
	SetDefault(nil)
	assert.Same(t, l, Default())
}

func TestFromContext(t *testing.T) {
	l, _ := newTestLogger(t)
	fallback := NewNopLogger()

	assert.Equal(t, fallback, FromContext(context.Background(), fallback))
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx, fallback))
}
