package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

func openCase(t *testing.T, at time.Time) *Case {
	t.Helper()
	c, err := NewCase(OpenCaseParams{ID: "case-1", OpenedAt: at, Actor: "intake"})
	require.NoError(t, err)
	return c
}

// walk applies successive transitions one hour apart.
func walk(t *testing.T, e *TransitionEngine, c *Case, stages ...ProcessStage) *Case {
	t.Helper()
	at := c.StageEnteredAt
	for _, s := range stages {
		at = at.Add(time.Hour)
		next, err := e.Transition(c, TransitionRequest{Target: s, Actor: "inv-1"}, at)
		require.NoError(t, err, "-> %s", s)
		c = next
	}
	return c
}

func TestTransition_MainLine(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	c := openCase(t, day(2025, 3, 3))
	c = walk(t, e, c,
		StageReception, StageDTNotification, StageDecisionToInvestigate, StageInvestigation,
		StageReportCreation, StageReportApproval, StageInvestigationComplete, StageFinalReport,
		StageDTSubmission, StageDTResolution, StageMeasuresAdoption, StageSanctions, StageClosed)

	assert.True(t, c.IsClosed())
	assert.False(t, c.Dismissed)
	assert.Len(t, c.History, 14)
	require.NoError(t, c.Validate(DefaultRuleTable()))
}

func TestTransition_BranchTracksReenterBeforeFinalReport(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	c := walk(t, e, openCase(t, day(2025, 3, 3)),
		StageReception, StagePrecautionaryMeasures, StageDecisionToInvestigate, StageThirdParty)

	_, err := e.Transition(c, TransitionRequest{Target: StageFinalReport}, c.StageEnteredAt.Add(time.Hour))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))

	c = walk(t, e, c, StageInvestigationComplete, StageFinalReport)
	assert.Equal(t, StageFinalReport, c.CurrentStage)

	sub := walk(t, e, openCase(t, day(2025, 3, 3)),
		StageReception, StageDTNotification, StageDecisionToInvestigate, StageInvestigation,
		StageSubcontracting, StageReportCreation)
	assert.Equal(t, StageReportCreation, sub.CurrentStage)
}

func TestTransition_EffectsAndImmutability(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	c := walk(t, e, openCase(t, day(2025, 3, 3)), StageReception, StageSubsanation)
	c.ApprovedExtensionDays = 4
	before := c.Clone()

	at := c.StageEnteredAt.Add(48 * time.Hour)
	next, err := e.Transition(c, TransitionRequest{Target: StageDTNotification, Actor: "inv-2", Reason: "fixed"}, at)
	require.NoError(t, err)

	assert.Equal(t, before, c, "input snapshot must not change")
	assert.Equal(t, StageDTNotification, next.CurrentStage)
	assert.Equal(t, at, next.StageEnteredAt)
	assert.Zero(t, next.ApprovedExtensionDays)
	require.Len(t, next.History, len(c.History)+1)
	prev := next.History[len(next.History)-2]
	require.NotNil(t, prev.ExitedAt)
	assert.Equal(t, at, *prev.ExitedAt)
	last := next.History[len(next.History)-1]
	assert.Nil(t, last.ExitedAt)
	assert.Equal(t, "inv-2", last.Actor)
	assert.Equal(t, "fixed", last.Reason)
}

func TestTransition_Rejections(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	c := walk(t, e, openCase(t, day(2025, 3, 3)), StageReception)
	later := c.StageEnteredAt.Add(time.Hour)

	tests := []struct {
		name string
		req  TransitionRequest
		at   time.Time
		code errors.ErrorCode
	}{
		{"not a successor", TransitionRequest{Target: StageInvestigation}, later, errors.ErrCodeInvalidTransition},
		{"backwards", TransitionRequest{Target: StageComplaintFiled}, later, errors.ErrCodeInvalidTransition},
		{"same stage", TransitionRequest{Target: StageReception}, later, errors.ErrCodeInvalidTransition},
		{"close early", TransitionRequest{Target: StageClosed}, later, errors.ErrCodeInvalidTransition},
		{"dismiss without reason", TransitionRequest{Target: StageClosed, Dismiss: true}, later, errors.ErrCodeValidation},
		{"dismiss to non closed", TransitionRequest{Target: StageSubsanation, Dismiss: true, Reason: "x"}, later, errors.ErrCodeValidation},
		{"unknown stage", TransitionRequest{Target: "bogus"}, later, errors.ErrCodeValidation},
		{"time travel", TransitionRequest{Target: StageSubsanation}, c.StageEnteredAt.Add(-time.Second), errors.ErrCodeValidation},
	}
	for _, tt := range tests {
		_, err := e.Transition(c, tt.req, tt.at)
		require.Error(t, err, tt.name)
		assert.True(t, errors.IsCode(err, tt.code), "%s: %v", tt.name, err)
	}
}

func TestTransition_Dismissal(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	c := walk(t, e, openCase(t, day(2025, 3, 3)), StageReception)

	closed, err := e.Transition(c, TransitionRequest{Target: StageClosed, Dismiss: true, Reason: " withdrawn "}, c.StageEnteredAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())
	assert.True(t, closed.Dismissed)
	assert.Equal(t, "withdrawn", closed.DismissalReason)

	_, err = e.Transition(closed, TransitionRequest{Target: StageReception}, closed.StageEnteredAt.Add(time.Hour))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTerminalStateViolation))
}

func TestTransition_ClosingFromAnyStageRequiresCompletion(t *testing.T) {
	t.Parallel()
	e := NewTransitionEngine(nil)
	for _, s := range AllStages() {
		if s == StageClosed {
			continue
		}
		c := caseAt(s, day(2025, 3, 3), 0)
		_, err := e.Transition(c, TransitionRequest{Target: StageClosed}, day(2025, 3, 4))
		if s == StageMeasuresAdoption || s == StageSanctions {
			assert.NoError(t, err, s)
		} else {
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition), s)
		}
	}
}

func TestTransition_RejectsReentry(t *testing.T) {
	t.Parallel()
	// A custom graph with a loop still cannot restart a stage clock.
	g := DefaultTransitionGraph()
	g[StageDTNotification] = append(g[StageDTNotification], StagePrecautionaryMeasures)
	e := NewTransitionEngine(g)
	c := walk(t, e, openCase(t, day(2025, 3, 3)), StageReception, StagePrecautionaryMeasures, StageDTNotification)

	_, err := e.Transition(c, TransitionRequest{Target: StagePrecautionaryMeasures}, c.StageEnteredAt.Add(time.Hour))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition), "%v", err)

	d := NewTransitionEngine(nil)
	c = walk(t, d, openCase(t, day(2025, 3, 3)), StageReception, StageDTNotification)
	for _, back := range []ProcessStage{StagePrecautionaryMeasures, StageReception, StageSubsanation} {
		_, err := d.Transition(c, TransitionRequest{Target: back}, c.StageEnteredAt.Add(time.Hour))
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition), back)
	}
}

func TestTransitionGraph_Acyclic(t *testing.T) {
	t.Parallel()
	g := DefaultTransitionGraph()
	for from, tos := range g {
		for _, to := range tos {
			assert.True(t, to.IsValid(), "%s -> %s", from, to)
		}
	}

	const (
		unseen = iota
		onPath
		done
	)
	state := make(map[ProcessStage]int)
	var visit func(s ProcessStage, path []ProcessStage)
	visit = func(s ProcessStage, path []ProcessStage) {
		path = append(path, s)
		switch state[s] {
		case onPath:
			t.Errorf("cycle: %v", path)
			return
		case done:
			return
		}
		state[s] = onPath
		for _, next := range g[s] {
			visit(next, path)
		}
		state[s] = done
	}
	for _, s := range AllStages() {
		visit(s, nil)
	}

	assert.Empty(t, g.Successors(StageClosed))
	succ := g.Successors(StageReception)
	succ[0] = "mutated"
	assert.Equal(t, StageSubsanation, g.Successors(StageReception)[0])
}
