package lifecycle

import (
	"strings"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// TransitionGraph lists the legal successors of each stage.  The default
// graph is acyclic; the third-party and subcontracting tracks branch off the
// investigation and re-enter the main line before the final report.
type TransitionGraph map[ProcessStage][]ProcessStage

// DefaultTransitionGraph returns the statutory process graph.  The intake
// steps run in a fixed order (subsanation, precautionary measures, DT then
// SUSESO notification) and any of them may be skipped.  Entry into closed
// from stages other than measures adoption and sanctions is handled by
// dismissal, not by graph edges.
func DefaultTransitionGraph() TransitionGraph {
	return TransitionGraph{
		StageComplaintFiled:        {StageReception},
		StageReception:             {StageSubsanation, StagePrecautionaryMeasures, StageDTNotification},
		StageSubsanation:           {StagePrecautionaryMeasures, StageDTNotification},
		StagePrecautionaryMeasures: {StageDTNotification, StageSUSESONotification, StageDecisionToInvestigate},
		StageDTNotification:        {StageSUSESONotification, StageDecisionToInvestigate},
		StageSUSESONotification:    {StageDecisionToInvestigate},
		StageDecisionToInvestigate: {StageInvestigation, StageThirdParty, StageSubcontracting},
		StageInvestigation:         {StageReportCreation, StageThirdParty, StageSubcontracting},
		StageThirdParty:            {StageReportCreation, StageInvestigationComplete},
		StageSubcontracting:        {StageReportCreation, StageInvestigationComplete},
		StageReportCreation:        {StageReportApproval},
		StageReportApproval:        {StageInvestigationComplete},
		StageInvestigationComplete: {StageFinalReport},
		StageFinalReport:           {StageDTSubmission},
		StageDTSubmission:          {StageDTResolution},
		StageDTResolution:          {StageMeasuresAdoption, StageSanctions},
		StageMeasuresAdoption:      {StageSanctions, StageClosed},
		StageSanctions:             {StageClosed},
	}
}

// Successors returns a copy of the legal successors of from.
func (g TransitionGraph) Successors(from ProcessStage) []ProcessStage {
	return append([]ProcessStage(nil), g[from]...)
}

// Allows reports whether to is a direct successor of from.
func (g TransitionGraph) Allows(from, to ProcessStage) bool {
	for _, s := range g[from] {
		if s == to {
			return true
		}
	}
	return false
}

// completionStages are the stages whose completion permits closing a case.
var completionStages = []ProcessStage{StageMeasuresAdoption, StageSanctions}

// TransitionRequest asks to move a case to Target.  Dismiss closes a case
// early and requires a Reason.
type TransitionRequest struct {
	Target  ProcessStage
	Actor   string
	Reason  string
	Dismiss bool
}

// TransitionEngine validates and applies stage changes.
type TransitionEngine struct {
	graph TransitionGraph
}

// NewTransitionEngine builds an engine over graph; nil selects the default.
func NewTransitionEngine(graph TransitionGraph) *TransitionEngine {
	if graph == nil {
		graph = DefaultTransitionGraph()
	}
	return &TransitionEngine{graph: graph}
}

// Graph exposes the engine's graph for listings.
func (e *TransitionEngine) Graph() TransitionGraph { return e.graph }

// CanClose reports whether c has met a completion condition.
func (e *TransitionEngine) CanClose(c *Case) bool {
	for _, s := range completionStages {
		if c.CurrentStage == s || c.HasVisited(s) {
			return true
		}
	}
	return false
}

// Transition returns a new snapshot of c moved to req.Target at now.  c is
// never modified; on error the caller's case is left exactly as it was.
func (e *TransitionEngine) Transition(c *Case, req TransitionRequest, now time.Time) (*Case, error) {
	if c == nil {
		return nil, errors.Validation("case must not be nil")
	}
	if c.IsClosed() {
		return nil, errors.TerminalState("case is already closed").WithDetail(c.ID)
	}
	if !req.Target.IsValid() {
		return nil, errors.Validation("unknown target stage").WithDetail(string(req.Target))
	}
	if req.Target == c.CurrentStage {
		return nil, errors.InvalidTransition("case is already in the target stage").WithDetail(string(req.Target))
	}
	if now.Before(c.StageEnteredAt) {
		return nil, errors.Validation("transition time precedes stage entry").WithDetail(c.ID)
	}
	reason := strings.TrimSpace(req.Reason)
	if req.Dismiss {
		if req.Target != StageClosed {
			return nil, errors.Validation("dismissal must target the closed stage")
		}
		if reason == "" {
			return nil, errors.Validation("dismissal requires a reason")
		}
	}

	if err := e.check(c, req.Target, req.Dismiss); err != nil {
		return nil, err
	}

	at := now.UTC()
	next := c.Clone()
	if n := len(next.History); n > 0 && next.History[n-1].ExitedAt == nil {
		next.History[n-1].ExitedAt = &at
	}
	next.History = append(next.History, StageEntry{
		Stage:     req.Target,
		EnteredAt: at,
		Actor:     req.Actor,
		Reason:    reason,
	})
	next.CurrentStage = req.Target
	next.StageEnteredAt = at
	next.ApprovedExtensionDays = 0
	next.UpdatedAt = at
	if req.Dismiss && !e.CanClose(c) {
		next.Dismissed = true
		next.DismissalReason = reason
	}
	return next, nil
}

func (e *TransitionEngine) check(c *Case, target ProcessStage, dismiss bool) error {
	from := c.CurrentStage
	if target == StageClosed {
		if e.CanClose(c) || dismiss {
			return nil
		}
		return errors.InvalidTransition("case has not reached a completion stage").
			WithDetail(string(from) + " -> " + string(target))
	}
	if !e.graph.Allows(from, target) {
		return errors.InvalidTransition("target is not a successor of the current stage").
			WithDetail(string(from) + " -> " + string(target))
	}
	// Re-entering a stage would restart its statutory clock.
	if c.HasVisited(target) {
		return errors.InvalidTransition("case has already been through the target stage").
			WithDetail(string(from) + " -> " + string(target))
	}
	return nil
}
