package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/client"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

const maxNarrativeBytes = 1 << 20

// newRiskService builds a compliance-only risk service from cfg.
func newRiskService(cfg *config.Config, log logging.Logger) (*risk.Service, error) {
	cat, err := compliance.LoadCatalog(cfg.Engine.CataloguePath)
	if err != nil {
		return nil, err
	}
	matcher := compliance.NewMatcher(cat, compliance.WithRelevanceFloor(cfg.Engine.RelevanceFloor))
	return risk.NewService(matcher, risk.Config{
		Weights:         cfg.Engine.RiskWeights,
		MinAIConfidence: cfg.Engine.MinAIConfidence,
		AITimeout:       cfg.Engine.AITimeout,
	}, log)
}

func newRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk analysis",
		Long:  "Run risk analyses offline or against the API server, and read archived evaluations.",
	}
	cmd.AddCommand(newRiskAnalyzeCmd(), newRiskHistoryCmd())
	return cmd
}

// riskView renders a unified result for the terminal.
type riskView struct {
	AnalysisID  string
	Level       string
	Score       float64
	Urgency     string
	Degraded    bool
	Probability int
	Impact      int
	RiskValue   int
	Offenses    []string
	Explanation []string
	Actions     []string
	raw         interface{}
}

func (v riskView) JSONValue() interface{} { return v.raw }

func (v riskView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analysis:     %s\n", v.AnalysisID)
	fmt.Fprintf(&sb, "Level:        %s (score %.2f, urgency %s)\n", v.Level, v.Score, v.Urgency)
	fmt.Fprintf(&sb, "Matrix:       P%d x I%d = %d\n", v.Probability, v.Impact, v.RiskValue)
	if v.Degraded {
		sb.WriteString("AI signal:    unavailable, compliance only\n")
	}
	if len(v.Offenses) > 0 {
		fmt.Fprintf(&sb, "Offenses:     %s\n", strings.Join(v.Offenses, ", "))
	}
	for _, line := range v.Explanation {
		fmt.Fprintf(&sb, "  - %s\n", line)
	}
	if len(v.Actions) > 0 {
		sb.WriteString("Recommended actions:\n")
		for _, a := range v.Actions {
			fmt.Fprintf(&sb, "  * %s\n", a)
		}
	}
	return sb.String()
}

func viewFromResult(r *compliance.UnifiedRiskResult) riskView {
	v := riskView{
		AnalysisID:  r.AnalysisID,
		Level:       string(r.UnifiedLevel),
		Score:       r.UnifiedScore,
		Urgency:     string(r.Urgency),
		Degraded:    r.Degraded(),
		Probability: r.ComplianceEvaluation.Probability,
		Impact:      r.ComplianceEvaluation.Impact,
		RiskValue:   r.ComplianceEvaluation.RiskValue,
		Explanation: r.Explanation,
		Actions:     r.ComplianceEvaluation.RecommendedActions,
		raw:         r,
	}
	for _, m := range r.ComplianceEvaluation.MatchedOffenses {
		v.Offenses = append(v.Offenses, m.Entry.ID)
	}
	return v
}

func viewFromRemote(r *client.RiskResult) riskView {
	v := riskView{
		AnalysisID:  r.AnalysisID,
		Level:       r.UnifiedLevel,
		Score:       r.UnifiedScore,
		Urgency:     r.Urgency,
		Degraded:    r.Degraded(),
		Probability: r.ComplianceEvaluation.Probability,
		Impact:      r.ComplianceEvaluation.Impact,
		RiskValue:   r.ComplianceEvaluation.RiskValue,
		Explanation: r.Explanation,
		Actions:     r.ComplianceEvaluation.RecommendedActions,
		raw:         r,
	}
	for _, m := range r.ComplianceEvaluation.MatchedOffenses {
		v.Offenses = append(v.Offenses, m.Entry.ID)
	}
	return v
}

// readNarrative returns --narrative, or the contents of --file ("-" is stdin).
func readNarrative(cmd *cobra.Command, narrative, file string) (string, error) {
	if narrative != "" && file != "" {
		return "", errors.Validation("use either --narrative or --file")
	}
	if file == "" {
		if strings.TrimSpace(narrative) == "" {
			return "", errors.Validation("a narrative is required (--narrative or --file)")
		}
		return narrative, nil
	}
	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return "", errors.Validation("cannot open narrative file").WithDetail(err.Error())
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxNarrativeBytes+1))
	if err != nil {
		return "", errors.Validation("cannot read narrative").WithDetail(err.Error())
	}
	if len(data) > maxNarrativeBytes {
		return "", errors.Validation("narrative exceeds 1 MiB")
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.Validation("narrative is empty")
	}
	return string(data), nil
}

func newRiskAnalyzeCmd() *cobra.Command {
	var (
		narrative   string
		file        string
		caseID      string
		probability int
		impact      int
		attrs       compliance.CaseAttributes
		hierarchy   string
		remote      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify a complaint narrative",
		Long: `Match a narrative against the offense catalogue and classify it on the
probability x impact matrix.  Offline runs are compliance-only; --remote runs
the full analysis on the API server, including the AI signal.

  karinctl risk analyze --narrative "mi jefe me grita frente a todos" --recurrent --hierarchy supervisor
  karinctl risk analyze --file complaint.txt --probability 4 --impact 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			text, err := readNarrative(cmd, narrative, file)
			if err != nil {
				return err
			}
			for name, v := range map[string]int{"probability": probability, "impact": impact} {
				if v != 0 && (v < 1 || v > 5) {
					return errors.Validation(name + " must be between 1 and 5")
				}
			}
			attrs.InvolvedHierarchy = compliance.Hierarchy(strings.ToLower(hierarchy))
			switch attrs.InvolvedHierarchy {
			case "", compliance.HierarchyPeer, compliance.HierarchySupervisor, compliance.HierarchyManager, compliance.HierarchyExecutive:
			default:
				return errors.Validation(fmt.Sprintf("unknown hierarchy %q", hierarchy))
			}

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			if remote {
				api, err := cc.Deps.Client(cc)
				if err != nil {
					return err
				}
				req := &client.AnalyzeRequest{
					CaseID:    caseID,
					Narrative: text,
					Attributes: client.CaseAttributes{
						Anonymous:         attrs.Anonymous,
						HasEvidence:       attrs.HasEvidence,
						EvidenceCount:     attrs.EvidenceCount,
						Recurrent:         attrs.Recurrent,
						InvolvedHierarchy: string(attrs.InvolvedHierarchy),
						WitnessCount:      attrs.WitnessCount,
					},
					Probability: optionalAxis(probability),
					Impact:      optionalAxis(impact),
				}
				res, err := api.Risk().Analyze(ctx, req)
				if err != nil {
					return err
				}
				return PrintResult(cmd, viewFromRemote(res))
			}

			svc, err := newRiskService(cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			res, err := svc.Analyze(ctx, risk.AnalyzeInput{
				CaseID:      caseID,
				Narrative:   text,
				Probability: optionalAxis(probability),
				Impact:      optionalAxis(impact),
				Attributes:  attrs,
			})
			if err != nil {
				return err
			}
			return PrintResult(cmd, viewFromResult(res))
		},
	}

	f := cmd.Flags()
	f.StringVar(&narrative, "narrative", "", "complaint narrative")
	f.StringVarP(&file, "file", "f", "", "read the narrative from a file (- for stdin)")
	f.StringVar(&caseID, "case-id", "", "case the analysis belongs to")
	f.IntVar(&probability, "probability", 0, "probability 1-5 (estimated when omitted)")
	f.IntVar(&impact, "impact", 0, "impact 1-5 (estimated when omitted)")
	f.BoolVar(&attrs.Anonymous, "anonymous", false, "the complaint is anonymous")
	f.BoolVar(&attrs.HasEvidence, "has-evidence", false, "documentary evidence was provided")
	f.IntVar(&attrs.EvidenceCount, "evidence", 0, "number of evidence items")
	f.BoolVar(&attrs.Recurrent, "recurrent", false, "the conduct is recurrent")
	f.StringVar(&hierarchy, "hierarchy", "", "position of the accused (peer, supervisor, manager, executive)")
	f.IntVar(&attrs.WitnessCount, "witnesses", 0, "number of witnesses")
	f.BoolVar(&remote, "remote", false, "run the analysis on the API server")
	return cmd
}

func optionalAxis(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

type historyView struct {
	CaseID      string   `json:"case_id"`
	AnalysisIDs []string `json:"analysis_ids"`
}

func (h historyView) TableHeaders() []string { return []string{"CASE", "ANALYSIS"} }

func (h historyView) TableRows() [][]string {
	rows := make([][]string, 0, len(h.AnalysisIDs))
	for _, id := range h.AnalysisIDs {
		rows = append(rows, []string{h.CaseID, id})
	}
	return rows
}

func newRiskHistoryCmd() *cobra.Command {
	var (
		caseID     string
		analysisID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or show archived evaluations of a case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cc.Config.MinIO.Enabled {
				return errors.Validation("the evaluation archive is disabled (minio.enabled)")
			}
			archive, err := cc.Deps.Archive(cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			if analysisID != "" {
				res, err := archive.GetEvaluation(ctx, caseID, analysisID)
				if err != nil {
					return err
				}
				return PrintResult(cmd, viewFromResult(res))
			}
			ids, err := archive.ListEvaluations(ctx, caseID)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			return PrintResult(cmd, historyView{CaseID: caseID, AnalysisIDs: ids})
		},
	}
	cmd.Flags().StringVar(&caseID, "case-id", "", "case whose evaluations to read (empty: unassigned analyses)")
	cmd.Flags().StringVar(&analysisID, "analysis-id", "", "show one archived evaluation")
	return cmd
}
