package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// newCalculator builds the deadline calculator the engine would use under cfg.
func newCalculator(cfg *config.Config) (*lifecycle.DeadlineCalculator, error) {
	opts, err := cfg.Engine.CalculatorOptions()
	if err != nil {
		return nil, errors.Validation("invalid engine configuration").WithDetail(err.Error())
	}
	return lifecycle.NewDeadlineCalculator(lifecycle.DefaultRuleTable(), opts...), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// stages
// ─────────────────────────────────────────────────────────────────────────────

type stageRow struct {
	Stage      lifecycle.DeadlineRule   `json:"rule"`
	Successors []lifecycle.ProcessStage `json:"successors"`
}

type stageList []stageRow

func (s stageList) TableHeaders() []string {
	return []string{"#", "STAGE", "DAYS", "UNIT", "MAX EXT", "GATED", "NEXT", "ARTICLE"}
}

func (s stageList) TableRows() [][]string {
	rows := make([][]string, 0, len(s))
	for i, r := range s {
		next := make([]string, 0, len(r.Successors))
		for _, n := range r.Successors {
			next = append(next, string(n))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(r.Stage.Stage),
			strconv.Itoa(r.Stage.Days),
			string(r.Stage.Unit()),
			strconv.Itoa(r.Stage.MaxExtensionDays),
			strconv.FormatBool(r.Stage.ExternallyGated),
			strings.Join(next, ","),
			r.Stage.Article,
		})
	}
	return rows
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List process stages with their deadline rules",
		Long:  "List every process stage in order with its statutory deadline, extension limit and allowed next stages.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := lifecycle.DefaultRuleTable()
			graph := lifecycle.DefaultTransitionGraph()
			var out stageList
			for _, st := range lifecycle.AllStages() {
				rule, err := rules.Rule(st)
				if err != nil {
					return err
				}
				out = append(out, stageRow{Stage: rule, Successors: graph.Successors(st)})
			}
			return PrintResult(cmd, out)
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// deadline
// ─────────────────────────────────────────────────────────────────────────────

type deadlineView struct {
	lifecycle.DeadlineInfo
	AsOf time.Time `json:"as_of"`
}

func (d deadlineView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stage:      %s (%s)\n", d.Stage, d.Rule.Article)
	if !d.HasDeadline {
		sb.WriteString("Deadline:   none (externally gated)\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Deadline:   %s\n", d.Deadline.Format(time.DateOnly))
	fmt.Fprintf(&sb, "Total:      %d %s\n", d.TotalDays, strings.ReplaceAll(string(d.Unit), "_", " "))
	fmt.Fprintf(&sb, "Remaining:  %d (as of %s)\n", d.DaysRemaining, d.AsOf.Format(time.DateOnly))
	fmt.Fprintf(&sb, "Level:      %s\n", d.Level)
	return sb.String()
}

// parseDay accepts an ISO date (midnight in loc) or an RFC 3339 timestamp.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Validation(fmt.Sprintf("invalid date %q: use YYYY-MM-DD or RFC 3339", raw))
}

func newDeadlineCmd() *cobra.Command {
	var (
		stage         string
		entered       string
		extensionDays int
		asOf          string
	)

	cmd := &cobra.Command{
		Use:   "deadline",
		Short: "Compute a stage deadline offline",
		Long: `Compute the deadline of a stage entered on a given date, using the configured
timezone, holidays and alert thresholds.

  karinctl deadline --stage investigation --entered 2026-03-02 --extension-days 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			st, err := lifecycle.ParseStage(stage)
			if err != nil {
				return err
			}
			if extensionDays < 0 {
				return errors.Validation("extension-days must not be negative")
			}
			loc, err := cc.Config.Engine.Location()
			if err != nil {
				return errors.Validation("invalid engine.timezone").WithDetail(err.Error())
			}
			enteredAt, err := parseDay(entered, loc)
			if err != nil {
				return err
			}
			now := time.Now()
			if asOf != "" {
				if now, err = parseDay(asOf, loc); err != nil {
					return err
				}
			}
			calc, err := newCalculator(cc.Config)
			if err != nil {
				return err
			}
			info, err := calc.ComputeClock("", lifecycle.CaseClock{
				CurrentStage:          st,
				StageEnteredAt:        enteredAt,
				ApprovedExtensionDays: extensionDays,
			}, now)
			if err != nil {
				return err
			}
			return PrintResult(cmd, deadlineView{DeadlineInfo: info, AsOf: now})
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "process stage (canonical, camelCase or legacy name)")
	cmd.Flags().StringVar(&entered, "entered", "", "date the stage was entered (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().IntVar(&extensionDays, "extension-days", 0, "approved extension days")
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate remaining days at this date instead of now")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("entered")
	return cmd
}

// ─────────────────────────────────────────────────────────────────────────────
// catalogue
// ─────────────────────────────────────────────────────────────────────────────

type catalogueView struct {
	Version string                           `json:"version"`
	Entries []compliance.OffenseCatalogEntry `json:"entries"`
}

func (c catalogueView) TableHeaders() []string {
	return []string{"ID", "CATEGORY", "LEVEL", "ORG", "STATUTE", "ARTICLE"}
}

func (c catalogueView) TableRows() [][]string {
	rows := make([][]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		rows = append(rows, []string{
			e.ID, e.Category, string(e.BaseRiskLevel), strconv.FormatBool(e.AppliesToOrganization), e.Statute, e.Article,
		})
	}
	return rows
}

func (c catalogueView) String() string {
	return fmt.Sprintf("Catalogue %s (%d entries)\n", c.Version, len(c.Entries)) + FormatTable(c.TableHeaders(), c.TableRows())
}

func newCatalogueCmd() *cobra.Command {
	var (
		category string
		show     string
	)

	cmd := &cobra.Command{
		Use:     "catalogue",
		Aliases: []string{"catalog"},
		Short:   "Inspect the offense catalogue",
		Long:    "List the offense catalogue in effect (engine.catalogue_path, or the embedded default), or show one entry with its keywords.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cat, err := compliance.LoadCatalog(cc.Config.Engine.CataloguePath)
			if err != nil {
				return err
			}
			if show != "" {
				entry, ok := cat.Entry(show)
				if !ok {
					return errors.NotFound("catalogue entry not found").WithDetail(show)
				}
				if cc.OutputFormat == "json" {
					return printJSON(cmd, entry)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  [%s, %s]\n", entry.ID, entry.Category, entry.BaseRiskLevel)
				fmt.Fprintf(out, "  %s\n", entry.Description)
				fmt.Fprintf(out, "  %s %s\n", entry.Statute, entry.Article)
				fmt.Fprintf(out, "  keywords: %s\n", strings.Join(entry.Keywords, ", "))
				return nil
			}

			view := catalogueView{Version: cat.Version()}
			for _, e := range cat.Entries() {
				if category == "" || strings.EqualFold(e.Category, category) {
					view.Entries = append(view.Entries, e)
				}
			}
			sort.SliceStable(view.Entries, func(i, j int) bool { return view.Entries[i].ID < view.Entries[j].ID })
			return PrintResult(cmd, view)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only list entries of this category")
	cmd.Flags().StringVar(&show, "show", "", "show a single entry by id")
	return cmd
}
