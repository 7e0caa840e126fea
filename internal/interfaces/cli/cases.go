package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/karin-compliance/pkg/client"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// remoteClient returns the API client; writes additionally need an actor.
func remoteClient(cmd *cobra.Command, needActor bool) (*client.Client, *CLIContext, error) {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	if needActor && cc.Actor == "" {
		return nil, nil, errors.Validation("this command needs an acting user: pass --actor or set KARIN_ACTOR")
	}
	api, err := cc.Deps.Client(cc)
	if err != nil {
		return nil, nil, err
	}
	return api, cc, nil
}

type caseView struct{ *client.Case }

func (v caseView) JSONValue() interface{} { return v.Case }

func (v caseView) String() string {
	c := v.Case
	var sb strings.Builder
	fmt.Fprintf(&sb, "Case:          %s", c.ID)
	if c.Reference != "" {
		fmt.Fprintf(&sb, " (%s)", c.Reference)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Stage:         %s since %s\n", c.CurrentStage, c.StageEnteredAt.Format(time.DateOnly))
	fmt.Fprintf(&sb, "Investigator:  %s\n", c.InvestigatorID)
	if c.ApprovedExtensionDays > 0 {
		fmt.Fprintf(&sb, "Extensions:    %d days\n", c.ApprovedExtensionDays)
	}
	if c.Dismissed {
		fmt.Fprintf(&sb, "Dismissed:     %s\n", c.DismissalReason)
	}
	fmt.Fprintf(&sb, "Version:       %d\n", c.Version)
	if len(c.History) > 0 {
		sb.WriteString("History:\n")
		for _, h := range c.History {
			fmt.Fprintf(&sb, "  %s  %-24s %s\n", h.EnteredAt.Format(time.DateOnly), h.Stage, h.Actor)
		}
	}
	return sb.String()
}

type remoteDeadlineView struct{ *client.Deadline }

func (v remoteDeadlineView) JSONValue() interface{} { return v.Deadline }

func (v remoteDeadlineView) String() string {
	d := v.Deadline
	if !d.HasDeadline {
		return fmt.Sprintf("%s: stage %s has no running deadline\n", d.CaseID, d.Stage)
	}
	return fmt.Sprintf("%s: stage %s due %s, %d %s remaining [%s]\n",
		d.CaseID, d.Stage, d.Deadline.Format(time.DateOnly), d.DaysRemaining, strings.ReplaceAll(d.Unit, "_", " "), d.Level)
}

type extensionView struct{ *client.Extension }

func (v extensionView) JSONValue() interface{} { return v.Extension }

func (v extensionView) String() string {
	e := v.Extension
	s := fmt.Sprintf("Extension %s for case %s (%s): %d days requested by %s, %s\n",
		e.ID, e.CaseID, e.Stage, e.RequestedDays, e.RequestedBy, e.Status)
	if e.DecidedBy != "" {
		s += fmt.Sprintf("  decided by %s, granted %d days", e.DecidedBy, e.GrantedDays)
		if e.NewDeadline != nil {
			s += ", new deadline " + e.NewDeadline.Format(time.DateOnly)
		}
		s += "\n"
	}
	return s
}

func newCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Work with cases on the API server",
	}
	cmd.AddCommand(newCaseOpenCmd(), newCaseShowCmd(), newCaseDeadlineCmd(), newCaseTransitionCmd(), newCaseExtendCmd())
	return cmd
}

func newCaseOpenCmd() *cobra.Command {
	var req client.OpenCaseRequest
	var openedAt string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Register a new case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, true)
			if err != nil {
				return err
			}
			if openedAt != "" {
				t, err := time.Parse(time.RFC3339, openedAt)
				if err != nil {
					return errors.Validation("opened-at must be RFC 3339")
				}
				req.OpenedAt = &t
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			c, err := api.Cases().Open(ctx, &req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, caseView{c})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.InvestigatorID, "investigator", "", "assigned investigator")
	f.StringVar(&req.ID, "id", "", "case id (generated when omitted)")
	f.StringVar(&req.Reference, "reference", "", "external reference")
	f.StringVar(&req.OrganizationID, "organization", "", "organization id")
	f.StringSliceVar(&req.AlertRecipients, "notify", nil, "additional alert recipients")
	f.StringVar(&req.Stage, "stage", "", "initial stage when importing an existing case")
	f.StringVar(&openedAt, "opened-at", "", "original intake time when importing (RFC 3339)")
	_ = cmd.MarkFlagRequired("investigator")
	return cmd
}

func newCaseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show CASE_ID",
		Short: "Show a case and its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			c, err := api.Cases().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, caseView{c})
		},
	}
}

func newCaseDeadlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deadline CASE_ID",
		Short: "Show the deadline of a case's current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			d, err := api.Cases().Deadline(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, remoteDeadlineView{d})
		},
	}
}

func newCaseTransitionCmd() *cobra.Command {
	var (
		req     client.TransitionRequest
		version int64
	)

	cmd := &cobra.Command{
		Use:   "transition CASE_ID",
		Short: "Move a case to another stage",
		Long: `Move a case to another stage.  Closing before measures adoption or sanctions
needs --dismiss and a --reason.

  karinctl case transition c-123 --to investigation --expected-version 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, true)
			if err != nil {
				return err
			}
			if req.Dismiss && strings.TrimSpace(req.Reason) == "" {
				return errors.Validation("--dismiss needs a --reason")
			}
			if version > 0 {
				req.ExpectedVersion = &version
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			res, err := api.Cases().Transition(ctx, args[0], &req)
			if err != nil {
				return err
			}
			if cc.OutputFormat == "json" {
				return printJSON(cmd, res)
			}
			PrintSuccess(cmd, fmt.Sprintf("%s moved from %s to %s", res.Case.ID, res.From, res.Case.CurrentStage))
			return PrintResult(cmd, remoteDeadlineView{&res.Deadline})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Target, "to", "", "target stage")
	f.StringVar(&req.Reason, "reason", "", "reason recorded in the stage history")
	f.BoolVar(&req.Dismiss, "dismiss", false, "close the case without completing the process")
	f.Int64Var(&version, "expected-version", 0, "fail if the case version differs")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newCaseExtendCmd() *cobra.Command {
	var (
		days          int
		justification string
	)
	cmd := &cobra.Command{
		Use:   "extend CASE_ID",
		Short: "Request an extension of the current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, true)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			ext, err := api.Cases().RequestExtension(ctx, args[0], days, justification)
			if err != nil {
				return err
			}
			return PrintResult(cmd, extensionView{ext})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "extension days requested")
	cmd.Flags().StringVar(&justification, "justification", "", "why the extension is needed")
	_ = cmd.MarkFlagRequired("days")
	_ = cmd.MarkFlagRequired("justification")
	return cmd
}

func newExtensionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Review extension requests",
	}

	show := &cobra.Command{
		Use:   "show EXTENSION_ID",
		Short: "Show an extension request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			ext, err := api.Extensions().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, extensionView{ext})
		},
	}

	cmd.AddCommand(show, newDecisionCmd("approve", true), newDecisionCmd("reject", false))
	return cmd
}

func newDecisionCmd(use string, approve bool) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " EXTENSION_ID",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a pending extension request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, true)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			res, err := api.Extensions().Decide(ctx, args[0], approve, note)
			if err != nil {
				return err
			}
			if cc.OutputFormat == "json" {
				return printJSON(cmd, res)
			}
			return PrintResult(cmd, extensionView{res.Request})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "decision note")
	return cmd
}

type scanView struct{ *client.ScanReport }

func (v scanView) JSONValue() interface{} { return v.ScanReport }

func (v scanView) TableHeaders() []string {
	return []string{"CASE", "STAGE", "LEVEL", "DAYS LEFT", "DEADLINE"}
}

func (v scanView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Alerts))
	for _, a := range v.Alerts {
		rows = append(rows, []string{a.CaseID, a.Stage, a.Level, fmt.Sprint(a.DaysRemaining), a.Deadline.Format(time.DateOnly)})
	}
	return rows
}

func (v scanView) String() string {
	s := fmt.Sprintf("Scanned %d cases (%d closed skipped), %d alerts, %d failures\n",
		v.ScannedCases, v.SkippedClosed, len(v.Alerts), len(v.Failures)+len(v.DispatchFailures))
	if len(v.Alerts) > 0 {
		s += FormatTable(v.TableHeaders(), v.TableRows())
	}
	for _, f := range v.Failures {
		s += fmt.Sprintf("  failed %s: %s\n", f.CaseID, f.Error)
	}
	for _, f := range v.DispatchFailures {
		s += fmt.Sprintf("  not delivered %s -> %s: %s\n", f.CaseID, f.Recipient, f.Error)
	}
	return s
}

func newScanCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a deadline alert scan on the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, cc, err := remoteClient(cmd, true)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			var report *client.ScanReport
			if caseID != "" {
				report, err = api.Alerts().ScanCase(ctx, caseID)
			} else {
				report, err = api.Alerts().Scan(ctx)
			}
			if err != nil {
				return err
			}
			return PrintResult(cmd, scanView{report})
		},
	}
	cmd.Flags().StringVar(&caseID, "case-id", "", "scan a single case")
	return cmd
}
