package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/karin-compliance/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			m := cc.Deps.Migrator(cc.Config)
			if err := m.Up(); err != nil {
				return err
			}
			return printMigrationState(cmd, m)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			m := cc.Deps.Migrator(cc.Config)
			if err := m.Down(steps); err != nil {
				return err
			}
			return printMigrationState(cmd, m)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return printMigrationState(cmd, cc.Deps.Migrator(cc.Config))
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return errors.Validation(fmt.Sprintf("invalid version %q", args[0]))
			}
			m := cc.Deps.Migrator(cc.Config)
			if err := m.Force(v); err != nil {
				return err
			}
			return printMigrationState(cmd, m)
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

type migrationView struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (v migrationView) String() string {
	s := fmt.Sprintf("schema version %d", v.Version)
	if v.Dirty {
		s += " (dirty: fix the failed migration, then run migrate force)"
	}
	return s + "\n"
}

func printMigrationState(cmd *cobra.Command, m MigrationRunner) error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	return PrintResult(cmd, migrationView{Version: st.Version, Dirty: st.Dirty})
}

type topicList []string

func (t topicList) TableHeaders() []string { return []string{"TOPIC"} }

func (t topicList) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, name := range t {
		rows = append(rows, []string{name})
	}
	return rows
}

func newTopicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the Kafka topics",
	}

	var replication int
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the engine's topics if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			admin, err := cc.Deps.Topics(cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			specs := kafka.DefaultTopics(cc.Config.Kafka.Topics, replication)
			if err := admin.EnsureTopics(ctx, specs); err != nil {
				return err
			}
			names := make(topicList, 0, len(specs))
			for _, s := range specs {
				names = append(names, s.Name)
			}
			if cc.OutputFormat == "json" {
				return printJSON(cmd, names)
			}
			PrintSuccess(cmd, fmt.Sprintf("%d topics ensured", len(names)))
			return nil
		},
	}
	ensure.Flags().IntVar(&replication, "replication", 1, "replication factor for new topics")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the topics on the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			admin, err := cc.Deps.Topics(cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()
			names, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			sort.Strings(names)
			return PrintResult(cmd, topicList(names))
		},
	}

	cmd.AddCommand(ensure, list)
	return cmd
}
