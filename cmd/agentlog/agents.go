package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/presence"
	"github.com/alfredjeanlab/agentlog/internal/ui"
)

func newAgentsCmd(a *app) *cobra.Command {
	var (
		stale time.Duration
		all   bool
	)
	cmd := &cobra.Command{
		Use:     "agents",
		Short:   "List agents that wrote to the log",
		GroupID: "log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := presence.New(a.logger)
			if err := tracker.Backfill(cmd.Context(), a.store); err != nil {
				return err
			}
			partition := a.partition
			if all {
				partition = ""
			}
			roster := tracker.Roster(partition, stale)
			if a.jsonOutput {
				return printJSON(a.out, roster)
			}
			if len(roster) == 0 {
				fmt.Fprintln(a.out, ui.RenderMuted("No agents."))
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tEVENTS\tLAST SEEN\tLAST EVENT\tPARTITION")
			for _, e := range roster {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					e.Agent, e.EventCount, e.LastSeen.Format(timeLayout), e.LastType, e.LastPartition)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&stale, "stale", 0, "hide agents silent for longer (0 = show all)")
	cmd.Flags().BoolVar(&all, "all-partitions", false, "include agents of every partition")
	return cmd
}
