package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/ui"
)

func defaultPartition() string {
	if s := os.Getenv("AGENTLOG_PARTITION"); s != "" {
		return s
	}
	return "default"
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentlog <command>",
		Short:        "Shared event log for collaborating agents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.noColor || !ui.ShouldUseColor(os.Stdout) {
				ui.ForceNoColor()
			}
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.partition, "partition", "p", defaultPartition(), "partition to read or write")
	flags.StringVar(&a.agent, "agent", os.Getenv("AGENTLOG_AGENT"), "acting agent id")
	flags.StringVar(&a.databaseURL, "database-url", "", "override AGENTLOG_DATABASE_URL")
	flags.BoolVar(&a.jsonOutput, "json", false, "output as JSON")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "messages", Title: "Messages:"},
		&cobra.Group{ID: "notes", Title: "Notes:"},
		&cobra.Group{ID: "log", Title: "Log:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Messages
	rootCmd.AddCommand(newSendCmd(a))
	rootCmd.AddCommand(newAckCmd(a))
	rootCmd.AddCommand(newCompleteCmd(a))
	rootCmd.AddCommand(newInboxCmd(a))
	rootCmd.AddCommand(newOutboxCmd(a))
	rootCmd.AddCommand(newConversationCmd(a))

	// Notes
	rootCmd.AddCommand(newNoteCmd(a))
	rootCmd.AddCommand(newNotesCmd(a))

	// Log
	rootCmd.AddCommand(newEventsCmd(a))
	rootCmd.AddCommand(newPartitionsCmd(a))
	rootCmd.AddCommand(newAgentsCmd(a))
	rootCmd.AddCommand(newSnapshotCmd(a))
	rootCmd.AddCommand(newExportCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))

	// System
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

// run executes the CLI with args, writing command output to out.
func run(args []string, out, errOut io.Writer) error {
	a := &app{out: out}
	defer a.close()

	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	return rootCmd.Execute()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
