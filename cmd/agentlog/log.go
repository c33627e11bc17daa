package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	agentsync "github.com/alfredjeanlab/agentlog/internal/sync"
	"github.com/alfredjeanlab/agentlog/internal/ui"
)

func newEventsCmd(a *app) *cobra.Command {
	var since, until uint64
	cmd := &cobra.Command{
		Use:     "events",
		Short:   "List committed events of the partition",
		GroupID: "log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := a.store.EventsRange(cmd.Context(), a.partition, since, until)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(a.out, events)
			}
			printEventList(a.out, events)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "only events after this sequence")
	cmd.Flags().Uint64Var(&until, "until", 0, "only events up to this sequence (0 = latest)")
	return cmd
}

func newPartitionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "partitions",
		Short:   "List partitions with at least one event",
		GroupID: "log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			partitions, err := a.store.Partitions(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if partitions == nil {
					partitions = []string{}
				}
				return printJSON(a.out, partitions)
			}
			if len(partitions) == 0 {
				fmt.Fprintln(a.out, ui.RenderMuted("No partitions."))
			}
			for _, p := range partitions {
				fmt.Fprintln(a.out, p)
			}
			return nil
		},
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Short:   "Create or inspect projection snapshots",
		GroupID: "log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <projection>",
		Short: "Snapshot a projection at the end of the partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, ok := a.store.Projection(args[0])
			if !ok {
				return fmt.Errorf("unknown projection %q", args[0])
			}
			seq, err := a.store.Compact(cmd.Context(), a.partition, b)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(a.out, map[string]any{"projection_name": b.Name(), "sequence_upto": seq})
			}
			fmt.Fprintf(a.out, "Snapshot %s of %s at #%d\n", b.Name(), a.partition, seq)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <projection>",
		Short: "Show the stored snapshot of a projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, ok, err := a.store.Snapshot(cmd.Context(), a.partition, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no %s snapshot for %s", args[0], a.partition)
			}
			if a.jsonOutput {
				return printJSON(a.out, map[string]any{
					"projection_name": snap.ProjectionName,
					"sequence_upto":   snap.SequenceUpto,
					"schema_version":  snap.SchemaVersion,
					"created_at":      snap.CreatedAt,
					"size":            len(snap.State),
				})
			}
			fmt.Fprintf(a.out, "Projection: %s\n", snap.ProjectionName)
			fmt.Fprintf(a.out, "Partition:  %s\n", snap.PartitionID)
			fmt.Fprintf(a.out, "Upto:       #%d\n", snap.SequenceUpto)
			fmt.Fprintf(a.out, "Schema:     v%d\n", snap.SchemaVersion)
			fmt.Fprintf(a.out, "Size:       %d bytes\n", len(snap.State))
			fmt.Fprintf(a.out, "Created:    %s\n", snap.CreatedAt.Format(timeLayout))
			return nil
		},
	})
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write every partition as JSONL",
		GroupID: "log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				_, err := agentsync.ExportJSONL(cmd.Context(), a.backend, a.out)
				return err
			}
			return exportToFile(cmd, a, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default stdout)")
	return cmd
}

func exportToFile(cmd *cobra.Command, a *app, path string) error {
	var buf bytes.Buffer
	n, err := agentsync.ExportJSONL(cmd.Context(), a.backend, &buf)
	if err != nil {
		return err
	}
	if err := agentsync.NewFileDestination(path).Write(cmd.Context(), buf.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", n, path)
	return nil
}
