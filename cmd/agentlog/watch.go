package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/events"
	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		natsURL string
		all     bool
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Follow events published by a running server over NATS",
		GroupID: "log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				natsURL = a.cfg.NATSURL
			}
			if natsURL == "" {
				return errors.New("--nats-url is required (or set AGENTLOG_NATS_URL)")
			}
			sub, err := events.NewNATSSubscriber(natsURL)
			if err != nil {
				return err
			}
			defer sub.Close()

			partition := a.partition
			if all {
				partition = eventstore.AllPartitions
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Debug("watching", "partition", partition, "nats_url", natsURL)
			return events.Watch(ctx, sub, partition, func(e *model.Event) error {
				return a.printWatched(e)
			})
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "override AGENTLOG_NATS_URL")
	cmd.Flags().BoolVar(&all, "all", false, "follow every partition")
	return cmd
}

// printWatched writes one followed event: a JSON line with --json, a
// one-line summary otherwise.
func (a *app) printWatched(e *model.Event) error {
	if a.jsonOutput {
		return printJSONLine(a.out, e)
	}
	_, err := fmt.Fprintf(a.out, "%s  %s #%d  %s  %s\n",
		e.Timestamp.Format(timeLayout), e.PartitionID, e.Sequence, e.Type, e.ID)
	return err
}
