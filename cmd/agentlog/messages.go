package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/idgen"
	"github.com/alfredjeanlab/agentlog/internal/model"
)

// printAppended reports a committed event.
func (a *app) printAppended(e *model.Event, detail string) error {
	if a.jsonOutput {
		return printJSON(a.out, e)
	}
	fmt.Fprintf(a.out, "Appended %s #%d to %s%s\n", e.Type, e.Sequence, e.PartitionID, detail)
	return nil
}

func newSendCmd(a *app) *cobra.Command {
	var (
		correlationID string
		priority      string
		messageType   string
		await         bool
	)
	cmd := &cobra.Command{
		Use:     "send <to-agent> <content...>",
		Short:   "Send a message to another agent",
		GroupID: "messages",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.requireAgent()
			if err != nil {
				return err
			}
			if correlationID == "" {
				if correlationID, err = idgen.CorrelationID(); err != nil {
					return err
				}
			}
			e, err := a.store.AppendPayload(cmd.Context(), a.partition, model.TypeMessageSent, model.MessageSent{
				FromAgent:        from,
				ToAgent:          args[0],
				Content:          strings.Join(args[1:], " "),
				Priority:         model.Priority(priority),
				CorrelationID:    correlationID,
				AwaitingResponse: await,
				MessageType:      messageType,
			})
			if err != nil {
				return err
			}
			return a.printAppended(e, " (correlation "+correlationID+")")
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id (generated when empty)")
	cmd.Flags().StringVar(&priority, "priority", string(model.PriorityNormal), "low, normal or urgent")
	cmd.Flags().StringVar(&messageType, "type", "", "free-form message type")
	cmd.Flags().BoolVar(&await, "await", false, "track the message in the sender's outbox until completed")
	return cmd
}

func newAckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ack <correlation-id>",
		Short:   "Acknowledge a received message",
		GroupID: "messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.requireAgent()
			if err != nil {
				return err
			}
			e, err := a.store.AppendPayload(cmd.Context(), a.partition, model.TypeMessageAcknowledged, model.MessageAcknowledged{
				CorrelationID:  args[0],
				FromAgent:      agent,
				AcknowledgedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			return a.printAppended(e, "")
		},
	}
}

func newCompleteCmd(a *app) *cobra.Command {
	var (
		result string
		failed bool
	)
	cmd := &cobra.Command{
		Use:     "complete <correlation-id>",
		Short:   "Respond to a message that awaited a response",
		GroupID: "messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.requireAgent()
			if err != nil {
				return err
			}
			e, err := a.store.AppendPayload(cmd.Context(), a.partition, model.TypeMessageCompleted, model.MessageCompleted{
				CorrelationID: args[0],
				FromAgent:     agent,
				Result:        result,
				Success:       !failed,
			})
			if err != nil {
				return err
			}
			return a.printAppended(e, "")
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "result text")
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the request as unsuccessful")
	return cmd
}

// agentArg returns the first positional argument, falling back to --agent.
func (a *app) agentArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return a.requireAgent()
}

func newInboxCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "inbox [agent]",
		Short:   "List unread messages for an agent",
		GroupID: "messages",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agentArg(args)
			if err != nil {
				return err
			}
			mb, err := a.store.Mailbox(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			entries := mb.UnreadInbox(agent)
			if all {
				entries = mb.Inbox(agent)
			}
			if a.jsonOutput {
				return printJSON(a.out, entries)
			}
			printInbox(a.out, agent, entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include acknowledged messages")
	return cmd
}

func newOutboxCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "outbox [agent]",
		Short:   "List sent messages still awaiting a response",
		GroupID: "messages",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agentArg(args)
			if err != nil {
				return err
			}
			mb, err := a.store.Mailbox(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			pending := mb.PendingOutbox(agent)
			if a.jsonOutput {
				return printJSON(a.out, pending)
			}
			printOutbox(a.out, agent, pending)
			return nil
		},
	}
}

func newConversationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "conversation <correlation-id>",
		Aliases: []string{"thread"},
		Short:   "Show every event of one correlation id",
		GroupID: "messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mb, err := a.store.Mailbox(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			history := mb.Conversation(args[0])
			if a.jsonOutput {
				return printJSON(a.out, history)
			}
			printHistory(a.out, history)
			return nil
		},
	}
}
