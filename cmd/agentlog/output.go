package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection/mailbox"
	"github.com/alfredjeanlab/agentlog/internal/projection/notes"
	"github.com/alfredjeanlab/agentlog/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printJSONLine writes v as a single compact JSON line.
func printJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func printEvent(w io.Writer, e *model.Event) {
	fmt.Fprintf(w, "ID:         %s\n", e.ID)
	fmt.Fprintf(w, "Partition:  %s\n", e.PartitionID)
	fmt.Fprintf(w, "Sequence:   %d\n", e.Sequence)
	fmt.Fprintf(w, "Type:       %s\n", e.Type)
	fmt.Fprintf(w, "Timestamp:  %s\n", e.Timestamp.Format(timeLayout))
}

func printEventList(w io.Writer, events []*model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No events."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tTIMESTAMP\tID")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Sequence, e.Type, e.Timestamp.Format(timeLayout), e.ID)
	}
	tw.Flush()
}

func printInbox(w io.Writer, agent string, entries []mailbox.InboxEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No messages for "+agent+"."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CORRELATION\tFROM\tPRIORITY\tREAD\tRECEIVED\tCONTENT")
	for _, e := range entries {
		read := ""
		if e.Acknowledged {
			read = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CorrelationID,
			e.FromAgent,
			ui.RenderPriority(string(e.Priority)),
			read,
			e.ReceivedAt.Format(timeLayout),
			truncate(e.Content, 50),
		)
	}
	tw.Flush()
}

func printOutbox(w io.Writer, agent string, entries []mailbox.OutboxEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("Nothing pending for "+agent+"."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CORRELATION\tTO\tSENT\tCONTENT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CorrelationID, e.ToAgent, e.SentAt.Format(timeLayout), truncate(e.Content, 50))
	}
	tw.Flush()
}

func printHistory(w io.Writer, history []mailbox.HistoryEntry) {
	if len(history) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No history."))
		return
	}
	for _, h := range history {
		when := ui.RenderMuted(h.Timestamp.Format(timeLayout))
		switch h.Type {
		case model.TypeMessageSent:
			fmt.Fprintf(w, "%s  #%d %s -> %s [%s]: %s\n", when, h.Sequence, h.FromAgent, h.ToAgent,
				ui.RenderPriority(string(h.Priority)), h.Content)
		case model.TypeMessageAcknowledged:
			fmt.Fprintf(w, "%s  #%d %s acknowledged\n", when, h.Sequence, h.FromAgent)
		case model.TypeMessageCompleted:
			outcome := ui.RenderOutcome(h.Success != nil && *h.Success)
			fmt.Fprintf(w, "%s  #%d %s completed (%s): %s\n", when, h.Sequence, h.FromAgent, outcome, h.Result)
		}
	}
}

func printNotes(w io.Writer, list []notes.Note) {
	if len(list) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No notes."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCATEGORY\tAGENT\tTITLE\tTAGS")
	for _, n := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.Sequence, n.Category, n.AgentID, truncate(n.Title, 50), strings.Join(n.Tags, ","))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d notes\n", len(list))
}

func printSummary(w io.Writer, total int, summary map[model.NoteCategory]notes.CategorySummary) {
	fmt.Fprintf(w, "%d notes\n", total)
	for _, c := range model.NoteCategories() {
		s := summary[c]
		fmt.Fprintf(w, "\n%s (%d)\n", ui.RenderAccent(c.String()), s.Count)
		for _, n := range s.Recent {
			fmt.Fprintf(w, "  %s  %s %s\n", ui.RenderMuted(n.CreatedAt.Format(timeLayout)), n.AgentID, truncate(n.Title, 60))
		}
	}
}
