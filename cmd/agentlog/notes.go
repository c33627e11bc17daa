package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection/notes"
)

func categoryNames() string {
	names := make([]string, 0, len(model.NoteCategories()))
	for _, c := range model.NoteCategories() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

func parseCategory(s string) (model.NoteCategory, error) {
	c := model.NoteCategory(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q (want one of %s)", s, categoryNames())
	}
	return c, nil
}

func newNoteCmd(a *app) *cobra.Command {
	var (
		content string
		tags    []string
		file    string
		feature string
	)
	cmd := &cobra.Command{
		Use:     "note <category> <title...>",
		Short:   "Record a note",
		Long:    "Record a note. Categories: " + categoryNames() + ".",
		GroupID: "notes",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.requireAgent()
			if err != nil {
				return err
			}
			category, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			e, err := a.store.AppendPayload(cmd.Context(), a.partition, model.NoteType(category), model.Note{
				AgentID:        agent,
				Title:          strings.Join(args[1:], " "),
				Content:        content,
				Tags:           tags,
				RelatedFile:    file,
				RelatedFeature: feature,
			})
			if err != nil {
				return err
			}
			return a.printAppended(e, "")
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "note body")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable or comma-separated)")
	cmd.Flags().StringVar(&file, "file", "", "related file")
	cmd.Flags().StringVar(&feature, "feature", "", "related feature")
	return cmd
}

func newNotesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notes",
		Short:   "Query recorded notes",
		GroupID: "notes",
	}
	cmd.AddCommand(newNotesSearchCmd(a), newNotesFilterCmd(a), newNotesSummaryCmd(a))
	return cmd
}

func (a *app) emitNotes(list []notes.Note) error {
	if a.jsonOutput {
		return printJSON(a.out, list)
	}
	printNotes(a.out, list)
	return nil
}

func newNotesSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Find notes whose title or content contains the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nb, err := a.store.Notes(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			found := []notes.Note{}
			for n := range nb.Search(strings.Join(args, " ")) {
				if limit > 0 && len(found) == limit {
					break
				}
				found = append(found, n)
			}
			return a.emitNotes(found)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many matches (0 = all)")
	return cmd
}

func newNotesFilterCmd(a *app) *cobra.Command {
	var (
		category string
		author   string
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "List notes by category, author and tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := notes.Filter{Agent: author, Tags: slices.Clone(tags)}
			if category != "" {
				c, err := parseCategory(category)
				if err != nil {
					return err
				}
				f.Category = c
			}
			nb, err := a.store.Notes(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			return a.emitNotes(nb.Filter(f))
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "note category")
	cmd.Flags().StringVar(&author, "author", "", "agent that recorded the note")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "required tag (repeatable or comma-separated)")
	return cmd
}

func newNotesSummaryCmd(a *app) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count notes per category with the most recent of each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nb, err := a.store.Notes(cmd.Context(), a.partition)
			if err != nil {
				return err
			}
			summary := nb.Summary(recent)
			if a.jsonOutput {
				return printJSON(a.out, map[string]any{"total": nb.Len(), "categories": summary})
			}
			printSummary(a.out, nb.Len(), summary)
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", notes.DefaultRecent, "notes listed per category")
	return cmd
}
