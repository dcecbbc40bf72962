package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"voice-command-router/knowledge_store"

	"github.com/spf13/cobra"
)

const listTimeFormat = "2006-01-02 15:04"

func newKnowledgeCommand(o *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Inspect what the router has learned",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	// withStore opens the database for the duration of one subcommand.
	withStore := func(fn func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			a := newApp(o)
			defer a.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}

			raw, headers, rows, err := fn(cmd.Context(), store)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(o.out)
				enc.SetIndent("", "  ")
				return enc.Encode(raw)
			}

			if len(rows) == 0 {
				fmt.Fprintln(o.out, mutedStyle.Render("nothing recorded yet"))
				return nil
			}

			fmt.Fprintln(o.out, renderTable(headers, rows))
			return nil
		}
	}

	patterns := &cobra.Command{
		Use:   "patterns",
		Short: "Learned phrase to entity mappings",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error) {
			list, err := store.Patterns(ctx)
			if err != nil {
				return nil, nil, nil, err
			}

			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{
					p.FromPhrase,
					p.ToEntity,
					p.Context,
					strconv.FormatFloat(p.Confidence, 'f', 2, 64),
					strconv.FormatInt(p.UsageCount, 10),
				})
			}

			return list, []string{"PHRASE", "ENTITY", "CONTEXT", "CONFIDENCE", "USES"}, rows, nil
		}),
	}

	goals := &cobra.Command{
		Use:   "goals",
		Short: "Goals, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error) {
			list, err := store.Goals(ctx)
			if err != nil {
				return nil, nil, nil, err
			}

			rows := make([][]string, 0, len(list))
			for _, g := range list {
				rows = append(rows, []string{g.ID, string(g.Status), g.Description, g.UpdatedAt.Local().Format(listTimeFormat)})
			}

			return list, []string{"ID", "STATUS", "GOAL", "UPDATED"}, rows, nil
		}),
	}

	var goalID string
	milestones := &cobra.Command{
		Use:   "milestones",
		Short: "Milestones of a goal (the active one by default)",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error) {
			id := goalID
			if id == "" {
				active, err := store.ActiveGoal(ctx)
				if err != nil {
					return nil, nil, nil, err
				}
				if active == nil {
					return nil, nil, nil, fmt.Errorf("no active goal; pass --goal")
				}
				id = active.ID
			}

			list, err := store.Milestones(ctx, id)
			if err != nil {
				return nil, nil, nil, err
			}

			rows := make([][]string, 0, len(list))
			for _, m := range list {
				rows = append(rows, []string{string(m.Status), m.Description, m.CreatedAt.Local().Format(listTimeFormat)})
			}

			return list, []string{"STATUS", "MILESTONE", "CREATED"}, rows, nil
		}),
	}
	milestones.Flags().StringVar(&goalID, "goal", "", "goal id")

	var limit int
	decisions := &cobra.Command{
		Use:   "decisions",
		Short: "Recorded decisions, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error) {
			list, err := store.Decisions(ctx, limit)
			if err != nil {
				return nil, nil, nil, err
			}

			rows := make([][]string, 0, len(list))
			for _, d := range list {
				rows = append(rows, []string{d.Description, d.Rationale, d.CreatedAt.Local().Format(listTimeFormat)})
			}

			return list, []string{"DECISION", "RATIONALE", "CREATED"}, rows, nil
		}),
	}
	decisions.Flags().IntVar(&limit, "limit", 20, "maximum rows")

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Session context carried between turns",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, store knowledge_store.Interface) (any, []string, [][]string, error) {
			values, err := store.Context(ctx)
			if err != nil {
				return nil, nil, nil, err
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, values[k]})
			}

			return values, []string{"KEY", "VALUE"}, rows, nil
		}),
	}

	var hint string
	teach := &cobra.Command{
		Use:     "teach PHRASE ENTITY",
		Short:   "Record what a phrase refers to",
		Example: `  voice-command-router knowledge teach "the payment thing" "payment module"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(o)
			defer a.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}

			p, err := store.Learn(cmd.Context(), args[0], args[1], hint, 1)
			if err != nil {
				return err
			}

			fmt.Fprintf(o.out, "%q now means %q (used %d times)\n", p.FromPhrase, p.ToEntity, p.UsageCount)
			return nil
		},
	}
	teach.Flags().StringVar(&hint, "context", "taught", "where the mapping applies")

	cmd.AddCommand(patterns, goals, milestones, decisions, contextCmd, teach)

	return cmd
}

