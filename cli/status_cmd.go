package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"voice-command-router/session"

	"github.com/spf13/cobra"
)

func newStatusCommand(o *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "What the last session did and the goal in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(o)
			defer a.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}

			st, err := session.ReadStatus(cmd.Context(), store)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(o.out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			if st.Empty() {
				fmt.Fprintln(o.out, mutedStyle.Render("nothing recorded yet"))
				return nil
			}

			goal := "none"
			if st.Goal != nil {
				goal = st.Goal.Description
			}

			fmt.Fprintln(o.out, renderTable([]string{"ITEM", "VALUE"}, [][]string{
				{"goal", goal},
				{"milestones", strconv.Itoa(st.Milestones)},
				{"last intent", orDash(st.LastIntent)},
				{"last request", orDash(st.LastDirective)},
				{"last outcome", orDash(st.LastOutcome)},
			}))

			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
