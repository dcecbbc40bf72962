package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSayCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "say REQUEST...",
		Short: "Run one typed request as if it had been spoken",
		Long: `say skips the microphone and transcription: the words go straight to
intent classification and routing, and the reply is spoken as usual.
Clarifying questions end the run; ask again with a clearer request.`,
		Example: `  voice-command-router say search for the auth implementation`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runText(cmd.Context(), o, strings.Join(args, " "))
		},
	}
}
