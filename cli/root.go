package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"voice-command-router/config"
	"voice-command-router/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// options are the values shared by every command, filled in before RunE.
type options struct {
	configPath string
	selfTest   bool
	wavPath    string

	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

// NewRootCommand builds the command tree. Run without a subcommand it starts
// a voice session.
func NewRootCommand() *cobra.Command {
	o := &options{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "voice-command-router",
		Short: "Speak to your coding assistant",
		Long: `voice-command-router listens to the microphone, turns what you say into a
structured command for the assistant CLI and speaks the answer back.

Run without arguments to start a voice session. Goals, milestones and
decisions are kept in a local knowledge database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if o.logger != nil {
				_ = o.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.selfTest {
				return runSelfTest(cmd.Context(), o)
			}

			return runVoice(cmd.Context(), o)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", config.Path(), "config file")
	flags.Bool("debug", false, "verbose colored logging")
	flags.String("model", "", "assistant model (claude.model)")
	flags.String("whisper-model", "", "whisper.cpp model file (stt.model_path)")

	_ = o.v.BindPFlag("logging.debug", flags.Lookup("debug"))
	_ = o.v.BindPFlag("claude.model", flags.Lookup("model"))
	_ = o.v.BindPFlag("stt.model_path", flags.Lookup("whisper-model"))

	root.Flags().Bool("continuous", true, "keep listening after each request")
	root.Flags().BoolVar(&o.selfTest, "self-test", false, "check the installation and exit")
	_ = o.v.BindPFlag("session.continuous", root.Flags().Lookup("continuous"))

	root.AddCommand(
		newSelfTestCommand(o),
		newConfigCommand(o),
		newKnowledgeCommand(o),
		newSayCommand(o),
		newStatusCommand(o),
	)

	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	return 0
}

func (o *options) load(cmd *cobra.Command) error {
	if o.out == nil {
		o.out = cmd.OutOrStdout()
	}

	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg

	lg, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Filename:   cfg.Logging.Filename,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Debug:      cfg.Logging.Debug,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	o.logger = lg

	return nil
}
