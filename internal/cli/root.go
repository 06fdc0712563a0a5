package cli

import (
	"log/slog"

	"github.com/Swind/go-uthread/internal/config"
	"github.com/Swind/go-uthread/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	appConfig config.Config
	logger    *slog.Logger
)

// NewRootCmd creates the root cobra command for the uthread CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "uthread",
		Short: "uthread - cooperative user-level thread scheduler",
		Long:  "uthread runs workloads of cooperative threads on a single priority scheduler.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = flagLogLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = flagLogFormat
			}
			if flagDebug {
				cfg.Log.Level = "debug"
			}
			appConfig = cfg
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return root
}
