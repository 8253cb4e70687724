package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dl-alexandre/mrisync/internal/config"
	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/dl-alexandre/mrisync/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app holds the state of one invocation
type app struct {
	globalFlags types.GlobalFlags
	syncFlags   syncFlags
	logger      logging.Logger
	newStore    storeFactory
	stdout      io.Writer

	// cfg is the file and environment configuration; cfgErr is reported
	// by commands that need it
	cfg    *config.Config
	cfgErr error
	color  bool
}

// NewRootCommand builds the mrisync command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newStore: buildStore})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mrisync",
		Short: "Mirror selected MRI series into cloud storage",
		Long: `mrisync walks a local MRI tree and uploads the files that match the
configured directory-level and sequence patterns into a Google Drive
folder or an S3 bucket, recreating the directory structure.

Files already present remotely are skipped; with --update-files they are
replaced when their size or modification time changed.`,
		Version:       version.Get().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stdout = cmd.OutOrStdout()
			a.cfg, a.cfgErr = config.Load(a.globalFlags.Config)
			a.applyConfigDefaults(cmd.Flags())
			if err := a.validateGlobalFlags(); err != nil {
				return err
			}
			return a.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
		RunE: a.runSync,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar((*string)(&a.globalFlags.OutputFormat), "output", string(types.OutputFormatTable), "Summary format (table, json)")
	pf.BoolVar(&a.globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	pf.BoolVarP(&a.globalFlags.Quiet, "quiet", "q", false, "Suppress progress output")
	pf.BoolVarP(&a.globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&a.globalFlags.Debug, "debug", false, "Log every remote request")
	pf.StringVar(&a.globalFlags.Config, "config", "", "Path to configuration file")
	pf.StringVar(&a.globalFlags.LogFile, "log-file", "", "Also write JSON log lines to this file")
	pf.BoolVar(&a.globalFlags.DryRun, "dry-run", false, "Plan the sync without changing anything remotely")

	a.bindSyncFlags(rootCmd)
	rootCmd.AddCommand(a.newConfigCommand())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "Print the version number of mrisync",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	})

	return rootCmd
}

// applyConfigDefaults fills output and logging settings from the config
// file or environment unless the matching flag was given
func (a *app) applyConfigDefaults(flags *pflag.FlagSet) {
	a.color = true
	if a.cfg == nil {
		return
	}
	a.color = a.cfg.ColorOutput
	if !flags.Changed("output") && !flags.Changed("json") {
		a.globalFlags.OutputFormat = a.cfg.OutputFormat
	}
	if flags.Changed("quiet") || flags.Changed("verbose") || flags.Changed("debug") {
		return
	}
	switch a.cfg.LogLevel {
	case "quiet":
		a.globalFlags.Quiet = true
	case "verbose":
		a.globalFlags.Verbose = true
	case "debug":
		a.globalFlags.Debug = true
	}
}

func (a *app) validateGlobalFlags() error {
	// Handle --json flag as alias for --output json
	if a.globalFlags.JSON {
		a.globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if a.globalFlags.OutputFormat != types.OutputFormatJSON && a.globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewConfigurationError(fmt.Sprintf("invalid output format: %s", a.globalFlags.OutputFormat), nil)
	}
	if a.globalFlags.Quiet && a.globalFlags.Verbose {
		return utils.NewConfigurationError("--quiet and --verbose cannot be combined", nil)
	}
	return nil
}

func (a *app) initLogger() error {
	logConfig := logging.DefaultLogConfig()
	logConfig.OutputFile = a.globalFlags.LogFile
	logConfig.Writer = a.stdout
	logConfig.EnableConsole = !a.globalFlags.Quiet
	logConfig.EnableColor = a.color
	if a.globalFlags.Verbose || a.globalFlags.Debug {
		logConfig.Level = logging.DEBUG
	}
	// Keep stdout parseable
	if a.globalFlags.OutputFormat == types.OutputFormatJSON && !a.globalFlags.Verbose && !a.globalFlags.Debug {
		logConfig.EnableConsole = false
	}

	logger, err := logging.NewLogger(logConfig)
	if err != nil {
		return utils.NewConfigurationError("failed to initialize logger", err)
	}
	a.logger = logger
	return nil
}

// Execute runs the root command and returns the process exit status
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error returned by the command to a process exit status
func ExitCode(err error) int {
	if err == nil {
		return utils.ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return utils.ExitCancelled
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return utils.GetExitCode(appErr.CLIError.Code)
	}
	// Flag parsing errors from cobra
	return utils.ExitInvalidArgument
}
