package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dl-alexandre/mrisync/internal/config"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
)

func (a *app) newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Commands for inspecting and writing the mrisync configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the configuration resolved from the config file and MRISYNC_* environment variables",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigShow,
	})

	var ummap, force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Long: `Write the default configuration to --config, or to the default location
($MRISYNC_CONFIG_DIR/config.yaml, ~/.config/mrisync/config.yaml).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigInit(ummap, force)
		},
	}
	initCmd.Flags().BoolVar(&ummap, "ummap-defaults", false, "Start from the UMMAP archive patterns")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(initCmd)

	return configCmd
}

func (a *app) runConfigShow(cmd *cobra.Command, args []string) error {
	out := NewOutputWriter(a.stdout, a.globalFlags.OutputFormat, a.globalFlags.Quiet)
	if a.cfgErr != nil {
		return a.fail(out, utils.NewConfigurationError("failed to load configuration", a.cfgErr))
	}
	if out.format == types.OutputFormatJSON {
		return out.WriteSuccess("config.show", a.cfg)
	}
	data, err := yaml.Marshal(a.cfg)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) runConfigInit(ummap, force bool) error {
	out := NewOutputWriter(a.stdout, a.globalFlags.OutputFormat, a.globalFlags.Quiet)
	path := a.globalFlags.Config
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return a.fail(out, utils.NewConfigurationError("cannot locate the config directory", err))
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return a.fail(out, utils.NewConfigurationError(fmt.Sprintf("%s already exists, use --force to overwrite", path), nil))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return a.fail(out, utils.NewConfigurationError(fmt.Sprintf("cannot stat %s", path), err))
	}

	cfg := config.DefaultConfig()
	if ummap {
		cfg.UMMAPDefaults()
	}
	if err := cfg.Save(path); err != nil {
		return a.fail(out, utils.NewConfigurationError("failed to write configuration", err))
	}

	if out.format == types.OutputFormatJSON {
		return out.WriteSuccess("config.init", map[string]string{"path": path})
	}
	if !a.globalFlags.Quiet {
		fmt.Fprintf(a.stdout, "Wrote %s\n", path)
	}
	return nil
}
