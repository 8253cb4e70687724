package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dl-alexandre/mrisync/internal/api"
	"github.com/dl-alexandre/mrisync/internal/auth"
	"github.com/dl-alexandre/mrisync/internal/config"
	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	drivestore "github.com/dl-alexandre/mrisync/internal/store/drive"
	s3store "github.com/dl-alexandre/mrisync/internal/store/s3"
	syncengine "github.com/dl-alexandre/mrisync/internal/sync"
	"github.com/dl-alexandre/mrisync/internal/sync/diff"
	"github.com/dl-alexandre/mrisync/internal/sync/exclude"
	"github.com/dl-alexandre/mrisync/internal/sync/scanner"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type syncFlags struct {
	mriPath         string
	jwtConfig       string
	folderID        string
	dirRegex        []string
	sequenceRegex   []string
	fileRegex       []string
	exclude         []string
	updateFiles     bool
	fingerprint     string
	dicomSeries     bool
	allLevels       bool
	ummapDefaults   bool
	store           string
	concurrency     int
	walkConcurrency int
	impersonate     string
	awsProfile      string
	awsRegion       string
	s3Endpoint      string
}

// storeFactory opens the remote backend selected by cfg
type storeFactory func(ctx context.Context, cfg *config.Config, flags types.GlobalFlags, logger logging.Logger) (store.Store, error)

func (a *app) bindSyncFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	sf := &a.syncFlags
	f.StringVarP(&sf.mriPath, "mri-path", "m", "", "Local root of the MRI tree")
	f.StringVarP(&sf.jwtConfig, "jwt-cfg", "j", "", "Service account JSON key (drive store)")
	f.StringVarP(&sf.folderID, "folder-id", "b", "", "Destination folder id, or bucket[/prefix] for s3")
	f.StringArrayVarP(&sf.dirRegex, "dir-regex", "r", nil, "Directory pattern; repeat once per level")
	f.StringArrayVarP(&sf.sequenceRegex, "sequence-regex", "s", nil, "Sequence name pattern (repeatable)")
	f.StringArrayVar(&sf.fileRegex, "file-regex", nil, "File name pre-filter applied before sequence matching (repeatable)")
	f.StringArrayVar(&sf.exclude, "exclude", nil, "Glob pattern never synced (repeatable)")
	f.BoolVarP(&sf.updateFiles, "update-files", "u", false, "Replace remote files whose fingerprint differs")
	f.StringVar(&sf.fingerprint, "fingerprint", config.FingerprintSizeMTime, "Change detection in update mode (size-mtime, md5)")
	f.BoolVar(&sf.dicomSeries, "dicom-series", false, "Match sequences against the DICOM SeriesDescription")
	f.BoolVar(&sf.allLevels, "all-levels", false, "Consider files at every directory level, not only the deepest")
	f.BoolVar(&sf.ummapDefaults, "ummap-defaults", false, "Use the UMMAP archive directory, file and sequence patterns")
	f.StringVar(&sf.store, "store", config.StoreDrive, "Remote store (drive, s3)")
	f.IntVar(&sf.concurrency, "concurrency", utils.DefaultConcurrency, "Parallel uploads")
	f.IntVar(&sf.walkConcurrency, "walk-concurrency", utils.DefaultWalkConcurrency, "Parallel subtree walks")
	f.StringVar(&sf.impersonate, "impersonate", "", "User to impersonate with domain-wide delegation")
	f.StringVar(&sf.awsProfile, "aws-profile", "", "AWS shared config profile (s3 store)")
	f.StringVar(&sf.awsRegion, "aws-region", "", "AWS region (s3 store)")
	f.StringVar(&sf.s3Endpoint, "s3-endpoint", "", "Custom endpoint for S3-compatible stores")
}

// resolveConfig layers flags that were set explicitly over the config
// file and environment
func (a *app) resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	if a.cfgErr != nil {
		return nil, utils.NewConfigurationError("failed to load configuration", a.cfgErr)
	}
	cfg := a.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	f := cmd.Flags()
	sf := a.syncFlags
	if sf.ummapDefaults {
		cfg.UMMAPDefaults()
	}

	if f.Changed("mri-path") {
		cfg.MRIPath = sf.mriPath
	}
	if f.Changed("jwt-cfg") {
		cfg.JWTConfig = sf.jwtConfig
	}
	if f.Changed("folder-id") {
		cfg.FolderID = sf.folderID
	}
	if f.Changed("dir-regex") {
		levels := make([][]string, len(sf.dirRegex))
		for i, expr := range sf.dirRegex {
			levels[i] = []string{expr}
		}
		cfg.DirPatterns = levels
	}
	if f.Changed("sequence-regex") {
		cfg.SequencePatterns = sf.sequenceRegex
	}
	if f.Changed("file-regex") {
		cfg.FilePatterns = sf.fileRegex
	}
	if f.Changed("exclude") {
		cfg.ExcludePatterns = append(cfg.ExcludePatterns, sf.exclude...)
	}
	if f.Changed("update-files") {
		cfg.UpdateFiles = sf.updateFiles
	}
	if f.Changed("fingerprint") {
		cfg.Fingerprint = sf.fingerprint
	}
	if f.Changed("dicom-series") {
		cfg.DICOMSeries = sf.dicomSeries
	}
	if f.Changed("all-levels") {
		cfg.AllLevels = sf.allLevels
	}
	if f.Changed("store") {
		cfg.Store = sf.store
	}
	if f.Changed("concurrency") {
		cfg.Concurrency = sf.concurrency
	}
	if f.Changed("walk-concurrency") {
		cfg.WalkConcurrency = sf.walkConcurrency
	}
	if f.Changed("impersonate") {
		cfg.Impersonate = sf.impersonate
	}
	if f.Changed("aws-profile") {
		cfg.AWS.Profile = sf.awsProfile
	}
	if f.Changed("aws-region") {
		cfg.AWS.Region = sf.awsRegion
	}
	if f.Changed("s3-endpoint") {
		cfg.AWS.Endpoint = sf.s3Endpoint
	}

	if err := cfg.ValidateRun(); err != nil {
		return nil, utils.NewConfigurationError(err.Error(), err)
	}
	return cfg, nil
}

func (a *app) runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := NewOutputWriter(a.stdout, a.globalFlags.OutputFormat, a.globalFlags.Quiet)

	cfg, err := a.resolveConfig(cmd)
	if err != nil {
		return a.fail(out, err)
	}
	patterns, err := cfg.CompilePatterns()
	if err != nil {
		return a.fail(out, utils.NewConfigurationError(err.Error(), err))
	}
	excluder, err := exclude.New(cfg.ExcludePatterns)
	if err != nil {
		return a.fail(out, utils.NewConfigurationError(err.Error(), err))
	}

	st, err := a.newStore(ctx, cfg, a.globalFlags, a.logger)
	if err != nil {
		return a.fail(out, err)
	}

	var namer scanner.Namer = scanner.FileNameNamer{}
	if cfg.DICOMSeries {
		namer = scanner.DICOMSeriesNamer{}
	}

	engine := syncengine.NewEngine(st, afero.NewOsFs(), namer, a.logger)
	result, err := engine.Run(ctx, cfg.MRIPath, cfg.FolderID, syncengine.Options{
		Levels:    patterns.Levels,
		Sequences: patterns.Sequences,
		Files:     patterns.Files,
		Exclude:   excluder,
		AllLevels: cfg.AllLevels,
		Diff: diff.Options{
			Update:      cfg.UpdateFiles,
			Fingerprint: diff.FingerprintMode(cfg.Fingerprint),
		},
		Concurrency:     cfg.Concurrency,
		WalkConcurrency: cfg.WalkConcurrency,
		DryRun:          a.globalFlags.DryRun,
	})
	if err != nil && result.Report.Decisions == nil {
		// Nothing was planned
		return a.fail(out, err)
	}

	if writeErr := out.WriteSuccess("sync", newRunReport(result)); writeErr != nil {
		a.logger.Warn("Failed to write summary", logging.F("error", writeErr.Error()))
	}
	if err != nil {
		return err
	}
	return result.Err()
}

func (a *app) fail(out *OutputWriter, err error) error {
	if out.format == types.OutputFormatJSON {
		var cliErr types.CLIError
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			cliErr = appErr.CLIError
		} else {
			cliErr = utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build()
		}
		_ = out.WriteError("sync", cliErr)
	}
	return err
}

func buildStore(ctx context.Context, cfg *config.Config, flags types.GlobalFlags, logger logging.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreS3:
		st, err := s3store.New(ctx, s3store.Options{
			Profile:        cfg.AWS.Profile,
			Region:         cfg.AWS.Region,
			Endpoint:       cfg.AWS.Endpoint,
			ForcePathStyle: cfg.AWS.ForcePathStyle,
			MaxRetries:     cfg.MaxRetries,
			Logger:         logger,
		})
		if err != nil {
			return nil, utils.NewConfigurationError("failed to configure the s3 store", err)
		}
		return st, nil

	case config.StoreDrive:
		creds, err := auth.LoadServiceAccount(ctx, cfg.JWTConfig, []string{auth.DriveScope}, cfg.Impersonate)
		if err != nil {
			return nil, err
		}
		if err := creds.Verify(); err != nil {
			return nil, err
		}

		var base http.RoundTripper
		if flags.Debug {
			base = logging.NewDebugTransport(nil, logger)
		}
		svc, err := auth.GetDriveService(ctx, creds, base, cfg.GetRequestTimeout())
		if err != nil {
			return nil, utils.NewConfigurationError("failed to create Drive service", err)
		}
		logger.Debug("Drive credentials loaded",
			logging.F("serviceAccount", creds.ClientEmail),
			logging.F("impersonate", creds.ImpersonatedUser),
		)
		client := api.NewClient(svc, cfg.MaxRetries, cfg.RetryBaseDelay, logger)
		return drivestore.New(client, ""), nil
	}
	return nil, utils.NewConfigurationError(fmt.Sprintf("unknown store %q", cfg.Store), nil)
}
