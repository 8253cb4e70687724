package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dl-alexandre/mrisync/internal/config"
	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	testutil "github.com/dl-alexandre/mrisync/internal/testing"
	"github.com/dl-alexandre/mrisync/internal/testing/mocks"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliOutput struct {
	Data   runReport        `json:"data"`
	Errors []types.CLIError `json:"errors"`
}

func mriTree(t *testing.T) string {
	t.Helper()
	t.Setenv("MRISYNC_CONFIG_DIR", t.TempDir())
	root := filepath.Join(t.TempDir(), "mri")
	testutil.WriteTree(t, afero.NewOsFs(), root,
		testutil.TreeFile{Path: "hlp17umm00001_00001/s00012/t1sag_image.dcm", Content: "t1"},
		testutil.TreeFile{Path: "hlp17umm00001_00001/s00012/t2flairsag_image.dcm", Content: "t2"},
		testutil.TreeFile{Path: "scratch/s00001/t1sag_image.dcm", Content: "x"},
	)
	return root
}

func run(t *testing.T, fake store.Store, args ...string) (string, error) {
	t.Helper()
	a := &app{newStore: func(context.Context, *config.Config, types.GlobalFlags, logging.Logger) (store.Store, error) {
		return fake, nil
	}}
	cmd := newRootCommand(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSync_JSONSummary(t *testing.T) {
	root := mriTree(t)
	fake := mocks.NewFakeStore("dest")

	out, err := run(t, fake,
		"-m", root, "-b", "dest", "-j", "unused-key.json",
		"-r", `^hlp17umm\d{5}_\d{5}$`, "-r", `^s\d{5}$`,
		"-s", `^t1sag.*$`,
		"--output", "json",
	)
	require.NoError(t, err)
	assert.Equal(t, utils.ExitSuccess, ExitCode(err))

	var parsed cliOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed), out)
	assert.Equal(t, 1, parsed.Data.Created)
	assert.Equal(t, 1, parsed.Data.DirsPruned)
	assert.Empty(t, parsed.Errors)
	assert.Equal(t, []string{
		"hlp17umm00001_00001/",
		"hlp17umm00001_00001/s00012/",
		"hlp17umm00001_00001/s00012/t1sag_image.dcm",
	}, fake.Paths())
}

func TestSync_DryRun(t *testing.T) {
	root := mriTree(t)
	fake := mocks.NewFakeStore("dest")

	out, err := run(t, fake,
		"-m", root, "-b", "dest", "-j", "unused-key.json",
		"-r", `^hlp17umm`, "-r", `^s\d{5}$`,
		"-s", `^t1sag`, "-s", `^t2flairsag`,
		"--dry-run", "-q",
	)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, fake.Mutations())
}

func TestSync_TableSummaryListsFailures(t *testing.T) {
	root := mriTree(t)
	fake := mocks.NewFakeStore("dest")
	fake.FailOn(mocks.OpUpload, "t2flairsag_image.dcm", errors.New("quota exceeded"))

	out, err := run(t, fake,
		"-m", root, "-b", "dest", "-j", "unused-key.json",
		"-r", `^hlp17umm`, "-r", `^s\d{5}$`,
		"-s", `^t1sag`, "-s", `^t2flairsag`,
	)
	require.Error(t, err)
	assert.Equal(t, utils.ExitBatchPartialFailure, ExitCode(err))
	assert.Contains(t, out, "FAILED PATH")
	assert.Contains(t, out, "hlp17umm00001_00001/s00012/t2flairsag_image.dcm")
	assert.Contains(t, out, "quota exceeded")
}

func TestSync_ConfigurationErrors(t *testing.T) {
	root := mriTree(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing mri path", []string{"-b", "dest", "-r", ".", "-s", "."}},
		{"missing folder id", []string{"-m", root, "-r", ".", "-s", "."}},
		{"missing dir patterns", []string{"-m", root, "-b", "dest", "-s", "."}},
		{"missing sequence patterns", []string{"-m", root, "-b", "dest", "-r", "."}},
		{"bad regex", []string{"-m", root, "-b", "dest", "-r", "(", "-s", "."}},
		{"bad fingerprint", []string{"-m", root, "-b", "dest", "-r", ".", "-s", ".", "--fingerprint", "sha1"}},
		{"bad exclude", []string{"-m", root, "-b", "dest", "-r", ".", "-s", ".", "--exclude", "["}},
		{"local root missing", []string{"-m", filepath.Join(root, "nope"), "-b", "dest", "-r", ".", "-s", "."}},
		{"remote root missing", []string{"-m", root, "-b", "elsewhere", "-r", ".", "-s", "."}},
		{"bad output", []string{"-m", root, "-b", "dest", "-r", ".", "-s", ".", "--output", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := mocks.NewFakeStore("dest")
			_, err := run(t, fake, append(tt.args, "-j", "unused-key.json", "-q")...)
			require.Error(t, err)
			assert.Equal(t, utils.ExitInvalidArgument, ExitCode(err), err.Error())
			assert.Equal(t, 0, fake.Mutations())
		})
	}
}

func TestSync_JSONError(t *testing.T) {
	mriTree(t)
	out, err := run(t, mocks.NewFakeStore("dest"), "-b", "dest", "-j", "unused-key.json", "-r", ".", "-s", ".", "--json")
	require.Error(t, err)

	var parsed cliOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed), out)
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, utils.ErrCodeConfiguration, parsed.Errors[0].Code)
}

func TestSync_ConfigFile(t *testing.T) {
	root := mriTree(t)
	cfgPath := filepath.Join(t.TempDir(), "mrisync.yaml")
	yaml := strings.Join([]string{
		"folderId: dest",
		"jwtConfig: unused-key.json",
		"dirPatterns:",
		"  - ['^hlp17umm']",
		"  - ['^s\\d{5}$']",
		"sequencePatterns: ['^t2flairsag']",
	}, "\n")
	testutil.WriteTree(t, afero.NewOsFs(), filepath.Dir(cfgPath), testutil.TreeFile{Path: "mrisync.yaml", Content: yaml})

	fake := mocks.NewFakeStore("dest")
	_, err := run(t, fake, "--config", cfgPath, "-m", root, "-q")
	require.NoError(t, err)
	_, ok := fake.Find("hlp17umm00001_00001", "s00012", "t2flairsag_image.dcm")
	assert.True(t, ok)
	_, ok = fake.Find("hlp17umm00001_00001", "s00012", "t1sag_image.dcm")
	assert.False(t, ok)
}

func TestSync_DriveStoreRejectsBadKey(t *testing.T) {
	root := mriTree(t)
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{
		"-m", root, "-b", "folder", "-j", filepath.Join(t.TempDir(), "missing.json"),
		"-r", ".", "-s", ".", "-q",
	})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeAuthClientInvalid, utils.CodeOf(err))
	assert.Equal(t, utils.ExitAuthInvalid, ExitCode(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mrisync "), out)
}

func TestExitCode(t *testing.T) {
	cancelled := utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCancelled, "interrupted").Build(), context.Canceled)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, utils.ExitSuccess},
		{"cancelled", cancelled, utils.ExitCancelled},
		{"bare cancel", context.Canceled, utils.ExitCancelled},
		{"config", utils.NewConfigurationError("bad", nil), utils.ExitInvalidArgument},
		{"partial", utils.NewAppError(utils.NewCLIError(utils.ErrCodeBatchPartialFailure, "x").Build()), utils.ExitBatchPartialFailure},
		{"credentials", utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientInvalid, "x").Build()), utils.ExitAuthInvalid},
		{"flag error", errors.New("unknown flag: --nope"), utils.ExitInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	base := []string{
		"folderId: dest",
		"jwtConfig: unused-key.json",
		"dirPatterns:",
		"  - ['^hlp17umm']",
		"  - ['^s\\d{5}$']",
		"sequencePatterns: ['^t1sag']",
	}
	testutil.WriteTree(t, afero.NewOsFs(), dir,
		testutil.TreeFile{Path: "config.yaml", Content: strings.Join(append(base, lines...), "\n")})
	return filepath.Join(dir, "config.yaml")
}

func TestSync_OutputSettingsFromConfigFile(t *testing.T) {
	root := mriTree(t)

	t.Run("json and quiet from file", func(t *testing.T) {
		cfgPath := writeConfig(t, "outputFormat: json", "logLevel: quiet", "colorOutput: false")
		a := &app{newStore: func(context.Context, *config.Config, types.GlobalFlags, logging.Logger) (store.Store, error) {
			return mocks.NewFakeStore("dest"), nil
		}}
		cmd := newRootCommand(a)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--config", cfgPath, "-m", root})

		require.NoError(t, cmd.ExecuteContext(context.Background()))
		var parsed cliOutput
		require.NoError(t, json.Unmarshal(out.Bytes(), &parsed), out.String())
		assert.Equal(t, 1, parsed.Data.Created)
		assert.True(t, a.globalFlags.Quiet)
		assert.False(t, a.color)
	})

	t.Run("flag overrides file format", func(t *testing.T) {
		cfgPath := writeConfig(t, "outputFormat: json")
		out, err := run(t, mocks.NewFakeStore("dest"), "--config", cfgPath, "-m", root, "--output", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "RESULT")
		assert.False(t, json.Valid([]byte(out)))
	})

	t.Run("quiet from file suppresses table", func(t *testing.T) {
		cfgPath := writeConfig(t, "logLevel: quiet")
		out, err := run(t, mocks.NewFakeStore("dest"), "--config", cfgPath, "-m", root)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("verbose flag overrides quiet file", func(t *testing.T) {
		cfgPath := writeConfig(t, "logLevel: quiet")
		out, err := run(t, mocks.NewFakeStore("dest"), "--config", cfgPath, "-m", root, "-v")
		require.NoError(t, err)
		assert.Contains(t, out, "Starting sync")
	})
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("MRISYNC_CONFIG_DIR", t.TempDir())
	cfgPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := run(t, nil, "config", "init", "--config", cfgPath, "--ummap-defaults")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)

	loaded, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.True(t, loaded.DICOMSeries)
	assert.Len(t, loaded.DirPatterns, 2)

	_, err = run(t, nil, "config", "init", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, utils.ExitInvalidArgument, ExitCode(err))

	_, err = run(t, nil, "config", "init", "--config", cfgPath, "--force")
	require.NoError(t, err)

	out, err = run(t, nil, "config", "show", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var parsed struct {
		Data config.Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed), out)
	assert.Equal(t, config.StoreDrive, parsed.Data.Store)
	assert.Empty(t, parsed.Data.DirPatterns)
}

func TestSync_FailuresCarryErrorCodes(t *testing.T) {
	root := mriTree(t)
	testutil.WriteTree(t, afero.NewOsFs(), root,
		testutil.TreeFile{Path: "hlp17umm00002_00001/s00003/t1sag_image.dcm", Content: "t1"},
	)
	fake := mocks.NewFakeStore("dest")
	fake.FailOn(mocks.OpUpload, "t2flairsag_image.dcm", errors.New("quota exceeded"))
	fake.FailOn(mocks.OpCreateFolder, "hlp17umm00002_00001", errors.New("backend unavailable"))

	out, err := run(t, fake,
		"-m", root, "-b", "dest", "-j", "unused-key.json",
		"-r", `^hlp17umm`, "-r", `^s\d{5}$`,
		"-s", `^t1sag`, "-s", `^t2flairsag`,
		"--json",
	)
	require.Error(t, err)
	assert.Equal(t, utils.ExitBatchPartialFailure, ExitCode(err))

	var parsed cliOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed), out)
	codes := map[string]string{}
	for _, f := range parsed.Data.Failures {
		codes[f.Path] = f.Code
	}
	assert.Equal(t, map[string]string{
		"hlp17umm00002_00001/":                            utils.ErrCodeRemoteStore,
		"hlp17umm00001_00001/s00012/t2flairsag_image.dcm": utils.ErrCodeFileTransferFailed,
	}, codes)
}

func TestSync_QuietStillLogsFailuresToFile(t *testing.T) {
	root := mriTree(t)
	logPath := filepath.Join(t.TempDir(), "mrisync.log")
	fake := mocks.NewFakeStore("dest")
	fake.FailOn(mocks.OpUpload, "t2flairsag_image.dcm", errors.New("quota exceeded"))

	out, err := run(t, fake,
		"-m", root, "-b", "dest", "-j", "unused-key.json",
		"-r", `^hlp17umm`, "-r", `^s\d{5}$`,
		"-s", `^t1sag`, "-s", `^t2flairsag`,
		"-q", "--log-file", logPath,
	)
	require.Error(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	var failed []logging.LogEntry
	runIDs := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry logging.LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry.TraceID != "" {
			runIDs[entry.TraceID] = true
		}
		if entry.Level == "ERROR" {
			failed = append(failed, entry)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "Transfer failed", failed[0].Message)
	assert.NotEmpty(t, failed[0].TraceID)
	assert.Len(t, runIDs, 1)
}
