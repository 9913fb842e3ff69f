package plugin

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracksync/internal/database"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.zip")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func setupInstaller(t *testing.T) (*Installer, *repository.SQLiteRepository, string) {
	t.Helper()

	dbService := database.NewSQLiteService(logging.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, dbService.Connect(ctx, database.TestConfig()))
	require.NoError(t, dbService.Migrate(ctx))
	t.Cleanup(func() { dbService.Close() })

	store := repository.NewSQLiteRepository(dbService, logging.NewNopLogger())
	root := filepath.Join(t.TempDir(), "plugins")
	inst := NewInstaller(store, root, 0, nil, logging.NewNopLogger())
	inst.SetStrategy(LocalStrategy{})
	return inst, store, root
}

func localConfig(path, version, sum string) PackageConfig {
	return PackageConfig{
		Name:          "reports",
		Version:       version,
		MarketplaceID: "mk-reports",
		Source:        Source{Type: SourceLocal, Path: path},
		Checksum:      sum,
	}
}

// leftovers lists entries under root other than installed plugin dirs
func downloadDirs(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".download-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestExecute_LocalInstall(t *testing.T) {
	inst, store, root := setupInstaller(t)
	ctx := context.Background()
	data := buildZip(t, map[string]string{"manifest.json": `{"name":"reports"}`, "lib/index.js": "module.exports = {}"})

	res, err := inst.Execute(ctx, localConfig(writeArchive(t, data), "1.0.0", checksum(data)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "reports", "1.0.0"), res.InstallDir)
	assert.FileExists(t, filepath.Join(res.InstallDir, "lib", "index.js"))
	assert.Empty(t, downloadDirs(t, root))

	_, err = uuid.Parse(res.Plugin.InstallationID)
	assert.NoError(t, err)

	got, err := store.FindPluginByName(ctx, "reports")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mk-reports", got.MarketplaceID)
	assert.Equal(t, res.InstallDir, got.SourcePath)
	assert.False(t, got.IsActivated)
}

func TestExecute_VerificationFailureRollsBack(t *testing.T) {
	inst, store, root := setupInstaller(t)
	ctx := context.Background()
	data := buildZip(t, map[string]string{"index.js": "x"})

	_, err := inst.Execute(ctx, localConfig(writeArchive(t, data), "1.0.0", strings.Repeat("0", 64)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	var installErr *InstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, "verify", installErr.Step)

	assert.Empty(t, downloadDirs(t, root), "downloaded artifact is removed")
	assert.NoDirExists(t, filepath.Join(root, "reports"))

	all, err := store.FindAllPlugins(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecute_RejectsNonZip(t *testing.T) {
	inst, _, _ := setupInstaller(t)

	_, err := inst.Execute(context.Background(), localConfig(writeArchive(t, []byte("plain text")), "1.0.0", ""))
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestExecute_RejectsPathTraversal(t *testing.T) {
	inst, store, root := setupInstaller(t)
	ctx := context.Background()
	data := buildZip(t, map[string]string{"../../escape.txt": "boom"})

	_, err := inst.Execute(ctx, localConfig(writeArchive(t, data), "1.0.0", ""))
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.NoDirExists(t, filepath.Join(root, "reports", "1.0.0"))
	assert.NoFileExists(t, filepath.Join(root, "escape.txt"))
	assert.Empty(t, downloadDirs(t, root))

	all, err := store.FindAllPlugins(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecute_RetryAfterFailedExtraction(t *testing.T) {
	inst, _, root := setupInstaller(t)
	ctx := context.Background()

	bad := buildZip(t, map[string]string{"index.js": "ok", "../../escape.txt": "boom"})
	_, err := inst.Execute(ctx, localConfig(writeArchive(t, bad), "1.0.0", ""))
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.NoDirExists(t, filepath.Join(root, "reports", "1.0.0"))

	good := buildZip(t, map[string]string{"index.js": "ok"})
	res, err := inst.Execute(ctx, localConfig(writeArchive(t, good), "1.0.0", ""))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(res.InstallDir, "index.js"))
}

// partialStrategy leaves a half-written archive behind before failing
type partialStrategy struct{}

func (partialStrategy) Download(_ context.Context, _ PackageConfig, dir string) (string, error) {
	if err := os.WriteFile(filepath.Join(dir, "plugin.zip.part"), []byte("PK"), 0o644); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: connection reset", ErrDownloadFailed)
}

func TestExecute_FailedDownloadLeavesNoTempDir(t *testing.T) {
	inst, store, root := setupInstaller(t)
	ctx := context.Background()
	inst.SetStrategy(partialStrategy{})

	_, err := inst.Execute(ctx, localConfig("unused.zip", "1.0.0", ""))
	require.ErrorIs(t, err, ErrDownloadFailed)

	var installErr *InstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, "download", installErr.Step)
	assert.Empty(t, downloadDirs(t, root))

	all, err := store.FindAllPlugins(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type countingStrategy struct{ calls int }

func (s *countingStrategy) Download(context.Context, PackageConfig, string) (string, error) {
	s.calls++
	return "", ErrDownloadFailed
}

func TestExecute_UnsupportedPlatformSkipsDownload(t *testing.T) {
	inst, _, _ := setupInstaller(t)
	strategy := &countingStrategy{}
	inst.SetStrategy(strategy)

	cfg := localConfig("unused.zip", "1.0.0", "")
	cfg.OS = "no-such-os"
	_, err := inst.Execute(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Zero(t, strategy.calls)
}

func TestExecute_SwappedStrategyIsUsed(t *testing.T) {
	inst, _, _ := setupInstaller(t)
	strategy := &countingStrategy{}
	inst.SetStrategy(strategy)

	_, err := inst.Execute(context.Background(), localConfig("unused.zip", "1.0.0", ""))
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, 1, strategy.calls)
}

func TestExecute_UpgradeReplacesPreviousVersion(t *testing.T) {
	inst, store, root := setupInstaller(t)
	ctx := context.Background()

	v1 := buildZip(t, map[string]string{"index.js": "v1"})
	_, err := inst.Execute(ctx, localConfig(writeArchive(t, v1), "1.0.0", ""))
	require.NoError(t, err)
	require.NoError(t, inst.Activate(ctx, "reports"))

	_, err = inst.Execute(ctx, localConfig(writeArchive(t, v1), "1.0.0", ""))
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	v2 := buildZip(t, map[string]string{"index.js": "v2"})
	res, err := inst.Execute(ctx, localConfig(writeArchive(t, v2), "2.0.0", ""))
	require.NoError(t, err)

	all, err := store.FindAllPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2.0.0", all[0].Version)
	assert.True(t, all[0].IsActivated)
	assert.NoDirExists(t, filepath.Join(root, "reports", "1.0.0"))
	assert.DirExists(t, res.InstallDir)
}

func TestActivateDeactivateUninstall(t *testing.T) {
	inst, store, _ := setupInstaller(t)
	ctx := context.Background()
	data := buildZip(t, map[string]string{"index.js": "x"})

	res, err := inst.Execute(ctx, localConfig(writeArchive(t, data), "1.0.0", ""))
	require.NoError(t, err)

	require.NoError(t, inst.Activate(ctx, "reports"))
	got, err := store.FindPluginByName(ctx, "reports")
	require.NoError(t, err)
	assert.True(t, got.IsActivated)

	require.NoError(t, inst.Deactivate(ctx, "reports"))
	got, err = store.FindPluginByName(ctx, "reports")
	require.NoError(t, err)
	assert.False(t, got.IsActivated)

	require.NoError(t, inst.Uninstall(ctx, "reports"))
	assert.NoDirExists(t, res.InstallDir)
	list, err := inst.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, inst.Activate(ctx, "reports"), ErrNotInstalled)
	assert.ErrorIs(t, inst.Uninstall(ctx, "missing"), ErrNotInstalled)
}

func TestCDNStrategy_Download(t *testing.T) {
	data := buildZip(t, map[string]string{"index.js": "x"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugins/reports-1.0.0.zip" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(data)
	}))
	defer srv.Close()

	inst, _, _ := setupInstaller(t)
	inst.SetStrategy(NewCDNStrategy(0))

	cfg := PackageConfig{
		Name:     "reports",
		Version:  "1.0.0",
		Source:   Source{Type: SourceCDN, URL: srv.URL + "/plugins/reports-1.0.0.zip"},
		Checksum: checksum(data),
	}
	res, err := inst.Execute(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "reports-1.0.0.zip", filepath.Base(res.ArchivePath))
	assert.FileExists(t, filepath.Join(res.InstallDir, "index.js"))

	missing := cfg
	missing.Name = "other"
	missing.Source.URL = srv.URL + "/plugins/missing.zip"
	_, err = inst.Execute(context.Background(), missing)
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestCDNStrategy_RejectsBadURL(t *testing.T) {
	_, err := NewCDNStrategy(0).Download(context.Background(), PackageConfig{Source: Source{URL: "ftp://example.test/a.zip"}}, t.TempDir())
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestPipeline_UndoRunsInReverse(t *testing.T) {
	var order []string
	step := func(name string, fail bool) Command {
		return Command{
			Name: name,
			Do: func(context.Context, *job) error {
				order = append(order, "do:"+name)
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			Undo: func(context.Context, *job) error {
				order = append(order, "undo:"+name)
				return nil
			},
		}
	}
	noUndo := step("b", false)
	noUndo.Undo = nil

	p := &Pipeline{Commands: []Command{step("a", false), noUndo, step("c", false), step("d", true), step("e", false)}}
	err := p.Run(context.Background(), &job{})

	var installErr *InstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, "d", installErr.Step)
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "do:d", "undo:d", "undo:c", "undo:a"}, order)
}

func TestSupportsPlatform(t *testing.T) {
	cfg := PackageConfig{}
	assert.True(t, cfg.SupportsPlatform("linux", "amd64"))

	cfg.OS, cfg.Arch = "universal", "ARM64"
	assert.True(t, cfg.SupportsPlatform("darwin", "arm64"))
	assert.False(t, cfg.SupportsPlatform("darwin", "amd64"))

	assert.IsType(t, LocalStrategy{}, StrategyFor("local"))
	assert.IsType(t, &CDNStrategy{}, StrategyFor(SourceGauzy))
}
