package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstatic/devstatic/internal/config"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/utils"
)

func withGlobalFlags(t *testing.T, flags GlobalFlags) {
	t.Helper()
	saved := globalFlags
	globalFlags = flags
	t.Cleanup(func() { globalFlags = saved })
}

func writeBuild(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!doctype html>"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("0123456789"), 0600))
	return dir
}

func TestLoadConfiguration_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "devstatic.yaml")

	cfg := config.NewDefault()
	cfg.Server.Address = ":9000"
	cfg.Storage.Backend = config.BackendMemory
	cfg.Static.PublicPath = "/from-file"
	require.NoError(t, cfg.SaveToFile(file))

	withGlobalFlags(t, GlobalFlags{ConfigFile: file, LogLevel: "DEBUG"})
	t.Setenv("DEVSTATIC_PUBLIC_PATH", "/from-env")

	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("address", ":9100"))

	got, err := loadConfiguration(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":9100", got.Server.Address)
	assert.Equal(t, "/from-env", got.Static.PublicPath)
	assert.Equal(t, config.BackendMemory, got.Storage.Backend)
	assert.Equal(t, "DEBUG", got.Global.LogLevel)
}

func TestLoadConfiguration_Invalid(t *testing.T) {
	withGlobalFlags(t, GlobalFlags{})

	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("backend", "ftp"))

	_, err := loadConfiguration(cmd)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	withGlobalFlags(t, GlobalFlags{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	_, err = loadConfiguration(newServeCmd())
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
}

func TestBuildBackend(t *testing.T) {
	dir := writeBuild(t)
	ctx := context.Background()

	for _, backend := range []string{config.BackendLocal, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.NewDefault()
			cfg.Storage.Backend = backend
			cfg.Storage.Local.Directory = dir
			cfg.Storage.MetadataCache.Enabled = true

			collector, err := newCollector(cfg)
			require.NoError(t, err)

			b, err := buildBackend(ctx, cfg, collector, utils.NewNopLogger())
			require.NoError(t, err)
			assert.Equal(t, backend, b.Name())
			assert.IsType(t, &storage.InstrumentedBackend{}, b)

			meta, err := b.Stat(ctx, "assets/app.js")
			require.NoError(t, err)
			assert.Equal(t, int64(10), meta.Size)
		})
	}
}

func TestStaticOptions(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Static.HighWaterMark = "16KB"
	cfg.Static.Ignore = []string{"*.map"}
	cfg.Static.Headers = map[string]string{"X-Build": "dev"}

	opts, err := staticOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 16*1024, opts.HighWaterMark)
	require.NotNil(t, opts.Ignore)
	assert.True(t, opts.Ignore("assets/app.js.map"))
	assert.False(t, opts.Ignore("assets/app.js"))
	assert.NotNil(t, opts.Headers)
}

func TestNewServer(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.Local.Directory = writeBuild(t)
	cfg.Static.Index = "index.html"

	srv, err := newServer(context.Background(), cfg, utils.NewNopLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	req.Header.Set("Range", "bytes=-3")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "789", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<!doctype html>", rec.Body.String())
}

func TestConfigInitCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf", "devstatic.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", file})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), file)

	cfg := config.NewDefault()
	require.NoError(t, cfg.LoadFromFile(file))
	assert.NoError(t, cfg.Validate())
}
