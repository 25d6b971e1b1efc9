package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/app"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/checksum"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LMSY_AUTH_API_KEY", "test-key")
	t.Setenv("LMSY_DOTENV", filepath.Join(t.TempDir(), "missing.env"))
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useTestApp(t *testing.T) {
	t.Helper()
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (*app.App, error) {
		return app.Build(ctx, cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	}
	t.Cleanup(func() { newApp = prev })
}

func TestChecksumCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	data := []byte("not really a jpeg")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := execute(t, "checksum", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, checksum.Sum(data)+"  17  "), out)
}

func TestChecksumCommandMissingFile(t *testing.T) {
	_, err := execute(t, "checksum", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.ErrorIs(t, err, errNoDSN)
	_, err = execute(t, "migrate", "down", "--steps", "2")
	require.ErrorIs(t, err, errNoDSN)
}

func TestPollDryRunWithoutSources(t *testing.T) {
	useTestApp(t)

	out, err := execute(t, "poll", "--dry-run")
	require.NoError(t, err)
	var body struct {
		Candidates []any `json:"candidates"`
		Sources    struct {
			Sources int `json:"sources"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Empty(t, body.Candidates)
	assert.Zero(t, body.Sources.Sources)
}

func TestPollRunsPipeline(t *testing.T) {
	useTestApp(t)

	out, err := execute(t, "poll")
	require.NoError(t, err)
	assert.Contains(t, out, `"runId"`)
}

func TestBackfillWithoutTranslatorFails(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "backfill", "--limit", "3")
	require.ErrorContains(t, err, "translator is not configured")
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("LMSY_STORAGE_BACKEND", "floppy")
	_, err := execute(t, "checksum", "x")
	require.ErrorContains(t, err, "storage.backend")
}
