package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	export := filepath.Join(dir, "shop.json")
	require.NoError(t, os.WriteFile(export, []byte(`[
		{"id": "1", "name": "Robot vacuum", "price": 4000, "old_price": 16000, "rating": 4.9, "reviews": 1200},
		{"id": "2", "name": "Desk lamp", "price": 4200, "old_price": 5400, "rating": 4.0, "reviews": 50},
		{"id": "9", "name": "Socks", "price": 95, "old_price": 100}
	]`), 0o644))

	sources := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sources, []byte("sources:\n  - name: shop\n    kind: file\n    path: shop.json\n"), 0o644))

	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("SOURCES_CONFIG", sources)
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BOT_TOKEN", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(openApp)
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestAndTop(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "2 listings saved")

	out, err = run(t, "top", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "shop:1")
	assert.NotContains(t, out, "shop:2")

	out, err = run(t, "distribute", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "shop:1")
	assert.Contains(t, out, "shop:2")
	assert.NotContains(t, out, "shop:9", "5% discount never reaches storage")
}

func TestDistributeNeedsToken(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "distribute")
	assert.ErrorContains(t, err, "BOT_TOKEN")
}

func TestGrantAndList(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "grant", "42", "30", "--method", "card")
	require.NoError(t, err)
	assert.Contains(t, out, "42: premium until")

	_, err = run(t, "grant", "43", "0")
	assert.Error(t, err)
	_, err = run(t, "grant", "43", "30", "--method", "paypal")
	assert.Error(t, err)

	out, err = run(t, "subscriptions", "--active")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "42")
	assert.Contains(t, lines[1], "card")
}

func TestMigrateFileStore(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "needs no migrations")
}

func TestParseGrantDuration(t *testing.T) {
	d, err := parseGrantDuration("2")
	require.NoError(t, err)
	assert.Equal(t, "48h0m0s", d.String())

	d, err = parseGrantDuration("36h")
	require.NoError(t, err)
	assert.Equal(t, "36h0m0s", d.String())

	_, err = parseGrantDuration("-1")
	assert.Error(t, err)
	_, err = parseGrantDuration("soon")
	assert.Error(t, err)
}
