package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

const stagingEnv = `
kind: environment
name: staging
variables:
  base_url: https://staging.example.com
  retries: 3
default_headers:
  X-Team: qa
`

const ordersCollection = `
kind: collection
name: Orders API
environments: [staging]
requests:
  - name: list orders
    url: "{{base_url}}/orders"
    assertions:
      - type: status_code
        expected_value: "200"
  - name: create order
    method: post
    url: "{{base_url}}/orders"
    body_type: json
    body_json:
      qty: 2
      ref: abc
    body_transforms:
      overrides:
        - target_path: ref
          value: ORD
          is_random: true
          char_limit: 12
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "watcher.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RunMigrations(context.Background()))
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no name", "kind: environment\n"},
		{"unknown kind", "kind: monitor\nname: x\n"},
		{"unnamed request", "kind: collection\nname: x\nrequests:\n  - url: http://a\n"},
		{"not yaml", "kind: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestParseJSONFile(t *testing.T) {
	def, err := Parse([]byte(`{"kind": "Environment", "name": "prod", "variables": {"n": 1, "nested": {"a": [1, 2]}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindEnvironment, def.Kind)
	assert.Equal(t, map[string]any{"n": 1.0, "nested": map[string]any{"a": []any{1.0, 2.0}}}, def.Variables)
}

func TestImport(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"env/staging.yaml":   stagingEnv,
		"orders.yml":         ordersCollection,
		"notes.txt":          "ignored",
		"broken.json":        `{"kind": "collection"}`,
		".hidden/other.yaml": "kind: environment\nname: hidden\n",
	})
	store := newStore(t)
	ctx := context.Background()

	summary, err := NewCollectionWatcher(dir, quietLogger()).Import(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Environments)
	assert.Equal(t, 1, summary.Collections)
	assert.Equal(t, 2, summary.Requests)
	assert.Equal(t, []string{filepath.Join(dir, "broken.json")}, summary.Skipped)

	env, err := store.GetEnvironmentByName(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, 3.0, env.Variables["retries"])
	assert.Equal(t, "qa", env.DefaultHeaders["X-Team"])

	_, err = store.GetEnvironmentByName(ctx, "hidden")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	c, err := store.GetCollectionBySlug(ctx, "orders-api")
	require.NoError(t, err)
	assert.Equal(t, []int64{env.ID}, c.EnvironmentIDs)
	require.Len(t, c.Requests, 2)
	assert.Equal(t, "list orders", c.Requests[0].Name)
	assert.Equal(t, "GET", c.Requests[0].Method)
	require.Len(t, c.Requests[0].Assertions, 1)
	assert.Equal(t, "POST", c.Requests[1].Method)
	assert.Equal(t, 1, c.Requests[1].Order)
	assert.Equal(t, map[string]any{"qty": 2.0, "ref": "abc"}, c.Requests[1].BodyJSON)
	require.NotNil(t, c.Requests[1].BodyTransforms)
	assert.Equal(t, []transform.Override{{TargetPath: "ref", Value: "ORD", IsRandom: true, CharLimit: 12}},
		c.Requests[1].BodyTransforms.Overrides)
}

func TestImportIsIdempotentAndReplacesRequests(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{"staging.yaml": stagingEnv, "orders.yaml": ordersCollection})
	w := NewCollectionWatcher(dir, quietLogger())

	_, err := w.Import(ctx, store)
	require.NoError(t, err)
	first, err := store.GetCollectionBySlug(ctx, "orders-api")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yaml"), []byte(`
kind: collection
name: Orders API (v2)
slug: orders-api
description: trimmed
requests:
  - name: health
    url: https://example.com/health
`), 0o644))
	_, err = w.Import(ctx, store)
	require.NoError(t, err)

	second, err := store.GetCollectionBySlug(ctx, "orders-api")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Orders API (v2)", second.Name)
	assert.Equal(t, "trimmed", second.Description)
	assert.Empty(t, second.EnvironmentIDs)
	require.Len(t, second.Requests, 1)
	assert.Equal(t, "health", second.Requests[0].Name)

	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestImportRejectsInvalidRequest(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.yaml": `
kind: collection
name: Bad
requests:
  - name: teapot
    method: BREW
    url: https://example.com
`})
	_, err := NewCollectionWatcher(dir, quietLogger()).Import(context.Background(), newStore(t))
	assert.ErrorIs(t, err, runner.ErrValidation)
}

func TestImportUnknownEnvironment(t *testing.T) {
	dir := writeFiles(t, map[string]string{"c.yaml": "kind: collection\nname: C\nenvironments: [nope]\n"})
	_, err := NewCollectionWatcher(dir, quietLogger()).Import(context.Background(), newStore(t))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScanMissingDirectory(t *testing.T) {
	_, _, err := NewCollectionWatcher(filepath.Join(t.TempDir(), "nope"), quietLogger()).Scan()
	assert.Error(t, err)
}
