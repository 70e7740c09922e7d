package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/api"
	"github.com/psantana5/farmsim/pkg/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSmallConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Repetitions = 2
	cfg.CPUCapacity = 6
	cfg.JobCount = 4
	cfg.MaxFrames = 60
	cfg.Seed = 11
	path := filepath.Join(t.TempDir(), "farmsim.json")
	require.NoError(t, cfg.Save(path))
	return path
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmsim.json")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default config")

	_, err = execute(t, "config", "init", "--config", path, "--force=false")
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = execute(t, "config", "show", "--config", path, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu_capacity: 64")
}

func TestConfigValidate_Fails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmsim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cpu_capacity": 0}`), 0644))

	_, err := execute(t, "config", "validate", "--config", path)
	assert.ErrorContains(t, err, "cpu_capacity")
}

func TestRunCommand(t *testing.T) {
	path := writeSmallConfig(t)
	outDir := t.TempDir()

	out, err := execute(t, "run", "--config", path, "-d", outDir, "--format", "json", "--no-artifacts=false")
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.EqualValues(t, 11, rep.Seed)
	assert.Len(t, rep.Results, 2)
	assert.Equal(t, 2, rep.Summary.Drained)

	for _, name := range []string{report.JSONFile, report.YAMLFile, report.CSVFile, report.ChartFile, report.TextfileFile} {
		_, err := os.Stat(filepath.Join(outDir, rep.ID, name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommand_UnknownFormat(t *testing.T) {
	path := writeSmallConfig(t)
	_, err := execute(t, "run", "--config", path, "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestPruneCommand(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	path := filepath.Join(t.TempDir(), "farmsim.json")
	require.NoError(t, cfg.Save(path))

	now := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		dir := filepath.Join(cfg.OutputDir, id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		marker := filepath.Join(dir, report.JSONFile)
		require.NoError(t, os.WriteFile(marker, []byte("{}"), 0644))
		stamp := now.Add(time.Duration(i-3) * time.Hour)
		require.NoError(t, os.Chtimes(marker, stamp, stamp))
	}

	out, err := execute(t, "prune", "--config", path, "--keep", "1", "--max-age", "0", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would remove")
	assert.Contains(t, out, "2 of 3 runs pruned")
	assert.DirExists(t, filepath.Join(cfg.OutputDir, "old"))

	out, err = execute(t, "prune", "--config", path, "--keep", "1", "--max-age", "0", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 3 runs pruned")
	assert.NoDirExists(t, filepath.Join(cfg.OutputDir, "old"))
	assert.NoDirExists(t, filepath.Join(cfg.OutputDir, "mid"))
	assert.DirExists(t, filepath.Join(cfg.OutputDir, "new"))
}

func TestRunsCommands(t *testing.T) {
	base := config.Default()
	base.Repetitions = 1
	base.CPUCapacity = 4
	base.JobCount = 2
	base.MaxFrames = 50
	handler := api.NewRunsHandler(store.NewMemoryStore(0), base, nil)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	server := httptest.NewServer(router)
	defer server.Close()

	overrides := filepath.Join(t.TempDir(), "overrides.json")
	require.NoError(t, os.WriteFile(overrides, []byte(`{"seed": 3}`), 0644))

	out, err := execute(t, "runs", "submit", "--server", server.URL, "--wait", "--file", overrides, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "Seed:   3")

	out, err = execute(t, "runs", "list", "--server", server.URL, "--json=true")
	require.NoError(t, err)
	var listing []api.RunListing
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	require.Len(t, listing, 1)

	chartPath := filepath.Join(t.TempDir(), "chart.png")
	_, err = execute(t, "runs", "chart", listing[0].ID, "--server", server.URL, "-O", chartPath)
	require.NoError(t, err)
	_, err = os.Stat(chartPath)
	assert.NoError(t, err)

	_, err = execute(t, "runs", "get", "missing", "--server", server.URL)
	assert.ErrorContains(t, err, "Run not found")
}

func TestDoRequest_RetriesOnlyIdempotentCalls(t *testing.T) {
	var gets, posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		} else {
			gets.Add(1)
		}
		http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	prevURL, prevRetry := serverURL, clientRetry
	defer func() { serverURL, clientRetry = prevURL, prevRetry }()
	serverURL = server.URL
	clientRetry.InitialBackoff = time.Millisecond
	clientRetry.MaxBackoff = time.Millisecond

	_, err := doRequest(context.Background(), http.MethodGet, "/runs", nil)
	assert.Error(t, err)
	assert.EqualValues(t, clientRetry.MaxRetries+1, gets.Load())

	_, err = doRequest(context.Background(), http.MethodPost, "/runs", []byte(`{}`))
	assert.Error(t, err)
	assert.EqualValues(t, 1, posts.Load())
}

func TestDoRequest_RetriesRateLimitedSubmit(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"r1"}`))
	}))
	defer server.Close()

	prevURL, prevRetry := serverURL, clientRetry
	defer func() { serverURL, clientRetry = prevURL, prevRetry }()
	serverURL = server.URL
	clientRetry.InitialBackoff = time.Millisecond
	clientRetry.MaxBackoff = time.Millisecond

	data, err := doRequest(context.Background(), http.MethodPost, "/runs", []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1"}`, string(data))
	assert.EqualValues(t, 2, posts.Load())
}
