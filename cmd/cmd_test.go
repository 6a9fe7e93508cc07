package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/flow"
	"github.com/xkilldash9x/flowcheck/internal/observability"
	"github.com/xkilldash9x/flowcheck/internal/pages"
	"github.com/xkilldash9x/flowcheck/internal/store"
)

// resetForTest isolates global state and points every file the CLI touches
// into a temp dir. It returns that dir.
func resetForTest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfgFile = ""
	observability.ResetForTest()
	t.Setenv("FLOWCHECK_LOGGER_LOG_FILE", filepath.Join(dir, "flowcheck.log"))
	t.Setenv("FLOWCHECK_LOGGER_LEVEL", "fatal")
	t.Setenv("FLOWCHECK_REPORT_DIR", filepath.Join(dir, "reports"))
	t.Setenv("FLOWCHECK_REPORT_REPO_PATH", dir)

	prevOpen, prevConnect, prevNoColor := openBrowser, connectStore, color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		openBrowser, connectStore, color.NoColor = prevOpen, prevConnect, prevNoColor
		observability.ResetForTest()
	})

	openBrowser = func(_ context.Context, cfg config.BrowserConfig, _ *zap.Logger) (browser.Driver, error) {
		return nil, errors.New(cfg.Kind + " binary not found")
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// mockConnect serves a pgxmock pool in place of a real database.
func mockConnect(t *testing.T, mockPool pgxmock.PgxPoolIface) func(context.Context, string, *zap.Logger) (*store.Store, func(), error) {
	return func(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
		assert.Equal(t, "postgres://flowcheck@localhost/flowcheck", url)
		s, err := store.New(ctx, mockPool, logger)
		return s, func() {}, err
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "flowcheck version "+Version)
}

func TestRunCmd(t *testing.T) {
	t.Run("failed sessions still produce reports", func(t *testing.T) {
		dir := resetForTest(t)

		out, err := execute(t, "run", "--browser", "chrome,firefox", "--headless")
		require.ErrorIs(t, err, ErrRunFailed)
		assert.Contains(t, out, "FAIL chrome (chromedp)")
		assert.Contains(t, out, "FAIL firefox (playwright)")
		assert.Contains(t, out, "chrome binary not found")

		entries, err := os.ReadDir(filepath.Join(dir, "reports"))
		require.NoError(t, err)
		var exts []string
		for _, e := range entries {
			exts = append(exts, filepath.Ext(e.Name()))
		}
		assert.ElementsMatch(t, []string{".json", ".xml"}, exts)
	})

	t.Run("report dir flag overrides config", func(t *testing.T) {
		dir := resetForTest(t)
		custom := filepath.Join(dir, "custom")

		_, err := execute(t, "run", "--report-dir", custom)
		require.ErrorIs(t, err, ErrRunFailed)
		entries, err := os.ReadDir(custom)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("metrics textfile is written when configured", func(t *testing.T) {
		dir := resetForTest(t)
		metricsFile := filepath.Join(dir, "flowcheck.prom")
		t.Setenv("FLOWCHECK_REPORT_METRICS_FILE", metricsFile)

		_, err := execute(t, "run")
		require.ErrorIs(t, err, ErrRunFailed)
		_, err = os.Stat(metricsFile)
		assert.NoError(t, err)
	})

	t.Run("unknown browsers are rejected", func(t *testing.T) {
		resetForTest(t)
		_, err := execute(t, "run", "--browser", "safari")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser kind")
	})

	t.Run("runs are persisted when a database is configured", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("FLOWCHECK_DATABASE_URL", "postgres://flowcheck@localhost/flowcheck")

		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()
		connectStore = mockConnect(t, mockPool)

		mockPool.ExpectPing()
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS flow_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO flow_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO flow_results").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		for range 5 {
			mockPool.ExpectExec("INSERT INTO flow_steps").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		_, err = execute(t, "run", "--browser", "chrome")
		require.ErrorIs(t, err, ErrRunFailed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestHistoryCmd(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("requires a database", func(t *testing.T) {
		resetForTest(t)
		_, err := execute(t, "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url is not configured")
	})

	t.Run("lists recent runs", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("FLOWCHECK_DATABASE_URL", "postgres://flowcheck@localhost/flowcheck")
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()
		connectStore = mockConnect(t, mockPool)

		mockPool.ExpectPing()
		mockPool.ExpectQuery("FROM flow_runs").WithArgs(3).WillReturnRows(
			pgxmock.NewRows([]string{"id", "revision", "started_at", "finished_at", "passed", "failures"}).
				AddRow("run-2", "0123456789ab", started, started.Add(90*time.Second), true, 0).
				AddRow("run-1", "", started, started.Add(time.Minute), false, 1))

		out, err := execute(t, "history", "--limit", "3")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "RUN")
		assert.Contains(t, lines[1], "run-2")
		assert.Contains(t, lines[1], "PASS")
		assert.Contains(t, lines[1], "1m30s")
		assert.Contains(t, lines[2], "FAIL")
	})

	t.Run("shows the steps of a run", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("FLOWCHECK_DATABASE_URL", "postgres://flowcheck@localhost/flowcheck")
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()
		connectStore = mockConnect(t, mockPool)

		mockPool.ExpectPing()
		mockPool.ExpectQuery("FROM flow_steps").WithArgs("run-1").WillReturnRows(
			pgxmock.NewRows([]string{"browser", "position", "name", "status", "message", "error", "duration_ms"}).
				AddRow("chrome", 0, flow.StepHome, "passed", "", "", int64(1200)).
				AddRow("chrome", 1, flow.StepCareers, "failed", pages.MsgCareersNotOpened, "company menu: timed out", int64(10000)))

		out, err := execute(t, "history", "--run", "run-1")
		require.NoError(t, err)
		assert.Contains(t, out, pages.MsgCareersNotOpened+" (company menu: timed out)")
		assert.Contains(t, out, "1.2s")
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("FLOWCHECK_DATABASE_URL", "postgres://flowcheck@localhost/flowcheck")
		_, err := execute(t, "history", "--limit", "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--limit")
	})
}

func TestLogsCmd(t *testing.T) {
	t.Run("prints the log file", func(t *testing.T) {
		dir := resetForTest(t)
		logFile := filepath.Join(dir, "flowcheck.log")
		require.NoError(t, os.WriteFile(logFile, []byte("{\"msg\":\"first\"}\n{\"msg\":\"second\"}\n"), 0o600))

		out, err := execute(t, "logs")
		require.NoError(t, err)
		assert.Equal(t, "{\"msg\":\"first\"}\n{\"msg\":\"second\"}\n", out)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		dir := resetForTest(t)
		t.Setenv("FLOWCHECK_LOGGER_LOG_FILE", filepath.Join(dir, "absent", "flowcheck.log"))
		_, err := execute(t, "logs")
		assert.Error(t, err)
	})
}

// syncBuffer guards a bytes.Buffer shared with the follower goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamLogFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowcheck.log")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- streamLog(ctx, &out, path, true) }()

	require.Eventually(t, func() bool { return out.String() == "one\n" }, 5*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return out.String() == "one\ntwo\n" }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop after cancellation")
	}
}
