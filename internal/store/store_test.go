package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/flowcheck/internal/flow"
	"github.com/xkilldash9x/flowcheck/internal/pages"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var started = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleRun() *flow.Run {
	return &flow.Run{
		ID:       "run-1",
		Revision: "0123456789ab",
		Started:  started,
		Finished: started.Add(time.Minute),
		Results: []flow.Result{{
			Browser:  "chrome",
			Engine:   "chromedp",
			Started:  started,
			Duration: 50 * time.Second,
			Steps: []flow.StepResult{
				{Name: flow.StepHome, Status: flow.StatusPassed, Duration: 2500 * time.Millisecond},
				{Name: flow.StepCareers, Status: flow.StatusFailed, Message: pages.MsgCareersNotOpened, Duration: 10 * time.Second},
			},
		}},
	}
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS flow_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist run, results and steps without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs("run-1", "0123456789ab", started, started.Add(time.Minute), false, 1).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertResult)).
			WithArgs("run-1", "chrome", "chromedp", false, "", started, int64(50000)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("run-1", "chrome", 0, flow.StepHome, "passed", "", "", int64(2500)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("run-1", "chrome", 1, flow.StepCareers, "failed", pages.MsgCareersNotOpened, "", int64(10000)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, observedLogs.Len(), "ErrTxClosed on rollback must not be logged")
	})

	t.Run("should roll back when a step insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertResult)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, sampleRun())
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), "step home for chrome")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report begin failures", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := s.SaveRun(ctx, sampleRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestRecentRuns(t *testing.T) {
	ctx := context.Background()

	t.Run("should scan rows newest first", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rows := pgxmock.NewRows([]string{"id", "revision", "started_at", "finished_at", "passed", "failures"}).
			AddRow("run-2", "", started.Add(time.Hour), started.Add(time.Hour+time.Minute), true, 0).
			AddRow("run-1", "0123456789ab", started, started.Add(time.Minute), false, 1)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs(10).WillReturnRows(rows)

		runs, err := s.RecentRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, RunSummary{ID: "run-2", Started: started.Add(time.Hour), Finished: started.Add(time.Hour + time.Minute), Passed: true}, runs[0])
		assert.Equal(t, 1, runs[1].Failures)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs(5).WillReturnError(errors.New("relation does not exist"))

		_, err := s.RecentRuns(ctx, 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query runs")
	})
}

func TestRunSteps(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	rows := pgxmock.NewRows([]string{"browser", "position", "name", "status", "message", "error", "duration_ms"}).
		AddRow("chrome", 0, flow.StepHome, "passed", "", "", int64(2500)).
		AddRow("chrome", 1, flow.StepCareers, "failed", pages.MsgCareersNotOpened, "", int64(10000))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRunSteps)).WithArgs("run-1").WillReturnRows(rows)

	steps, err := s.RunSteps(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "chrome", steps[1].Browser)
	assert.Equal(t, flow.StatusFailed, steps[1].Status)
	assert.Equal(t, pages.MsgCareersNotOpened, steps[1].Message)
	assert.Equal(t, 2500*time.Millisecond, steps[0].Duration)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
