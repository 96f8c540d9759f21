package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-mailroom/internal/engine"
	"crm-mailroom/internal/mailbox"
	"crm-mailroom/internal/metrics"
	"crm-mailroom/internal/models"
	"crm-mailroom/internal/repository"
)

// Prometheus collectors register on the default registry, once per test
// binary.
var testMetrics = metrics.NewMetrics()

// unconfiguredClient makes every engine run a silent no-op, so ticks
// fired during tests never touch the network.
type unconfiguredClient struct{}

func (unconfiguredClient) Connect(ctx context.Context, mailboxName string) (mailbox.Session, error) {
	return nil, mailbox.ErrNotConfigured
}

func newTestScheduler(t *testing.T) (*Scheduler, *repository.Repository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PollingConfig{}))

	repo := repository.New(db)
	eng := engine.New(repo, unconfiguredClient{}, nil, testMetrics, 60, "INBOX")
	s := New(eng, repo, 60, "INBOX")
	t.Cleanup(s.Stop)
	return s, repo
}

func enablePolling(t *testing.T, repo *repository.Repository, interval int) {
	t.Helper()
	cfg, err := repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)
	cfg.Enabled = true
	cfg.IntervalSeconds = interval
	require.NoError(t, repo.SavePollingConfig(cfg))
}

func TestEnsureRunningDisabledByDefault(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.EnsureRunning())
	status := s.Status()
	assert.False(t, status.Scheduled)
	assert.Empty(t, s.cron.Entries())
}

func TestEnsureRunningIsIdempotent(t *testing.T) {
	s, repo := newTestScheduler(t)
	enablePolling(t, repo, 120)

	require.NoError(t, s.EnsureRunning())
	status := s.Status()
	assert.True(t, status.Scheduled)
	assert.Equal(t, 120, status.IntervalSeconds)
	assert.Len(t, s.cron.Entries(), 1)

	// Opportunistic repeat calls must not stack timers
	require.NoError(t, s.EnsureRunning())
	require.NoError(t, s.EnsureRunning())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestEnsureRunningReschedulesOnIntervalChange(t *testing.T) {
	s, repo := newTestScheduler(t)
	enablePolling(t, repo, 120)
	require.NoError(t, s.EnsureRunning())

	enablePolling(t, repo, 300)
	require.NoError(t, s.EnsureRunning())

	status := s.Status()
	assert.Equal(t, 300, status.IntervalSeconds)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestEnsureRunningStopsWhenDisabled(t *testing.T) {
	s, repo := newTestScheduler(t)
	enablePolling(t, repo, 120)
	require.NoError(t, s.EnsureRunning())
	assert.True(t, s.Status().Scheduled)

	cfg, err := repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)
	cfg.Enabled = false
	require.NoError(t, repo.SavePollingConfig(cfg))

	require.NoError(t, s.EnsureRunning())
	assert.False(t, s.Status().Scheduled)
	assert.Empty(t, s.cron.Entries())
}

func TestStatusReportsRemaining(t *testing.T) {
	s, repo := newTestScheduler(t)
	enablePolling(t, repo, 600)
	require.NoError(t, s.EnsureRunning())

	status := s.Status()
	assert.True(t, status.Scheduled)
	assert.LessOrEqual(t, status.RemainingSeconds, 600)
	assert.GreaterOrEqual(t, status.RemainingSeconds, 0)
}

func TestTriggerOnceSingleFlight(t *testing.T) {
	s, repo := newTestScheduler(t)
	enablePolling(t, repo, 120)

	// A run already in flight makes the trigger a no-op
	s.inFlight.Store(true)
	result, err := s.TriggerOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	s.inFlight.Store(false)

	// With the guard free, the unconfigured mailbox still skips cleanly
	result, err = s.TriggerOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, s.inFlight.Load())
}
