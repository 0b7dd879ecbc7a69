package timeout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/core/task"
)

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	var m, err = NewManager(cfg)
	require.NoError(t, err)
	return m
}

func startManager(t *testing.T, cfg Config) (*Manager, *task.Group) {
	t.Helper()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	var m, err = NewManager(cfg)
	require.NoError(t, err)
	var tasks = task.NewGroup(context.Background())
	m.QueueTasks(tasks)
	tasks.GoRun()
	t.Cleanup(func() {
		tasks.Cancel()
		_ = tasks.Wait()
	})
	return m, tasks
}

func TestPerTypeDefaults(t *testing.T) {
	var m = mustManager(t, Config{})
	require.Equal(t, 5*time.Second, m.TimeoutFor(pf.TypeBalanceInquiry))
	require.Equal(t, 10*time.Second, m.TimeoutFor(pf.TypeWithdrawal))
	require.Equal(t, 15*time.Second, m.TimeoutFor(pf.TypeTransfer))
	require.Equal(t, 30*time.Second, m.TimeoutFor(pf.TypeBillPayment))
	require.Equal(t, 30*time.Second, m.TimeoutFor(pf.TransactionType("UNKNOWN")))
	require.Equal(t, 30*time.Second, m.MaxTimeout())

	var m2 = mustManager(t, Config{Timeouts: map[pf.TransactionType]time.Duration{
		pf.TypeWithdrawal: time.Minute,
	}})
	require.Equal(t, time.Minute, m2.TimeoutFor(pf.TypeWithdrawal))
	require.Equal(t, time.Minute, m2.MaxTimeout())
}

func TestNonPositiveOverrideRejected(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		var _, err = NewManager(Config{Timeouts: map[pf.TransactionType]time.Duration{
			pf.TypeTransfer: d,
		}})
		require.Error(t, err)
	}
}

func TestWarningThenExpiration(t *testing.T) {
	var m, _ = startManager(t, Config{})

	var warnings, timeouts atomic.Int32
	var warnedRemaining atomic.Int64

	var tr, err = m.StartTracking("txn-1", pf.TypeWithdrawal, 250*time.Millisecond, Callbacks{
		OnWarning: func(t *Tracker) {
			warnings.Add(1)
			warnedRemaining.Store(int64(t.Remaining()))
		},
		OnTimeout: func(*Tracker) { timeouts.Add(1) },
	})
	require.NoError(t, err)
	require.Equal(t, Active, tr.State())
	require.Equal(t, 1, m.ActiveCount())

	// Warning fires near the 80% mark, with time still remaining.
	require.Eventually(t, func() bool { return warnings.Load() == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, Warning, tr.State())
	require.Greater(t, warnedRemaining.Load(), int64(0))

	require.Eventually(t, func() bool { return timeouts.Load() == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, Expired, tr.State())
	require.Zero(t, m.ActiveCount())
	require.Zero(t, tr.Remaining())

	// Terminal states are sticky: completion after expiry is refused and
	// no second callback ever fires.
	require.False(t, m.CompleteTracking("txn-1"))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), timeouts.Load())
	require.Equal(t, int32(1), warnings.Load())
}

func TestCompletionSuppressesCallbacks(t *testing.T) {
	var m, _ = startManager(t, Config{})

	var fired atomic.Int32
	var _, err = m.StartTracking("txn-2", pf.TypeTransfer, 100*time.Millisecond, Callbacks{
		OnWarning: func(*Tracker) { fired.Add(1) },
		OnTimeout: func(*Tracker) { fired.Add(1) },
	})
	require.NoError(t, err)

	require.True(t, m.CompleteTracking("txn-2"))
	require.False(t, m.CompleteTracking("txn-2"))
	require.Zero(t, m.ActiveCount())

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestDuplicateTrackingRejected(t *testing.T) {
	var m = mustManager(t, Config{})
	var _, err = m.StartTracking("txn-3", pf.TypeWithdrawal, time.Second, Callbacks{})
	require.NoError(t, err)

	_, err = m.StartTracking("txn-3", pf.TypeWithdrawal, time.Second, Callbacks{})
	require.ErrorIs(t, err, ErrAlreadyTracked)
}

func TestRemainingNeverNegative(t *testing.T) {
	var m = mustManager(t, Config{})
	var tr, err = m.StartTracking("txn-4", pf.TypeBalanceInquiry, time.Millisecond, Callbacks{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.Zero(t, tr.Remaining())
	require.Zero(t, m.Remaining("missing"))
}

func TestExecuteWithTimeout(t *testing.T) {
	var m, _ = startManager(t, Config{
		Timeouts: map[pf.TransactionType]time.Duration{pf.TypeWithdrawal: 100 * time.Millisecond},
	})

	// Completes in time.
	var err = m.ExecuteWithTimeout(context.Background(), "fast", pf.TypeWithdrawal, Callbacks{},
		func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Zero(t, m.ActiveCount())

	// Outlives its deadline.
	err = m.ExecuteWithTimeout(context.Background(), "slow", pf.TypeWithdrawal, Callbacks{},
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestShutdownStopsCallbacks(t *testing.T) {
	var m, _ = startManager(t, Config{})

	var fired atomic.Int32
	var _, err = m.StartTracking("txn-5", pf.TypeWithdrawal, 50*time.Millisecond, Callbacks{
		OnTimeout: func(*Tracker) { fired.Add(1) },
	})
	require.NoError(t, err)

	m.Shutdown()
	require.Zero(t, m.ActiveCount())

	time.Sleep(150 * time.Millisecond)
	require.Zero(t, fired.Load())

	_, err = m.StartTracking("txn-6", pf.TypeWithdrawal, time.Second, Callbacks{})
	require.Error(t, err)
}
