package limits

import (
	"testing"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
)

func withdrawal(id string, amount int64) *pf.TransactionRequest {
	return &pf.TransactionRequest{
		ID:         id,
		Type:       pf.TypeWithdrawal,
		Amount:     amount,
		CustomerID: "CUST-1",
	}
}

func requireBreach(t *testing.T, err error, code, reason string) {
	t.Helper()
	require.Error(t, err)
	var te, ok = pf.AsTransactionError(err)
	require.True(t, ok)
	require.Equal(t, code, te.Code)
	require.Equal(t, reason, te.Reason)
}

func TestPerTransactionLimit(t *testing.T) {
	var m = NewManager(nil)

	require.NoError(t, m.CheckLimits(withdrawal("t1", 5_000_00)))
	requireBreach(t, m.CheckLimits(withdrawal("t2", 5_000_01)),
		pf.CodeExceedsWithdrawal, "PER_TXN_LIMIT_EXCEEDED")
}

func TestDailyLimitAccumulates(t *testing.T) {
	var m = NewManager(map[pf.TransactionType]Limit{
		pf.TypeWithdrawal: {Daily: 10_000_00},
	})

	var r1 = withdrawal("t1", 6_000_00)
	require.NoError(t, m.CheckLimits(r1))
	m.RecordUsage(r1)

	// 6000 + 5000 breaches the 10000 daily cap.
	requireBreach(t, m.CheckLimits(withdrawal("t2", 5_000_00)),
		pf.CodeExceedsWithdrawal, "DAILY_LIMIT_EXCEEDED")

	// But 4000 still fits exactly.
	require.NoError(t, m.CheckLimits(withdrawal("t3", 4_000_00)))
}

func TestDailyCountLimit(t *testing.T) {
	var m = NewManager(map[pf.TransactionType]Limit{
		pf.TypeWithdrawal: {DailyCount: 2},
	})
	for i, id := range []string{"t1", "t2"} {
		var r = withdrawal(id, int64(i+1)*100_00)
		require.NoError(t, m.CheckLimits(r))
		m.RecordUsage(r)
	}
	requireBreach(t, m.CheckLimits(withdrawal("t3", 100_00)),
		pf.CodeExceedsFrequency, "DAILY_COUNT_EXCEEDED")
}

func TestRecordUsageIsIdempotent(t *testing.T) {
	var m = NewManager(nil)
	var r = withdrawal("t1", 1_000_00)

	m.RecordUsage(r)
	m.RecordUsage(r)

	var day, count, month = m.Usage("CUST-1", pf.TypeWithdrawal)
	require.Equal(t, int64(1_000_00), day)
	require.Equal(t, 1, count)
	require.Equal(t, int64(1_000_00), month)
}

func TestReversalRestoresHeadroom(t *testing.T) {
	var m = NewManager(map[pf.TransactionType]Limit{
		pf.TypeWithdrawal: {Daily: 10_000_00},
	})

	var r = withdrawal("t1", 8_000_00)
	require.NoError(t, m.CheckLimits(r))
	m.RecordUsage(r)
	requireBreach(t, m.CheckLimits(withdrawal("t2", 5_000_00)),
		pf.CodeExceedsWithdrawal, "DAILY_LIMIT_EXCEEDED")

	require.True(t, m.RecordReversal("t1"))
	require.False(t, m.RecordReversal("t1")) // Consumed.

	var day, count, _ = m.Usage("CUST-1", pf.TypeWithdrawal)
	require.Zero(t, day)
	require.Zero(t, count)
	require.NoError(t, m.CheckLimits(withdrawal("t2", 5_000_00)))
}

func TestWindowsRollOver(t *testing.T) {
	var m = NewManager(map[pf.TransactionType]Limit{
		pf.TypeWithdrawal: {Daily: 1_000_00, Monthly: 5_000_00},
	})
	var base = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	var r = withdrawal("t1", 1_000_00)
	require.NoError(t, m.CheckLimits(r))
	m.RecordUsage(r)
	requireBreach(t, m.CheckLimits(withdrawal("t2", 1)),
		pf.CodeExceedsWithdrawal, "DAILY_LIMIT_EXCEEDED")

	// Next day: the daily window resets, the monthly window persists.
	m.now = func() time.Time { return base.AddDate(0, 0, 1) }
	require.NoError(t, m.CheckLimits(withdrawal("t2", 1_000_00)))
	var _, _, month = m.Usage("CUST-1", pf.TypeWithdrawal)
	require.Equal(t, int64(1_000_00), month)

	// Next month: everything resets.
	m.now = func() time.Time { return base.AddDate(0, 1, 0) }
	var day, count, month2 = m.Usage("CUST-1", pf.TypeWithdrawal)
	require.Zero(t, day)
	require.Zero(t, count)
	require.Zero(t, month2)
}

func TestCustomerOverrides(t *testing.T) {
	var m = NewManager(nil)
	m.SetCustomerLimit("CUST-1", pf.TypeWithdrawal, Limit{PerTransaction: 100_00})

	requireBreach(t, m.CheckLimits(withdrawal("t1", 101_00)),
		pf.CodeExceedsWithdrawal, "PER_TXN_LIMIT_EXCEEDED")

	// Other customers keep the defaults.
	var other = withdrawal("t2", 101_00)
	other.CustomerID = "CUST-2"
	require.NoError(t, m.CheckLimits(other))
}

func TestInquiriesAndReversalsAreUnlimited(t *testing.T) {
	var m = NewManager(map[pf.TransactionType]Limit{
		pf.TypeBalanceInquiry: {PerTransaction: 1},
	})
	require.NoError(t, m.CheckLimits(&pf.TransactionRequest{
		ID: "t1", Type: pf.TypeBalanceInquiry, CustomerID: "CUST-1",
	}))
	require.NoError(t, m.CheckLimits(&pf.TransactionRequest{
		ID: "t2", Type: pf.TypeReversal, Amount: 1 << 40, CustomerID: "CUST-1",
	}))
}
