package dedup

import (
	"testing"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
)

func request(rrn, stan, terminal string) pf.TransactionRequest {
	return pf.TransactionRequest{
		ID:       "txn-" + stan,
		Type:     pf.TypeWithdrawal,
		RRN:      rrn,
		STAN:     stan,
		Terminal: terminal,
	}
}

func TestDuplicateDetection(t *testing.T) {
	var d = New(time.Minute, 0)

	var req = request("100000000001", "000001", "ATM0001")
	require.NoError(t, d.Check(req))
	require.Equal(t, 1, d.Size())
	require.True(t, d.Seen(req.Fingerprint()))

	var err = d.Check(req)
	require.Error(t, err)
	var te, ok = pf.AsTransactionError(err)
	require.True(t, ok)
	require.Equal(t, pf.CodeDuplicateTransmission, te.Code)
	require.Equal(t, "DUPLICATE_TRANSMISSION", te.Reason)
}

func TestDistinctFingerprintsPass(t *testing.T) {
	var d = New(time.Minute, 0)

	require.NoError(t, d.Check(request("100000000001", "000001", "ATM0001")))
	// Same RRN and STAN from another terminal is a distinct transaction.
	require.NoError(t, d.Check(request("100000000001", "000001", "ATM0002")))
	require.NoError(t, d.Check(request("100000000001", "000002", "ATM0001")))
	require.NoError(t, d.Check(request("100000000002", "000001", "ATM0001")))
	require.Equal(t, 4, d.Size())
}

func TestRetentionExpiry(t *testing.T) {
	var d = New(20*time.Millisecond, 0)

	var req = request("100000000009", "000009", "ATM0001")
	require.NoError(t, d.Check(req))
	require.Error(t, d.Check(req))

	// Once retention lapses the fingerprint is fair game again.
	require.Eventually(t, func() bool { return !d.Seen(req.Fingerprint()) },
		time.Second, 5*time.Millisecond)
	require.NoError(t, d.Check(req))
}

func TestForgetAndClear(t *testing.T) {
	var d = New(time.Minute, 0)

	var req = request("100000000003", "000003", "ATM0001")
	require.NoError(t, d.Check(req))
	require.True(t, d.Forget(req.Fingerprint()))
	require.False(t, d.Forget(req.Fingerprint()))
	require.NoError(t, d.Check(req))

	d.Clear()
	require.Zero(t, d.Size())
	require.NoError(t, d.Check(req))
}

func TestRetentionFor(t *testing.T) {
	require.Equal(t, 2*time.Minute, RetentionFor(30*time.Second))
}
