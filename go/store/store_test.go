package store

import (
	"context"
	"path/filepath"
	"testing"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
)

// repoSuite exercises the Repository contract against an implementation.
func repoSuite(t *testing.T, repo Repository) {
	var ctx = context.Background()
	defer repo.Close()

	var _, err = repo.FindByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.UpdateStatus(ctx, "missing", pf.StatusReversed), ErrNotFound)

	var rec = &Record{
		ID:         "txn-1",
		Type:       pf.TypeWithdrawal,
		Status:     pf.StatusApproved,
		Code:       pf.CodeApproved,
		Amount:     10_000,
		Currency:   "USD",
		MaskedPAN:  "411111******1111",
		Terminal:   "ATM0001",
		CustomerID: "CUST-1",
		RRN:        "100000000001",
		STAN:       "000001",
		AuthCode:   "123456",
	}
	require.NoError(t, repo.Save(ctx, rec))

	var got *Record
	got, err = repo.FindByID(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, pf.StatusApproved, got.Status)
	require.Equal(t, int64(10_000), got.Amount)
	require.Equal(t, "411111******1111", got.MaskedPAN)
	require.False(t, got.CreatedAt.IsZero())

	// Upsert rewrites the outcome, not the identity.
	rec.Status = pf.StatusDeclined
	rec.Code = pf.CodeInsufficientFunds
	require.NoError(t, repo.Save(ctx, rec))
	got, err = repo.FindByID(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, pf.StatusDeclined, got.Status)
	require.Equal(t, pf.CodeInsufficientFunds, got.Code)

	require.NoError(t, repo.Save(ctx, &Record{
		ID: "txn-2", Type: pf.TypeTransfer, Status: pf.StatusDeclined,
		Amount: 5_000, RRN: "100000000001",
	}))
	require.NoError(t, repo.Save(ctx, &Record{
		ID: "txn-3", Type: pf.TypeTransfer, Status: pf.StatusApproved,
		Amount: 7_000, RRN: "100000000002",
	}))

	var recs []*Record
	recs, err = repo.FindByRRN(ctx, "100000000001")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = repo.FindByStatus(ctx, pf.StatusDeclined, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = repo.FindByStatus(ctx, pf.StatusDeclined, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, repo.UpdateStatus(ctx, "txn-3", pf.StatusReversed))
	got, err = repo.FindByID(ctx, "txn-3")
	require.NoError(t, err)
	require.Equal(t, pf.StatusReversed, got.Status)
}

func TestMemoryRepository(t *testing.T) {
	repoSuite(t, NewMemory())
}

func TestSQLiteRepository(t *testing.T) {
	var repo, err = NewSQLite(filepath.Join(t.TempDir(), "fep.db"))
	require.NoError(t, err)
	repoSuite(t, repo)
}

func TestFromOutcome(t *testing.T) {
	var req = &pf.TransactionRequest{
		ID:     "txn-9",
		Type:   pf.TypeWithdrawal,
		Amount: 100_00,
		PAN:    "4111111111111111",
		RRN:    "100000000009",
		STAN:   "000009",
	}

	var rec = FromOutcome(req, pf.Approve(req, "123456"))
	require.Equal(t, pf.StatusApproved, rec.Status)
	require.Equal(t, "123456", rec.AuthCode)
	require.Equal(t, "411111******1111", rec.MaskedPAN)

	rec = FromOutcome(req, pf.Decline(req, pf.CodeInsufficientFunds, "INSUFFICIENT_FUNDS"))
	require.Equal(t, pf.StatusDeclined, rec.Status)

	rec = FromOutcome(req, pf.Decline(req, pf.CodeResponseTooLate, "PROCESSING_CANCELLED"))
	require.Equal(t, pf.StatusTimedOut, rec.Status)
}
