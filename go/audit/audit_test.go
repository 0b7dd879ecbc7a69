package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/paynet/fep/go/limits"
	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/store"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	recs []*store.Record
	err  error
}

func (p *capturePublisher) Publish(_ *pipeline.Context, rec *store.Record) error {
	if p.err != nil {
		return p.err
	}
	p.recs = append(p.recs, rec)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func withdrawal() *pf.TransactionRequest {
	return &pf.TransactionRequest{
		ID:         "txn-1",
		Type:       pf.TypeWithdrawal,
		Amount:     10_000,
		CustomerID: "CUST-1",
		RRN:        "100000000001",
		STAN:       "000001",
	}
}

func TestApprovalIsPersistedAndCharged(t *testing.T) {
	var repo = store.NewMemory()
	var lm = limits.NewManager(nil)
	var pub = new(capturePublisher)

	var p = pipeline.New().
		Register(pipeline.StageProcessing, pipeline.HandlerFunc{ID: "approve",
			Fn: func(pc *pipeline.Context) error {
				pc.Response = pf.Approve(pc.Request, "123456")
				return nil
			}}).
		Register(pipeline.StageAudit, Handler(repo, lm, pub))

	var resp = p.Execute(context.Background(), withdrawal())
	require.True(t, resp.Approved)

	var rec, err = repo.FindByID(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Equal(t, pf.StatusApproved, rec.Status)
	require.Equal(t, "123456", rec.AuthCode)

	var day, count, _ = lm.Usage("CUST-1", pf.TypeWithdrawal)
	require.Equal(t, int64(10_000), day)
	require.Equal(t, 1, count)

	require.Len(t, pub.recs, 1)
	require.Equal(t, "txn-1", pub.recs[0].ID)
}

func TestDeclineIsPersistedWithoutCharge(t *testing.T) {
	var repo = store.NewMemory()
	var lm = limits.NewManager(nil)

	var p = pipeline.New().
		Register(pipeline.StageValidation, pipeline.HandlerFunc{ID: "decline",
			Fn: func(*pipeline.Context) error {
				return pf.NewTransactionError(pf.CodeExceedsWithdrawal, "DAILY_LIMIT_EXCEEDED", "")
			}}).
		Register(pipeline.StageAudit, Handler(repo, lm, nil))

	var resp = p.Execute(context.Background(), withdrawal())
	require.False(t, resp.Approved)

	var rec, err = repo.FindByID(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Equal(t, pf.StatusDeclined, rec.Status)
	require.Equal(t, pf.CodeExceedsWithdrawal, rec.Code)

	var day, count, _ = lm.Usage("CUST-1", pf.TypeWithdrawal)
	require.Zero(t, day)
	require.Zero(t, count)
}

func TestPublishFailureDoesNotAlterOutcome(t *testing.T) {
	var repo = store.NewMemory()
	var pub = &capturePublisher{err: errors.New("broker down")}

	var p = pipeline.New().
		Register(pipeline.StageProcessing, pipeline.HandlerFunc{ID: "approve",
			Fn: func(pc *pipeline.Context) error {
				pc.Response = pf.Approve(pc.Request, "123456")
				return nil
			}}).
		Register(pipeline.StageAudit, Handler(repo, nil, pub))

	var resp = p.Execute(context.Background(), withdrawal())
	require.True(t, resp.Approved)

	// The record is still on file.
	var _, err = repo.FindByID(context.Background(), "txn-1")
	require.NoError(t, err)
}
