package process

import (
	"errors"
	"fmt"

	"github.com/paynet/fep/go/limits"
	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/store"
	log "github.com/sirupsen/logrus"
)

// ReversalProcessor undoes a previously approved transaction: the original
// record flips to REVERSED, its ledger movement is compensated, and the
// customer's limit usage is restored.
type ReversalProcessor struct {
	Base
	Repo   store.Repository
	Ledger Ledger
	Limits *limits.Manager
}

// NewReversalProcessor returns a ReversalProcessor.
func NewReversalProcessor(repo store.Repository, ledger Ledger, lm *limits.Manager) *ReversalProcessor {
	return &ReversalProcessor{
		Base:   Base{Typ: pf.TypeReversal},
		Repo:   repo,
		Ledger: ledger,
		Limits: lm,
	}
}

func (p *ReversalProcessor) Validate(pc *pipeline.Context) error {
	if pc.Request.OriginalID == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_ORIGINAL_ID", "")
	}
	return nil
}

func (p *ReversalProcessor) DoProcess(pc *pipeline.Context) error {
	var req = pc.Request

	var orig, err = p.Repo.FindByID(pc.Ctx(), req.OriginalID)
	if errors.Is(err, store.ErrNotFound) {
		return pf.NewTransactionError(pf.CodeInvalidTransaction,
			"ORIGINAL_NOT_FOUND", "transaction %s", req.OriginalID)
	} else if err != nil {
		return fmt.Errorf("loading original transaction: %w", err)
	}

	if orig.Status == pf.StatusReversed {
		// Reversals are idempotent: re-approving is safer than making the
		// terminal retry forever.
		pc.Response = pf.Approve(req, newAuthCode())
		return nil
	}
	if orig.Status != pf.StatusApproved {
		return pf.NewTransactionError(pf.CodeInvalidTransaction,
			"ORIGINAL_NOT_APPROVED", "status %s", orig.Status)
	}

	// Compensate the ledger movement of the original, where one exists.
	switch orig.Type {
	case pf.TypeWithdrawal, pf.TypeBillPayment:
		if orig.SourceAccount != "" {
			if _, err = p.Ledger.Credit(pc.Ctx(), orig.SourceAccount, orig.Amount); err != nil {
				return fmt.Errorf("crediting reversal: %w", err)
			}
		}
	case pf.TypeTransfer:
		if orig.DestAccount != "" {
			if _, err = p.Ledger.Debit(pc.Ctx(), orig.DestAccount, orig.Amount); err != nil {
				log.WithFields(log.Fields{
					"txn":  req.ID,
					"dest": orig.DestAccount,
					"err":  err,
				}).Warn("reversal could not reclaim transferred funds")
			}
		}
		if orig.SourceAccount != "" {
			if _, err = p.Ledger.Credit(pc.Ctx(), orig.SourceAccount, orig.Amount); err != nil {
				return fmt.Errorf("crediting reversal: %w", err)
			}
		}
	}

	if err = p.Repo.UpdateStatus(pc.Ctx(), orig.ID, pf.StatusReversed); err != nil {
		return fmt.Errorf("marking original reversed: %w", err)
	}
	if p.Limits != nil {
		p.Limits.RecordReversal(orig.ID)
	}

	pc.Response = pf.Approve(req, newAuthCode())
	return nil
}
