package process

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
)

// balanceExtension carries the post-transaction balance on responses.
const balanceExtension = "balance"

// ledgerDecline maps ledger errors to response codes.
func ledgerDecline(err error) error {
	switch {
	case errors.Is(err, ErrNoAccount):
		return pf.NewTransactionError(pf.CodeNoSuchAccount, "NO_SUCH_ACCOUNT", "")
	case errors.Is(err, ErrInsufficientFunds):
		return pf.NewTransactionError(pf.CodeInsufficientFunds, "INSUFFICIENT_FUNDS", "")
	default:
		return err
	}
}

// BalanceProcessor answers balance inquiries from the ledger.
type BalanceProcessor struct {
	Base
	Ledger Ledger
}

// NewBalanceProcessor returns a BalanceProcessor over |ledger|.
func NewBalanceProcessor(ledger Ledger) *BalanceProcessor {
	return &BalanceProcessor{Base: Base{Typ: pf.TypeBalanceInquiry}, Ledger: ledger}
}

func (p *BalanceProcessor) Validate(pc *pipeline.Context) error {
	if pc.Request.SourceAccount == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_SOURCE_ACCOUNT", "")
	}
	return nil
}

func (p *BalanceProcessor) DoProcess(pc *pipeline.Context) error {
	var bal, err = p.Ledger.Balance(pc.Ctx(), pc.Request.SourceAccount)
	if err != nil {
		return ledgerDecline(err)
	}
	pc.Response = pf.Approve(pc.Request, newAuthCode())
	pc.Response.SetExtension(balanceExtension, strconv.FormatInt(bal, 10))
	return nil
}

// WithdrawalProcessor debits cash withdrawals against the ledger.
type WithdrawalProcessor struct {
	Base
	Ledger Ledger
}

// NewWithdrawalProcessor returns a WithdrawalProcessor over |ledger|.
func NewWithdrawalProcessor(ledger Ledger) *WithdrawalProcessor {
	return &WithdrawalProcessor{Base: Base{Typ: pf.TypeWithdrawal}, Ledger: ledger}
}

func (p *WithdrawalProcessor) Validate(pc *pipeline.Context) error {
	if pc.Request.SourceAccount == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_SOURCE_ACCOUNT", "")
	}
	return nil
}

func (p *WithdrawalProcessor) DoProcess(pc *pipeline.Context) error {
	var bal, err = p.Ledger.Debit(pc.Ctx(), pc.Request.SourceAccount, pc.Request.Amount)
	if err != nil {
		return ledgerDecline(err)
	}
	pc.Response = pf.Approve(pc.Request, newAuthCode())
	pc.Response.SetExtension(balanceExtension, strconv.FormatInt(bal, 10))
	return nil
}

// TransferProcessor moves funds between two ledger accounts.
type TransferProcessor struct {
	Base
	Ledger Ledger
}

// NewTransferProcessor returns a TransferProcessor over |ledger|.
func NewTransferProcessor(ledger Ledger) *TransferProcessor {
	return &TransferProcessor{Base: Base{Typ: pf.TypeTransfer}, Ledger: ledger}
}

func (p *TransferProcessor) Validate(pc *pipeline.Context) error {
	var req = pc.Request
	if req.SourceAccount == "" || req.DestAccount == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_ACCOUNT", "")
	}
	if req.SourceAccount == req.DestAccount {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "SELF_TRANSFER", "")
	}
	return nil
}

func (p *TransferProcessor) DoProcess(pc *pipeline.Context) error {
	var req = pc.Request

	var bal, err = p.Ledger.Debit(pc.Ctx(), req.SourceAccount, req.Amount)
	if err != nil {
		return ledgerDecline(err)
	}
	if _, err = p.Ledger.Credit(pc.Ctx(), req.DestAccount, req.Amount); err != nil {
		// Compensate the debit before declining.
		_, _ = p.Ledger.Credit(pc.Ctx(), req.SourceAccount, req.Amount)
		return ledgerDecline(err)
	}
	pc.Response = pf.Approve(req, newAuthCode())
	pc.Response.SetExtension(balanceExtension, strconv.FormatInt(bal, 10))
	return nil
}

// billerCodeExtension names the biller on bill payment requests.
const billerCodeExtension = "billerCode"

// billerRefExtension returns the biller's reference on approvals.
const billerRefExtension = "billerRef"

// BillPaymentProcessor debits bill payments and issues a biller reference.
type BillPaymentProcessor struct {
	Base
	Ledger Ledger
}

// NewBillPaymentProcessor returns a BillPaymentProcessor over |ledger|.
func NewBillPaymentProcessor(ledger Ledger) *BillPaymentProcessor {
	return &BillPaymentProcessor{Base: Base{Typ: pf.TypeBillPayment}, Ledger: ledger}
}

func (p *BillPaymentProcessor) Validate(pc *pipeline.Context) error {
	var req = pc.Request
	if req.SourceAccount == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_SOURCE_ACCOUNT", "")
	}
	if req.Extensions[billerCodeExtension] == "" {
		return pf.NewTransactionError(pf.CodeInvalidTransaction, "MISSING_BILLER_CODE", "")
	}
	return nil
}

func (p *BillPaymentProcessor) DoProcess(pc *pipeline.Context) error {
	var bal, err = p.Ledger.Debit(pc.Ctx(), pc.Request.SourceAccount, pc.Request.Amount)
	if err != nil {
		return ledgerDecline(err)
	}
	pc.Response = pf.Approve(pc.Request, newAuthCode())
	pc.Response.SetExtension(balanceExtension, strconv.FormatInt(bal, 10))
	pc.Response.SetExtension(billerRefExtension, uuid.NewString())
	return nil
}
