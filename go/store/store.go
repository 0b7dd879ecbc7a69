// Package store persists transaction records for audit, inquiry, and
// reversal matching. Two implementations are provided: an embedded SQLite
// repository for the gateway, and an in-memory repository for tests and
// ephemeral deployments.
package store

import (
	"context"
	"errors"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
)

// ErrNotFound: no record exists under the requested key.
var ErrNotFound = errors.New("transaction record not found")

// Record is a persisted transaction. PANs are stored masked; the clear PAN
// never reaches the repository.
type Record struct {
	ID               string               `json:"id"`
	Type             pf.TransactionType   `json:"type"`
	Status           pf.TransactionStatus `json:"status"`
	Code             string               `json:"code,omitempty"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency,omitempty"`
	MaskedPAN        string               `json:"maskedPan,omitempty"`
	SourceAccount    string               `json:"sourceAccount,omitempty"`
	DestAccount      string               `json:"destAccount,omitempty"`
	Terminal         string               `json:"terminal,omitempty"`
	Channel          string               `json:"channel,omitempty"`
	CustomerID       string               `json:"customerId,omitempty"`
	RRN              string               `json:"rrn,omitempty"`
	STAN             string               `json:"stan,omitempty"`
	AuthCode         string               `json:"authCode,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// FromOutcome builds a Record from a completed pipeline run.
func FromOutcome(req *pf.TransactionRequest, resp *pf.TransactionResponse) *Record {
	var status = pf.StatusDeclined
	if resp.Approved {
		status = pf.StatusApproved
	} else if resp.Code == pf.CodeResponseTooLate {
		status = pf.StatusTimedOut
	}
	return &Record{
		ID:               req.ID,
		Type:             req.Type,
		Status:           status,
		Code:             resp.Code,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MaskedPAN:        req.MaskedPAN(),
		SourceAccount:    req.SourceAccount,
		DestAccount:      req.DestAccount,
		Terminal:         req.Terminal,
		Channel:          req.Channel,
		CustomerID:       req.CustomerID,
		RRN:              req.RRN,
		STAN:             req.STAN,
		AuthCode:         resp.AuthCode,
		Reason:           resp.Reason,
		ProcessingTimeMs: resp.ProcessingTimeMs,
	}
}

// Repository is the persistence surface of transaction records.
type Repository interface {
	// Save upserts |rec|, stamping CreatedAt on insert and UpdatedAt always.
	Save(ctx context.Context, rec *Record) error
	// FindByID returns the record of |id|, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Record, error)
	// FindByRRN returns records matching |rrn|, newest first.
	FindByRRN(ctx context.Context, rrn string) ([]*Record, error)
	// FindByStatus returns up to |limit| records in |status|, newest first.
	FindByStatus(ctx context.Context, status pf.TransactionStatus, limit int) ([]*Record, error)
	// UpdateStatus sets the status of |id|, or returns ErrNotFound.
	UpdateStatus(ctx context.Context, id string, status pf.TransactionStatus) error
	// Close releases the repository.
	Close() error
}
