package fep

import (
	"strings"
	"time"

	pb "go.gazette.dev/core/broker/protocol"
)

// TransactionType classifies a request for routing to a processor.
type TransactionType string

// String returns the TransactionType as a string.
func (t TransactionType) String() string { return string(t) }

const (
	TypeBalanceInquiry TransactionType = "BALANCE_INQUIRY"
	TypeWithdrawal     TransactionType = "WITHDRAWAL"
	TypeTransfer       TransactionType = "TRANSFER"
	TypeBillPayment    TransactionType = "BILL_PAYMENT"
	TypeReversal       TransactionType = "REVERSAL"
)

// TransactionRequest is the pipeline's view of an inbound request, however it
// arrived (socket, scheduled-transfer sweep, or test harness). Amounts are in
// minor currency units.
type TransactionRequest struct {
	ID             string          `json:"id" yaml:"id"`
	Type           TransactionType `json:"type" yaml:"type"`
	ProcessingCode string          `json:"processingCode,omitempty" yaml:"processingCode,omitempty"`
	PAN            string          `json:"pan,omitempty" yaml:"pan,omitempty"`
	ExpiryDate     string          `json:"expiryDate,omitempty" yaml:"expiryDate,omitempty"` // YYMM.
	Amount         int64           `json:"amount" yaml:"amount"`
	Currency       string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	SourceAccount  string          `json:"sourceAccount,omitempty" yaml:"sourceAccount,omitempty"`
	DestAccount    string          `json:"destAccount,omitempty" yaml:"destAccount,omitempty"`
	Terminal       string          `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	RRN            string          `json:"rrn,omitempty" yaml:"rrn,omitempty"`
	STAN           string          `json:"stan,omitempty" yaml:"stan,omitempty"`
	PINBlock       string          `json:"pinBlock,omitempty" yaml:"pinBlock,omitempty"`
	AcquirerCode   string          `json:"acquirerCode,omitempty" yaml:"acquirerCode,omitempty"`
	Channel        string          `json:"channel,omitempty" yaml:"channel,omitempty"`
	CustomerID     string          `json:"customerId,omitempty" yaml:"customerId,omitempty"`
	// OriginalID references the transaction being reversed (reversals only).
	OriginalID string `json:"originalId,omitempty" yaml:"originalId,omitempty"`
	// Extensions carry type-specific inputs (e-ticket card, QR payload,
	// SWIFT beneficiary, biller code, and so on).
	Extensions map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt,omitempty" yaml:"receivedAt,omitempty"`
}

// Validate returns an error if the TransactionRequest is malformed.
func (r *TransactionRequest) Validate() error {
	if r.ID == "" {
		return pb.NewValidationError("missing ID")
	} else if r.Type == "" {
		return pb.NewValidationError("missing Type")
	} else if r.Amount < 0 {
		return pb.NewValidationError("negative Amount (%d)", r.Amount)
	}
	return nil
}

// MaskedPAN returns the PAN with all but the first six and last four digits
// masked, suitable for logs and audit records.
func (r *TransactionRequest) MaskedPAN() string {
	if len(r.PAN) < 10 {
		return strings.Repeat("*", len(r.PAN))
	}
	return r.PAN[:6] + strings.Repeat("*", len(r.PAN)-10) + r.PAN[len(r.PAN)-4:]
}

// Fingerprint identifies the request for duplicate detection. Absent
// components contribute as empty strings.
func (r *TransactionRequest) Fingerprint() string {
	return r.RRN + "|" + r.STAN + "|" + r.Terminal
}

// TransactionResponse is the pipeline's outcome for a request.
type TransactionResponse struct {
	TransactionID string `json:"transactionId"`
	Code          string `json:"code"`
	Approved      bool   `json:"approved"`
	// AuthCode is present on approvals (six digits).
	AuthCode string `json:"authCode,omitempty"`
	// Reason is a machine-readable decline reason; Description is for humans.
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description,omitempty"`
	// Echoed correlation fields.
	RRN  string `json:"rrn,omitempty"`
	STAN string `json:"stan,omitempty"`
	// Extensions carry type-specific outputs (balances, beneficiary name...).
	Extensions       map[string]string `json:"extensions,omitempty"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

// Validate returns an error if the TransactionResponse is malformed.
func (r *TransactionResponse) Validate() error {
	if r.Code == "" {
		return pb.NewValidationError("missing Code")
	} else if r.Approved != IsApproval(r.Code) {
		return pb.NewValidationError("Approved is inconsistent with Code %q", r.Code)
	}
	return nil
}

// SetExtension sets a type-specific output, allocating Extensions if needed.
func (r *TransactionResponse) SetExtension(key, value string) {
	if r.Extensions == nil {
		r.Extensions = make(map[string]string)
	}
	r.Extensions[key] = value
}

// Approve builds an approved response echoing the request's correlation fields.
func Approve(req *TransactionRequest, authCode string) *TransactionResponse {
	return &TransactionResponse{
		TransactionID: req.ID,
		Code:          CodeApproved,
		Approved:      true,
		AuthCode:      authCode,
		Description:   CodeDescription(CodeApproved),
		RRN:           req.RRN,
		STAN:          req.STAN,
	}
}

// Decline builds a declined response with the given code and reason.
func Decline(req *TransactionRequest, code, reason string) *TransactionResponse {
	return &TransactionResponse{
		TransactionID: req.ID,
		Code:          code,
		Approved:      false,
		Reason:        reason,
		Description:   CodeDescription(code),
		RRN:           req.RRN,
		STAN:          req.STAN,
	}
}

// TransactionStatus is the repository lifecycle state of a transaction record.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusDeclined TransactionStatus = "DECLINED"
	StatusReversed TransactionStatus = "REVERSED"
	StatusTimedOut TransactionStatus = "TIMED_OUT"
)
