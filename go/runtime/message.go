package runtime

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	pf "github.com/paynet/fep/go/protocols/fep"
)

// requestOfMessage maps an inbound channel message to a pipeline request.
// Reversal MTIs map to REVERSAL; financial requests map by their
// processing-code prefix (field 3).
func requestOfMessage(channel string, msg pf.Message) (*pf.TransactionRequest, error) {
	var typ pf.TransactionType
	switch msg.MTI {
	case pf.MTIReversalRequest:
		typ = pf.TypeReversal
	case pf.MTIFinancialRequest:
		var proc = msg.Field(pf.FieldProcessingCode)
		if len(proc) < 2 {
			return nil, pf.NewTransactionError(pf.CodeFormatError,
				"MISSING_PROCESSING_CODE", "mti %s", msg.MTI)
		}
		switch proc[:2] {
		case pf.ProcWithdrawal:
			typ = pf.TypeWithdrawal
		case pf.ProcBalanceInquiry:
			typ = pf.TypeBalanceInquiry
		case pf.ProcTransfer:
			typ = pf.TypeTransfer
		case pf.ProcBillPayment:
			typ = pf.TypeBillPayment
		default:
			return nil, pf.NewTransactionError(pf.CodeTxnNotPermitted,
				"UNKNOWN_PROCESSING_CODE", "code %s", proc)
		}
	default:
		return nil, pf.NewTransactionError(pf.CodeInvalidTransaction,
			"UNSUPPORTED_MTI", "mti %s", msg.MTI)
	}

	var amount int64
	if raw := msg.Field(pf.FieldAmount); raw != "" {
		var parsed, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, pf.NewTransactionError(pf.CodeInvalidAmount,
				"UNPARSEABLE_AMOUNT", "amount %q", raw)
		}
		amount = parsed
	}

	return &pf.TransactionRequest{
		ID:             uuid.NewString(),
		Type:           typ,
		ProcessingCode: msg.Field(pf.FieldProcessingCode),
		PAN:            msg.Field(pf.FieldPAN),
		ExpiryDate:     msg.Field(pf.FieldExpiryDate),
		Amount:         amount,
		Currency:       msg.Field(pf.FieldCurrency),
		SourceAccount:  msg.Field(pf.FieldSourceAccount),
		DestAccount:    msg.Field(pf.FieldDestAccount),
		Terminal:       msg.Terminal,
		RRN:            msg.RRN,
		STAN:           msg.STAN,
		PINBlock:       msg.Field(pf.FieldPINBlock),
		Channel:        channel,
		CustomerID:     msg.Field(pf.FieldCustomerID),
		OriginalID:     msg.Field(pf.FieldOriginalID),
		ReceivedAt:     time.Now(),
	}, nil
}

// messageOfResponse maps a pipeline response back onto the wire, echoing
// the request's correlation fields.
func messageOfResponse(msg pf.Message, resp *pf.TransactionResponse) pf.Message {
	var out = pf.Message{
		MTI:      pf.ResponseMTI(msg.MTI),
		STAN:     msg.STAN,
		RRN:      msg.RRN,
		Terminal: msg.Terminal,
	}
	out.SetField(pf.FieldResponseCode, resp.Code)
	if resp.AuthCode != "" {
		out.SetField(pf.FieldAuthCode, resp.AuthCode)
	}
	if bal, ok := resp.Extensions["balance"]; ok {
		out.SetField(pf.FieldBalance, bal)
	}
	if proc := msg.Field(pf.FieldProcessingCode); proc != "" {
		out.SetField(pf.FieldProcessingCode, proc)
	}
	return out
}

// declineMessage answers a message the gateway could not map at all.
func declineMessage(msg pf.Message, code string) pf.Message {
	var out = pf.Message{
		MTI:      pf.ResponseMTI(msg.MTI),
		STAN:     msg.STAN,
		RRN:      msg.RRN,
		Terminal: msg.Terminal,
	}
	out.SetField(pf.FieldResponseCode, code)
	return out
}
