package runtime

import (
	"testing"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
)

// testWithdrawal builds a pipeline-ready withdrawal request.
func testWithdrawal(id string) *pf.TransactionRequest {
	return &pf.TransactionRequest{
		ID:            id,
		Type:          pf.TypeWithdrawal,
		Amount:        10_000,
		PAN:           "4111111111111111",
		ExpiryDate:    "3012",
		PINBlock:      "0123456789ABCDEF",
		SourceAccount: "ACC-1",
		CustomerID:    "CUST-1",
		RRN:           "100000000099",
		STAN:          "000099",
	}
}

func TestRequestOfMessage(t *testing.T) {
	var msg = pf.Message{
		MTI:      pf.MTIFinancialRequest,
		STAN:     "000001",
		RRN:      "100000000001",
		Terminal: "ATM0001",
	}
	msg.SetField(pf.FieldProcessingCode, "010000")
	msg.SetField(pf.FieldPAN, "4111111111111111")
	msg.SetField(pf.FieldAmount, "25000")
	msg.SetField(pf.FieldSourceAccount, "ACC-1")
	msg.SetField(pf.FieldCustomerID, "CUST-1")

	var req, err = requestOfMessage("BANK_IN", msg)
	require.NoError(t, err)
	require.Equal(t, pf.TypeWithdrawal, req.Type)
	require.Equal(t, int64(25000), req.Amount)
	require.Equal(t, "BANK_IN", req.Channel)
	require.Equal(t, "ATM0001", req.Terminal)
	require.Equal(t, "000001", req.STAN)
	require.NotEmpty(t, req.ID)

	// Each processing-code prefix routes to its type.
	for proc, typ := range map[string]pf.TransactionType{
		"310000": pf.TypeBalanceInquiry,
		"400000": pf.TypeTransfer,
		"500000": pf.TypeBillPayment,
	} {
		msg.SetField(pf.FieldProcessingCode, proc)
		req, err = requestOfMessage("BANK_IN", msg)
		require.NoError(t, err)
		require.Equal(t, typ, req.Type)
	}

	// Reversal MTIs ignore the processing code.
	msg.MTI = pf.MTIReversalRequest
	msg.SetField(pf.FieldOriginalID, "orig-1")
	req, err = requestOfMessage("BANK_IN", msg)
	require.NoError(t, err)
	require.Equal(t, pf.TypeReversal, req.Type)
	require.Equal(t, "orig-1", req.OriginalID)
}

func TestRequestOfMessageRejections(t *testing.T) {
	var cases = []struct {
		name   string
		mutate func(*pf.Message)
		reason string
	}{
		{"unsupported MTI", func(m *pf.Message) { m.MTI = "0100" }, "UNSUPPORTED_MTI"},
		{"missing processing code", func(m *pf.Message) {
			delete(m.Fields, pf.FieldProcessingCode)
		}, "MISSING_PROCESSING_CODE"},
		{"unknown processing code", func(m *pf.Message) {
			m.SetField(pf.FieldProcessingCode, "990000")
		}, "UNKNOWN_PROCESSING_CODE"},
		{"garbage amount", func(m *pf.Message) {
			m.SetField(pf.FieldAmount, "lots")
		}, "UNPARSEABLE_AMOUNT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg = pf.Message{MTI: pf.MTIFinancialRequest, STAN: "000001"}
			msg.SetField(pf.FieldProcessingCode, "010000")
			msg.SetField(pf.FieldAmount, "100")
			tc.mutate(&msg)

			var _, err = requestOfMessage("CH", msg)
			var te, ok = pf.AsTransactionError(err)
			require.True(t, ok)
			require.Equal(t, tc.reason, te.Reason)
		})
	}
}

func TestMessageOfResponse(t *testing.T) {
	var msg = pf.Message{
		MTI: pf.MTIFinancialRequest, STAN: "000001", RRN: "100000000001", Terminal: "ATM0001",
	}
	msg.SetField(pf.FieldProcessingCode, "010000")

	var req = testWithdrawal("txn-1")
	var resp = pf.Approve(req, "123456")
	resp.SetExtension("balance", "90000")

	var out = messageOfResponse(msg, resp)
	require.Equal(t, pf.MTIFinancialResponse, out.MTI)
	require.Equal(t, "000001", out.STAN)
	require.Equal(t, "100000000001", out.RRN)
	require.Equal(t, pf.CodeApproved, out.Field(pf.FieldResponseCode))
	require.Equal(t, "123456", out.Field(pf.FieldAuthCode))
	require.Equal(t, "90000", out.Field(pf.FieldBalance))
	require.Equal(t, "010000", out.Field(pf.FieldProcessingCode))

	var decline = declineMessage(msg, pf.CodeFormatError)
	require.Equal(t, pf.MTIFinancialResponse, decline.MTI)
	require.Equal(t, pf.CodeFormatError, decline.Field(pf.FieldResponseCode))
}
