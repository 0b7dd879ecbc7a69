package fep

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var codec = JSONCodec{}

	var msg = Message{
		MTI:      "0200",
		STAN:     "000001",
		RRN:      "123456789012",
		Terminal: "ATM00001",
		Fields:   map[int]string{3: "010000", 4: "000000100000"},
	}

	var b, err = codec.Encode(msg)
	require.NoError(t, err)

	out, err := codec.Decode(b)
	require.NoError(t, err)
	require.Equal(t, msg, out)

	// MTI is preserved verbatim through the round trip.
	require.Equal(t, "0200", out.MTI)
}

func TestMessageValidation(t *testing.T) {
	var codec = JSONCodec{}

	var _, err = codec.Encode(Message{})
	require.Error(t, err)

	_, err = codec.Decode([]byte(`{"stan":"000001"}`))
	require.Error(t, err)

	_, err = codec.Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestCorrelationKeys(t *testing.T) {
	var codec = JSONCodec{}

	require.Equal(t, "000001|123456789012", codec.CorrelationKey(
		Message{MTI: "0200", STAN: "000001", RRN: "123456789012"}))

	// Network-management messages carry no RRN and correlate on STAN alone.
	require.Equal(t, "000777", codec.CorrelationKey(
		Message{MTI: "0800", STAN: "000777"}))
}

func TestResponseMTI(t *testing.T) {
	require.Equal(t, "0210", ResponseMTI("0200"))
	require.Equal(t, "0810", ResponseMTI("0800"))
	require.Equal(t, "0430", ResponseMTI("0420"))
	// Malformed MTIs pass through untouched.
	require.Equal(t, "200", ResponseMTI("200"))
}

func TestRequestValidationAndFingerprint(t *testing.T) {
	var req = TransactionRequest{
		ID:       "txn-1",
		Type:     TypeWithdrawal,
		Amount:   1000,
		RRN:      "123456789012",
		STAN:     "000001",
		Terminal: "ATM00001",
	}
	require.NoError(t, req.Validate())
	require.Equal(t, "123456789012|000001|ATM00001", req.Fingerprint())

	// Missing components contribute as empty strings.
	req.RRN = ""
	require.Equal(t, "|000001|ATM00001", req.Fingerprint())

	req.Amount = -1
	require.Error(t, req.Validate())
	req.Amount = 0
	req.ID = ""
	require.Error(t, req.Validate())
}

func TestMaskedPAN(t *testing.T) {
	var req = TransactionRequest{PAN: "4111111111111111"}
	require.Equal(t, "411111******1111", req.MaskedPAN())

	req.PAN = "12345"
	require.Equal(t, "*****", req.MaskedPAN())
}

func TestResponseBuilders(t *testing.T) {
	var req = TransactionRequest{
		ID:   "txn-1",
		Type: TypeWithdrawal,
		RRN:  "123456789012",
		STAN: "000001",
	}

	var approved = Approve(&req, "123456")
	require.NoError(t, approved.Validate())
	require.True(t, approved.Approved)
	require.Equal(t, "00", approved.Code)
	require.Equal(t, req.RRN, approved.RRN)
	require.Equal(t, req.STAN, approved.STAN)

	var declined = Decline(&req, CodeExceedsWithdrawal, "DAILY_LIMIT_EXCEEDED")
	require.NoError(t, declined.Validate())
	require.False(t, declined.Approved)
	require.Equal(t, "exceeds withdrawal limit", declined.Description)

	declined.Approved = true // Inconsistent with Code.
	require.Error(t, declined.Validate())
}

func TestTransactionErrorUnwrapping(t *testing.T) {
	var err error = NewTransactionError(CodeExpiredCard, "CARD_EXPIRED", "card expired %s", "2201")

	var te, ok = AsTransactionError(err)
	require.True(t, ok)
	require.Equal(t, CodeExpiredCard, te.Code)
	require.Contains(t, te.Error(), "CARD_EXPIRED")

	_, ok = AsTransactionError(nil)
	require.False(t, ok)
}
