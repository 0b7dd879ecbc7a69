// Package limits holds the VALIDATION stage: request validators and the
// customer limit manager. Validators decline with a precise response code
// rather than a generic failure, so terminals can render a meaningful
// message.
package limits

import (
	"time"

	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
)

// luhnValid reports whether |digits| passes the Luhn check.
func luhnValid(digits string) bool {
	var sum, parity = 0, len(digits) % 2
	for i, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
		var d = int(r - '0')
		if i%2 == parity {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// expiryPast reports whether the YYMM |expiry| lies before |now|'s month.
// Malformed expiries report as not-past; format is checked separately.
func expiryPast(expiry string, now time.Time) bool {
	var t, err = time.Parse("0601", expiry)
	if err != nil {
		return false
	}
	// A card is valid through the last day of its expiry month.
	var endOfMonth = t.AddDate(0, 1, 0)
	return !now.Before(endOfMonth)
}

// CardValidator declines requests whose PAN fails length or Luhn checks, or
// whose card has expired. Requests without a PAN (account-based transfers)
// pass through.
func CardValidator() pipeline.Handler {
	return pipeline.HandlerFunc{ID: "validate.card", Fn: func(pc *pipeline.Context) error {
		var req = pc.Request
		if req.PAN == "" {
			return nil
		}
		if n := len(req.PAN); n < 13 || n > 19 {
			return pf.NewTransactionError(pf.CodeInvalidCard,
				"INVALID_PAN_LENGTH", "PAN length %d", n)
		}
		if !luhnValid(req.PAN) {
			return pf.NewTransactionError(pf.CodeInvalidCard,
				"LUHN_CHECK_FAILED", "PAN %s", req.MaskedPAN())
		}
		if req.ExpiryDate != "" {
			if _, err := time.Parse("0601", req.ExpiryDate); err != nil {
				return pf.NewTransactionError(pf.CodeFormatError,
					"INVALID_EXPIRY_FORMAT", "expiry %q", req.ExpiryDate)
			}
			if expiryPast(req.ExpiryDate, time.Now()) {
				return pf.NewTransactionError(pf.CodeExpiredCard,
					"CARD_EXPIRED", "expiry %s", req.ExpiryDate)
			}
		}
		return nil
	}}
}

// AmountValidator declines zero or negative amounts on monetary transactions.
// Balance inquiries and reversals carry no amount and pass through.
func AmountValidator() pipeline.Handler {
	return pipeline.HandlerFunc{ID: "validate.amount", Fn: func(pc *pipeline.Context) error {
		var req = pc.Request
		if req.Type == pf.TypeBalanceInquiry || req.Type == pf.TypeReversal {
			return nil
		}
		if req.Amount <= 0 {
			return pf.NewTransactionError(pf.CodeInvalidAmount,
				"NON_POSITIVE_AMOUNT", "amount %d", req.Amount)
		}
		return nil
	}}
}

// PINValidator requires a well-formed PIN block on withdrawals: sixteen hex
// characters, the ISO 9564 encrypted block length.
func PINValidator() pipeline.Handler {
	return pipeline.HandlerFunc{ID: "validate.pin", Fn: func(pc *pipeline.Context) error {
		var req = pc.Request
		if req.Type != pf.TypeWithdrawal {
			return nil
		}
		if req.PINBlock == "" {
			return pf.NewTransactionError(pf.CodePINRequired, "PIN_REQUIRED", "")
		}
		if len(req.PINBlock) != 16 || !isHex(req.PINBlock) {
			return pf.NewTransactionError(pf.CodeFormatError,
				"MALFORMED_PIN_BLOCK", "length %d", len(req.PINBlock))
		}
		return nil
	}}
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// TerminalValidator requires a terminal identifier on requests arriving over
// terminal-originated channel types (ATM and POS). |channelType| resolves a
// channel ID to its configured type; requests of unknown channels pass
// through.
func TerminalValidator(channelType func(channel string) string) pipeline.Handler {
	return pipeline.HandlerFunc{ID: "validate.terminal", Fn: func(pc *pipeline.Context) error {
		var req = pc.Request
		switch channelType(req.Channel) {
		case "ATM", "POS":
			if req.Terminal == "" {
				return pf.NewTransactionError(pf.CodeTerminalNotPermitted,
					"MISSING_TERMINAL", "channel %s", req.Channel)
			}
		}
		return nil
	}}
}

// Handler adapts a limit Manager into the VALIDATION stage: monetary
// requests are checked against the customer's limits before processing.
func Handler(m *Manager) pipeline.Handler {
	return pipeline.HandlerFunc{ID: "validate.limits", Fn: func(pc *pipeline.Context) error {
		return m.CheckLimits(pc.Request)
	}}
}
