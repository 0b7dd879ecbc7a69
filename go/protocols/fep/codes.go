package fep

// Response codes follow ISO 8583 conventions. The core treats them as opaque
// strings beyond the approved / declined split.
const (
	CodeApproved              = "00"
	CodeDoNotHonor            = "05"
	CodeInvalidTransaction    = "12"
	CodeInvalidAmount         = "13"
	CodeInvalidCard           = "14"
	CodeFormatError           = "30"
	CodeNoSuchAccount         = "52"
	CodeInsufficientFunds     = "51"
	CodeExpiredCard           = "54"
	CodeIncorrectPIN          = "55"
	CodeTxnNotPermitted       = "57"
	CodeTerminalNotPermitted  = "58"
	CodeExceedsWithdrawal     = "61"
	CodeExceedsFrequency      = "65"
	CodeResponseTooLate       = "68"
	CodePINRequired           = "75"
	CodeIssuerInoperative     = "91"
	CodeDuplicateTransmission = "94"
	CodeSystemMalfunction     = "96"
)

var codeDescriptions = map[string]string{
	CodeApproved:              "approved",
	CodeDoNotHonor:            "do not honor",
	CodeInvalidTransaction:    "invalid transaction",
	CodeInvalidAmount:         "invalid amount",
	CodeInvalidCard:           "invalid card number",
	CodeFormatError:           "format error",
	CodeNoSuchAccount:         "no such account",
	CodeInsufficientFunds:     "insufficient funds",
	CodeExpiredCard:           "expired card",
	CodeIncorrectPIN:          "incorrect PIN",
	CodeTxnNotPermitted:       "transaction not permitted",
	CodeTerminalNotPermitted:  "transaction not permitted to terminal",
	CodeExceedsWithdrawal:     "exceeds withdrawal limit",
	CodeExceedsFrequency:      "exceeds withdrawal frequency",
	CodeResponseTooLate:       "response received too late",
	CodePINRequired:           "PIN required",
	CodeIssuerInoperative:     "issuer or switch inoperative",
	CodeDuplicateTransmission: "duplicate transmission",
	CodeSystemMalfunction:     "system malfunction",
}

// CodeDescription returns the human-readable description of a response code,
// or "unknown response code" if it isn't one the core enumerates.
func CodeDescription(code string) string {
	if d, ok := codeDescriptions[code]; ok {
		return d
	}
	return "unknown response code"
}

// IsApproval reports whether |code| denotes an approved transaction.
func IsApproval(code string) bool { return code == CodeApproved }
