// Package fep holds the shared data model of the financial exchange processor:
// wire messages, transaction requests and responses, ISO-style response codes,
// and the codec contract which maps between the two.
//
// Bit-level ISO 8583 packing is deliberately not implemented here. The core
// consumes a Codec dependency, and ships a length-delimited JSON codec which is
// the default for internal links and for tests.
package fep

import (
	"encoding/json"
	"fmt"

	pb "go.gazette.dev/core/broker/protocol"
)

// Message is a channel-level message in decoded form. The core relies only on
// the enumerated header fields, which every codec must surface; remaining
// fields ride along in Fields keyed by their ISO field number.
type Message struct {
	// MTI is the message type indicator, e.g. "0200".
	// It is preserved verbatim: "0200" is never trimmed to "200".
	MTI string `json:"mti"`
	// STAN is the system trace audit number (field 11).
	STAN string `json:"stan"`
	// RRN is the retrieval reference number (field 37).
	RRN string `json:"rrn"`
	// Terminal is the terminal identifier (field 41).
	Terminal string `json:"terminal"`
	// Fields are additional fields keyed by ISO field number.
	Fields map[int]string `json:"fields,omitempty"`
}

// Validate returns an error if the Message is malformed.
func (m *Message) Validate() error {
	if m.MTI == "" {
		return pb.NewValidationError("missing MTI")
	}
	return nil
}

// Field returns the value of field |n|, or "" if unset.
func (m *Message) Field(n int) string { return m.Fields[n] }

// SetField sets field |n|, allocating Fields if needed.
func (m *Message) SetField(n int, value string) {
	if m.Fields == nil {
		m.Fields = make(map[int]string)
	}
	m.Fields[n] = value
}

// Message type indicators understood by the core.
const (
	MTIFinancialRequest  = "0200"
	MTIFinancialResponse = "0210"
	MTIReversalRequest   = "0420"
	MTIReversalResponse  = "0430"
	MTINetworkRequest    = "0800"
	MTINetworkResponse   = "0810"
)

// Network-management information codes (field 70).
const (
	NetMgmtSignOn  = "001"
	NetMgmtSignOff = "002"
	NetMgmtEcho    = "301"
)

// Well-known ISO field numbers used by the core.
const (
	FieldPAN            = 2
	FieldProcessingCode = 3
	FieldAmount         = 4
	FieldExpiryDate     = 14
	FieldAuthCode       = 38
	// FieldResponseCode carries the response code of a response message.
	FieldResponseCode = 39
	FieldCurrency     = 49
	FieldPINBlock     = 52
	// FieldBalance carries the post-transaction balance on approvals.
	FieldBalance = 54
	// FieldNetMgmtCode carries the network-management information code.
	FieldNetMgmtCode = 70
	// FieldOriginalID references the transaction being reversed.
	FieldOriginalID    = 90
	FieldCustomerID    = 100
	FieldSourceAccount = 102
	FieldDestAccount   = 103
)

// Processing-code prefixes (field 3) mapping financial requests to
// transaction types.
const (
	ProcWithdrawal     = "01"
	ProcBalanceInquiry = "31"
	ProcTransfer       = "40"
	ProcBillPayment    = "50"
)

// ResponseMTI maps a request MTI to its response MTI ("0200" => "0210").
// Leading zeros are preserved.
func ResponseMTI(mti string) string {
	if len(mti) != 4 {
		return mti
	}
	var b = []byte(mti)
	b[3] = '0'
	b[2]++ // Function digit: request (0) => response (1), advice (2) => advice response (3).
	return string(b)
}

// Codec maps between wire bytes and Messages, and derives the correlation key
// which pairs a request with its eventual response on a connection.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
	CorrelationKey(Message) string
}

// JSONCodec is the default Codec: messages are their JSON encoding, and the
// correlation key is the (STAN, RRN) pair. It backs internal links and tests;
// production interbank links swap in an ISO 8583 codec with the same contract.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Encode the Message as JSON.
func (JSONCodec) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode a Message from its JSON encoding.
func (JSONCodec) Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	} else if err = m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// CorrelationKey of the Message. Network-management messages correlate on STAN
// alone, as sign-on and echo-test exchanges carry no RRN.
func (JSONCodec) CorrelationKey(m Message) string {
	if m.RRN == "" {
		return m.STAN
	}
	return m.STAN + "|" + m.RRN
}
