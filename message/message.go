// Package message implements the CoAP protocol data unit: the typed header
// fields, the token, the option list and the payload (RFC 7252 §3), shared
// by both the UDP and TCP framings.
package message

import (
	"errors"
	"fmt"

	"github.com/arcemit/coap/message/codes"
)

// Type is the CoAP message type: Confirmable, Non-confirmable,
// Acknowledgement or Reset. Only meaningful on UDP framings; TCP framings
// carry no Type field.
type Type uint8

const (
	Confirmable    Type = 0
	NonConfirmable Type = 1
	Acknowledgement Type = 2
	Reset          Type = 3
)

func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxTokenSize is the largest token length RFC 7252 permits.
const MaxTokenSize = 8

// Token is a 0-8 byte correlator between a request and its response(s),
// stable across message-id boundaries.
type Token []byte

// String renders the token as hex, matching the teacher's token.String()
// use in registrationID (coap_observe.go).
func (t Token) String() string {
	return fmt.Sprintf("%x", []byte(t))
}

// Equal reports whether two tokens have identical bytes.
func (t Token) Equal(o Token) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// MediaType identifies the Content-Format/Accept option value (RFC 7252
// §12.3).
type MediaType uint16

const (
	TextPlain     MediaType = 0
	AppLinkFormat MediaType = 40
	AppXML        MediaType = 41
	AppOctets     MediaType = 42
	AppExi        MediaType = 47
	AppJSON       MediaType = 50
	AppCBOR       MediaType = 60
)

// Errors returned by the codec. Per spec.md §4.A the decoder fails with
// Malformed for truncated/structurally-invalid input and with
// UnknownCriticalOption only after a full option walk; the encoder fails
// with InvalidOptionOrder or EncodingTooLarge.
var (
	ErrMalformed             = errors.New("coap: malformed message")
	ErrInvalidOptionOrder    = errors.New("coap: options not sorted by number")
	ErrEncodingTooLarge      = errors.New("coap: option or payload exceeds size limit")
	ErrUnknownCriticalOption = errors.New("coap: unknown critical option")
	ErrInvalidTokenLen       = errors.New("coap: invalid token length")
)

// Message is the decoded, framing-independent representation of a CoAP PDU.
//
// For UDP framings MessageID is meaningful and Type is one of
// CON/NON/ACK/RST; for TCP framings (RFC 8323) MessageID is unused and Type
// is always treated as NonConfirmable by callers, since TCP's reliability
// comes from the byte stream itself.
type Message struct {
	Type      Type
	Code      codes.Code
	MessageID uint16
	Token     Token
	Options   Options
	Payload   []byte
}

// IsConfirmable reports whether this is a UDP CON message.
func (m *Message) IsConfirmable() bool { return m.Type == Confirmable }

// Clone makes a deep copy of m, including its option values and payload.
// Used whenever a PDU must outlive the buffer it was decoded from.
func (m *Message) Clone() *Message {
	cp := &Message{
		Type:      m.Type,
		Code:      m.Code,
		MessageID: m.MessageID,
	}
	if m.Token != nil {
		cp.Token = append(Token(nil), m.Token...)
	}
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	cp.Options = make(Options, len(m.Options))
	for i, o := range m.Options {
		v := append([]byte(nil), o.Value...)
		cp.Options[i] = Option{Number: o.Number, Value: v}
	}
	return cp
}
