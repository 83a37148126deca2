package message

import (
	"encoding/binary"

	"github.com/arcemit/coap/message/codes"
)

// UDP framing constants (RFC 7252 §3).
const (
	udpVersion    = 1
	udpHeaderSize = 4
	payloadMarker = 0xff
)

// MaxMessageSize bounds a single encoded UDP datagram this codec will
// produce; larger payloads must go through the block-wise engine (§4.G).
const MaxMessageSize = 1152

const (
	extOptByteBase = 13
	extOptByteMax  = 268
	extOptWordBase = 269
	extOptReserved = 15
)

// EncodeUDP serializes m using the RFC 7252 UDP framing: a 4-byte header
// (version|type|token-length, code, message-id), the token, the options in
// ascending Number order with delta+length encoding, an 0xFF payload
// marker, then the payload.
//
// The caller's Options must already be sorted by Number (ties allowed);
// EncodeUDP never reorders them so that repeated-option ordering picked by
// the caller (e.g. URI-Path segment order) is preserved verbatim.
func EncodeUDP(m *Message) ([]byte, error) {
	if len(m.Token) > MaxTokenSize {
		return nil, ErrInvalidTokenLen
	}
	if !m.Options.IsSorted() {
		return nil, ErrInvalidOptionOrder
	}

	buf := make([]byte, 0, udpHeaderSize+len(m.Token)+32+len(m.Payload))
	buf = append(buf, (udpVersion<<6)|(uint8(m.Type)<<4)|uint8(len(m.Token)&0x0f))
	buf = append(buf, byte(m.Code))
	buf = append(buf, byte(m.MessageID>>8), byte(m.MessageID))
	buf = append(buf, m.Token...)

	prev := OptionNumber(0)
	for _, opt := range m.Options {
		if len(opt.Value) > 65535+extOptWordBase {
			return nil, ErrEncodingTooLarge
		}
		delta := int(opt.Number) - int(prev)
		if delta < 0 {
			return nil, ErrInvalidOptionOrder
		}
		var err error
		buf, err = appendOptionHeader(buf, delta, len(opt.Value))
		if err != nil {
			return nil, err
		}
		buf = append(buf, opt.Value...)
		prev = opt.Number
	}

	if len(m.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, m.Payload...)
	}
	if len(buf) > MaxMessageSize {
		return nil, ErrEncodingTooLarge
	}
	return buf, nil
}

func appendOptionHeader(buf []byte, delta, length int) ([]byte, error) {
	d, dext, err := extendOption(delta)
	if err != nil {
		return nil, err
	}
	l, lext, err := extendOption(length)
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(d<<4)|byte(l))
	buf = appendExt(buf, d, dext)
	buf = appendExt(buf, l, lext)
	return buf, nil
}

func appendExt(buf []byte, nibble, ext int) []byte {
	switch nibble {
	case extOptByteBase:
		return append(buf, byte(ext))
	case 14:
		tmp := make([]byte, 2)
		binary.BigEndian.PutUint16(tmp, uint16(ext))
		return append(buf, tmp...)
	default:
		return buf
	}
}

func extendOption(v int) (nibble, ext int, err error) {
	switch {
	case v < extOptByteBase:
		return v, 0, nil
	case v <= extOptByteMax:
		return extOptByteBase, v - extOptByteBase, nil
	case v-extOptWordBase <= 65535:
		return 14, v - extOptWordBase, nil
	default:
		return 0, 0, ErrEncodingTooLarge
	}
}

// DecodeUDP parses data as a UDP-framed CoAP message. Option values in the
// returned Message alias data; the caller must keep data alive for as long
// as it holds onto the Message (or call Message.Clone).
func DecodeUDP(data []byte) (*Message, error) {
	if len(data) < udpHeaderSize {
		return nil, ErrMalformed
	}
	if data[0]>>6 != udpVersion {
		return nil, ErrMalformed
	}
	m := &Message{}
	m.Type = Type((data[0] >> 4) & 0x3)
	tokenLen := int(data[0] & 0x0f)
	if tokenLen > MaxTokenSize {
		return nil, ErrMalformed
	}
	m.Code = codes.Code(data[1])
	m.MessageID = binary.BigEndian.Uint16(data[2:4])

	rest := data[udpHeaderSize:]
	if len(rest) < tokenLen {
		return nil, ErrMalformed
	}
	if tokenLen > 0 {
		m.Token = Token(rest[:tokenLen])
	}
	rest = rest[tokenLen:]

	opts, payload, err := decodeOptions(rest)
	if err != nil {
		return nil, err
	}
	m.Options = opts
	m.Payload = payload
	return m, nil
}

func decodeOptions(b []byte) (Options, []byte, error) {
	var opts Options
	prev := OptionNumber(0)
	for len(b) > 0 {
		if b[0] == payloadMarker {
			b = b[1:]
			if len(b) == 0 {
				// 0xFF present but no payload bytes follow: malformed per
				// spec.md §4.A ("missing payload marker byte after 0xFF").
				return nil, nil, ErrMalformed
			}
			return opts, b, nil
		}
		deltaNibble := int(b[0] >> 4)
		lengthNibble := int(b[0] & 0x0f)
		if deltaNibble == extOptReserved || lengthNibble == extOptReserved {
			return nil, nil, ErrMalformed
		}
		b = b[1:]

		delta, b2, err := readExt(b, deltaNibble)
		if err != nil {
			return nil, nil, err
		}
		b = b2
		length, b3, err := readExt(b, lengthNibble)
		if err != nil {
			return nil, nil, err
		}
		b = b3

		if len(b) < length {
			return nil, nil, ErrMalformed
		}
		number := prev + OptionNumber(delta)
		opts = append(opts, Option{Number: number, Value: b[:length]})
		b = b[length:]
		prev = number
	}
	return opts, nil, nil
}

func readExt(b []byte, nibble int) (value int, rest []byte, err error) {
	switch nibble {
	case extOptByteBase:
		if len(b) < 1 {
			return 0, nil, ErrMalformed
		}
		return int(b[0]) + extOptByteBase, b[1:], nil
	case 14:
		if len(b) < 2 {
			return 0, nil, ErrMalformed
		}
		return int(binary.BigEndian.Uint16(b[:2])) + extOptWordBase, b[2:], nil
	default:
		return nibble, b, nil
	}
}
