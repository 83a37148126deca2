package message

import (
	"encoding/binary"

	"github.com/arcemit/coap/message/codes"
)

// TCP/TLS framing (RFC 8323 §3.3): a variable length-prefix, a fixed 1-byte
// Code, the token, the options and an optional payload. There is no Type
// and no MessageID; reliability comes from the byte stream itself.
const (
	tcpLenByteBase = 13
	tcpLenByteMax  = 269 // 13 + 256
	tcpLenWordBase = 269
	tcpLenWordMax  = 65805 // 269 + 65536
	tcpLenDWordBase = 65805
)

// EncodeTCP serializes m using the RFC 8323 framing. MessageID and Type are
// not transmitted.
func EncodeTCP(m *Message) ([]byte, error) {
	if len(m.Token) > MaxTokenSize {
		return nil, ErrInvalidTokenLen
	}
	if !m.Options.IsSorted() {
		return nil, ErrInvalidOptionOrder
	}

	body := make([]byte, 0, len(m.Token)+32+len(m.Payload))
	prev := OptionNumber(0)
	for _, opt := range m.Options {
		delta := int(opt.Number) - int(prev)
		if delta < 0 {
			return nil, ErrInvalidOptionOrder
		}
		var err error
		body, err = appendOptionHeader(body, delta, len(opt.Value))
		if err != nil {
			return nil, err
		}
		body = append(body, opt.Value...)
		prev = opt.Number
	}
	if len(m.Payload) > 0 {
		body = append(body, payloadMarker)
		body = append(body, m.Payload...)
	}

	length := len(body)
	lenNibble, extBytes, err := tcpExtendLength(length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 2+len(extBytes)+len(m.Token)+len(body))
	out = append(out, byte(lenNibble<<4)|byte(len(m.Token)&0x0f))
	out = append(out, extBytes...)
	out = append(out, byte(m.Code))
	out = append(out, m.Token...)
	out = append(out, body...)
	return out, nil
}

func tcpExtendLength(length int) (nibble int, ext []byte, err error) {
	switch {
	case length < tcpLenByteBase:
		return length, nil, nil
	case length < tcpLenByteMax:
		return tcpLenByteBase, []byte{byte(length - tcpLenByteBase)}, nil
	case length < tcpLenWordMax:
		tmp := make([]byte, 2)
		binary.BigEndian.PutUint16(tmp, uint16(length-tcpLenWordBase))
		return 14, tmp, nil
	default:
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, uint32(length-tcpLenDWordBase))
		return 15, tmp, nil
	}
}

// DecodeTCP parses a single RFC 8323-framed message from the front of data,
// returning the message and the number of bytes consumed so the caller
// (normally the session's stream reader) can advance past it. Returns
// ErrMalformed with consumed=0 if data does not yet hold a complete frame;
// callers should treat that as "need more bytes", not a fatal error, since
// TCP framing is delivered incrementally.
func DecodeTCP(data []byte) (m *Message, consumed int, err error) {
	if len(data) < 1 {
		return nil, 0, ErrMalformed
	}
	lenNibble := int(data[0] >> 4)
	tokenLen := int(data[0] & 0x0f)
	if tokenLen > MaxTokenSize {
		return nil, 0, ErrInvalidTokenLen
	}
	off := 1
	var length int
	switch lenNibble {
	case tcpLenByteBase:
		if len(data) < off+1 {
			return nil, 0, ErrMalformed
		}
		length = int(data[off]) + tcpLenByteBase
		off++
	case 14:
		if len(data) < off+2 {
			return nil, 0, ErrMalformed
		}
		length = int(binary.BigEndian.Uint16(data[off:off+2])) + tcpLenWordBase
		off += 2
	case 15:
		if len(data) < off+4 {
			return nil, 0, ErrMalformed
		}
		length = int(binary.BigEndian.Uint32(data[off:off+4])) + tcpLenDWordBase
		off += 4
	default:
		length = lenNibble
	}

	if len(data) < off+1 {
		return nil, 0, ErrMalformed
	}
	code := codes.Code(data[off])
	off++

	if len(data) < off+tokenLen {
		return nil, 0, ErrMalformed
	}
	var token Token
	if tokenLen > 0 {
		token = Token(data[off : off+tokenLen])
	}
	off += tokenLen

	if len(data) < off+length {
		// full frame not yet available
		return nil, 0, ErrMalformed
	}
	body := data[off : off+length]
	off += length

	opts, payload, err := decodeOptions(body)
	if err != nil {
		return nil, 0, err
	}

	m = &Message{
		Code:    code,
		Token:   token,
		Options: opts,
		Payload: payload,
	}
	return m, off, nil
}
