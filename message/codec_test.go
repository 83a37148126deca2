package message

import (
	"bytes"
	"testing"

	"github.com/arcemit/coap/message/codes"
)

func TestEncodeDecodeUDPRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "empty RST",
			msg:  &Message{Type: Reset, Code: codes.Empty, MessageID: 0x1234},
		},
		{
			name: "GET with URI-Path and token",
			msg: &Message{
				Type:      Confirmable,
				Code:      codes.GET,
				MessageID: 1,
				Token:     Token{0xb4},
				Options:   Options{}.SetPath("time"),
			},
		},
		{
			name: "ACK with payload",
			msg: &Message{
				Type:      Acknowledgement,
				Code:      codes.Content,
				MessageID: 1,
				Payload:   []byte("1234"),
			},
		},
		{
			name: "options needing extended length",
			msg: &Message{
				Type:      Confirmable,
				Code:      codes.PUT,
				MessageID: 7,
				Token:     Token{1, 2, 3, 4, 5, 6, 7, 8},
				Options: Options{
					{Number: URIHost, Value: []byte("constrained.example")},
					{Number: URIPath, Value: bytes.Repeat([]byte{'a'}, 300)},
				},
			},
		},
		{
			// 13 is the smallest value needing the 1-byte extension (ext=0).
			name: "option value length exactly 13 (1-byte extension lower bound)",
			msg: &Message{
				Code:    codes.GET,
				Options: Options{{Number: URIPath, Value: bytes.Repeat([]byte{'a'}, 13)}},
			},
		},
		{
			name: "option value length exactly 267 (1-byte extension, ext=254)",
			msg: &Message{
				Code:    codes.GET,
				Options: Options{{Number: URIPath, Value: bytes.Repeat([]byte{'a'}, 267)}},
			},
		},
		{
			// 268 = 13 + 255 is the largest value the 1-byte extension can
			// carry (ext=255); regression case for the extOptByteMax
			// off-by-one that wrapped ext to -1/65535 on the wire.
			name: "option value length exactly 268 (1-byte extension upper bound)",
			msg: &Message{
				Code:    codes.GET,
				Options: Options{{Number: URIPath, Value: bytes.Repeat([]byte{'a'}, 268)}},
			},
		},
		{
			// 269 is the smallest value needing the 2-byte extension.
			name: "option value length exactly 269 (2-byte extension lower bound)",
			msg: &Message{
				Code:    codes.GET,
				Options: Options{{Number: URIPath, Value: bytes.Repeat([]byte{'a'}, 269)}},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := EncodeUDP(tc.msg)
			if err != nil {
				t.Fatalf("EncodeUDP: %v", err)
			}
			dec, err := DecodeUDP(enc)
			if err != nil {
				t.Fatalf("DecodeUDP: %v", err)
			}
			assertMessagesEqual(t, tc.msg, dec)
		})
	}
}

func TestPingPongWireBytes(t *testing.T) {
	// spec.md §8 scenario 1: Empty CON mid=0x1234 token=nil -> Empty RST mid=0x1234
	ping := &Message{Type: Confirmable, Code: codes.Empty, MessageID: 0x1234}
	enc, err := EncodeUDP(ping)
	if err != nil {
		t.Fatalf("EncodeUDP: %v", err)
	}
	want := []byte{0x40, 0x00, 0x12, 0x34}
	if !bytes.Equal(enc, want) {
		t.Fatalf("got % x want % x", enc, want)
	}
}

func TestGetTimeWireBytes(t *testing.T) {
	// spec.md §8 scenario 2.
	req := &Message{
		Type:      Confirmable,
		Code:      codes.GET,
		MessageID: 1,
		Options:   Options{{Number: URIPath, Value: []byte("time")}},
	}
	enc, err := EncodeUDP(req)
	if err != nil {
		t.Fatalf("EncodeUDP: %v", err)
	}
	want := []byte{0x40, 0x01, 0x00, 0x01, 0xb4, 't', 'i', 'm', 'e'}
	if !bytes.Equal(enc, want) {
		t.Fatalf("got % x want % x", enc, want)
	}

	resp := &Message{
		Type:      Acknowledgement,
		Code:      codes.Content,
		MessageID: 1,
		Payload:   []byte("1234"),
	}
	enc, err = EncodeUDP(resp)
	if err != nil {
		t.Fatalf("EncodeUDP: %v", err)
	}
	want = []byte{0x60, 0x45, 0x00, 0x01, 0xff, '1', '2', '3', '4'}
	if !bytes.Equal(enc, want) {
		t.Fatalf("got % x want % x", enc, want)
	}
}

func TestDecodeUDPMalformed(t *testing.T) {
	tests := map[string][]byte{
		"too short":                  {0x40, 0x01, 0x00},
		"bad version":                {0x00, 0x01, 0x00, 0x01},
		"token length exceeds body":  {0x48, 0x01, 0x00, 0x01, 0x01, 0x02},
		"trailing marker no payload": {0x40, 0x01, 0x00, 0x01, 0xff},
		"reserved delta nibble":      {0x40, 0x01, 0x00, 0x01, 0xf0},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeUDP(b); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEncodeUDPRejectsUnsortedOptions(t *testing.T) {
	m := &Message{
		Type: Confirmable,
		Code: codes.GET,
		Options: Options{
			{Number: URIPath, Value: []byte("b")},
			{Number: URIHost, Value: []byte("a")},
		},
	}
	if _, err := EncodeUDP(m); err != ErrInvalidOptionOrder {
		t.Fatalf("got %v want ErrInvalidOptionOrder", err)
	}
}

func TestEncodeDecodeTCPRoundTrip(t *testing.T) {
	big := bytes.Repeat([]byte{'x'}, 70000)
	tests := []*Message{
		{Code: codes.GET, Token: Token{1, 2, 3}, Options: Options{}.SetPath("a/b/c")},
		{Code: codes.Content, Payload: []byte("hello")},
		{Code: codes.Content, Payload: big},
	}
	for _, msg := range tests {
		enc, err := EncodeTCP(msg)
		if err != nil {
			t.Fatalf("EncodeTCP: %v", err)
		}
		dec, consumed, err := DecodeTCP(enc)
		if err != nil {
			t.Fatalf("DecodeTCP: %v", err)
		}
		if consumed != len(enc) {
			t.Fatalf("consumed %d want %d", consumed, len(enc))
		}
		assertMessagesEqual(t, msg, dec)
	}
}

func TestDecodeTCPPartialFrameNeedsMoreBytes(t *testing.T) {
	msg := &Message{Code: codes.Content, Payload: []byte("hello world")}
	enc, err := EncodeTCP(msg)
	if err != nil {
		t.Fatalf("EncodeTCP: %v", err)
	}
	if _, _, err := DecodeTCP(enc[:len(enc)-2]); err == nil {
		t.Fatalf("expected error on truncated frame")
	}
}

func assertMessagesEqual(t *testing.T, want, got *Message) {
	t.Helper()
	if want.Code != got.Code {
		t.Errorf("code: got %v want %v", got.Code, want.Code)
	}
	if !bytes.Equal(want.Token, got.Token) {
		t.Errorf("token: got %x want %x", got.Token, want.Token)
	}
	if !bytes.Equal(want.Payload, got.Payload) {
		t.Errorf("payload: got %d bytes want %d bytes", len(got.Payload), len(want.Payload))
	}
	if len(want.Options) != len(got.Options) {
		t.Fatalf("options: got %d want %d", len(got.Options), len(want.Options))
	}
	for i := range want.Options {
		if want.Options[i].Number != got.Options[i].Number {
			t.Errorf("option[%d] number: got %d want %d", i, got.Options[i].Number, want.Options[i].Number)
		}
		if !bytes.Equal(want.Options[i].Value, got.Options[i].Value) {
			t.Errorf("option[%d] value: got %x want %x", i, got.Options[i].Value, want.Options[i].Value)
		}
	}
}
