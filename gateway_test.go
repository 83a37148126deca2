package coap

import (
	"bytes"
	"testing"

	"github.com/arcemit/coap/contentformat"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	"github.com/arcemit/coap/pathfold"
)

func TestNegotiateContentFormatTranscodesToAccept(t *testing.T) {
	codec, err := contentformat.New(nil, true)
	if err != nil {
		t.Fatalf("contentformat.New: %v", err)
	}
	next := func(req *message.Message) (*message.Message, error) {
		return &message.Message{Code: codes.Content, Payload: []byte(`{"hello":"world"}`)}, nil
	}
	wrapped := NegotiateContentFormat(codec, message.AppJSON, next)

	var opts message.Options
	opts = opts.Add(message.Accept, message.EncodeUint(uint32(message.AppCBOR)))
	resp, err := wrapped(&message.Message{Options: opts})
	if err != nil {
		t.Fatalf("wrapped handler: %v", err)
	}
	cf, ok := resp.Options.Find(message.ContentFormat)
	if !ok {
		t.Fatal("expected a Content-Format option on the transcoded response")
	}
	if message.MediaType(message.DecodeUint(cf)) != message.AppCBOR {
		t.Fatalf("Content-Format = %d want %d", message.DecodeUint(cf), message.AppCBOR)
	}
	roundTrip, err := codec.CBORToJSON(bytes.NewReader(resp.Payload))
	if err != nil {
		t.Fatalf("decoding transcoded payload: %v", err)
	}
	if string(roundTrip) != `{"hello":"world"}` {
		t.Fatalf("round-tripped payload = %s want %s", roundTrip, `{"hello":"world"}`)
	}
}

func TestNegotiateContentFormatRejectsUnservableAccept(t *testing.T) {
	codec, err := contentformat.New(nil, true)
	if err != nil {
		t.Fatalf("contentformat.New: %v", err)
	}
	next := func(req *message.Message) (*message.Message, error) {
		return &message.Message{Code: codes.Content, Payload: []byte(`{}`)}, nil
	}
	wrapped := NegotiateContentFormat(codec, message.AppJSON, next)

	var opts message.Options
	opts = opts.Add(message.Accept, message.EncodeUint(9999))
	resp, err := wrapped(&message.Message{Options: opts})
	if err != nil {
		t.Fatalf("wrapped handler: %v", err)
	}
	if resp.Code != codes.NotAcceptable {
		t.Fatalf("Code = %v want %v", resp.Code, codes.NotAcceptable)
	}
}

func TestProxyViaPathFoldUnfoldsBeforeResolving(t *testing.T) {
	folder, err := pathfold.New(map[string]string{"7": "/legacy/clock"})
	if err != nil {
		t.Fatalf("pathfold.New: %v", err)
	}
	var gotLongPath string
	handler := ProxyViaPathFold(folder, func(longPath string, req *message.Message) (*message.Message, error) {
		gotLongPath = longPath
		return &message.Message{Code: codes.Content}, nil
	})

	var opts message.Options
	opts = opts.SetPath("/7")
	if _, err := handler(&message.Message{Options: opts}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotLongPath != "/legacy/clock" {
		t.Fatalf("longPath = %q want %q", gotLongPath, "/legacy/clock")
	}
}
