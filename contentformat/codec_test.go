package contentformat

import (
	"bytes"
	"testing"

	"github.com/arcemit/coap/message"
)

func TestJSONToCBORToJSONRoundTripsWithKeyRemap(t *testing.T) {
	c, err := New(map[string]int{"temperature": 1, "humidity": 2}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jsonIn := []byte(`{"temperature":21.5,"humidity":40,"label":"kitchen"}`)

	cborOut, err := c.JSONToCBOR(bytes.NewReader(jsonIn))
	if err != nil {
		t.Fatalf("JSONToCBOR: %v", err)
	}

	jsonOut, err := c.CBORToJSON(bytes.NewReader(cborOut))
	if err != nil {
		t.Fatalf("CBORToJSON: %v", err)
	}

	if !bytes.Contains(jsonOut, []byte(`"temperature":21.5`)) {
		t.Fatalf("round-tripped JSON missing temperature field: %s", jsonOut)
	}
	if !bytes.Contains(jsonOut, []byte(`"label":"kitchen"`)) {
		t.Fatalf("round-tripped JSON missing unmapped string-key field: %s", jsonOut)
	}
}

func TestJSONToCBORProducesSmallerPayloadThanRawJSON(t *testing.T) {
	c, err := New(map[string]int{"temperature": 1}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jsonIn := []byte(`{"temperature":21.5}`)
	cborOut, err := c.JSONToCBOR(bytes.NewReader(jsonIn))
	if err != nil {
		t.Fatalf("JSONToCBOR: %v", err)
	}
	if len(cborOut) >= len(jsonIn) {
		t.Fatalf("expected integer-keyed CBOR to beat JSON on size: cbor=%d json=%d", len(cborOut), len(jsonIn))
	}
}

func TestDuplicateIntegerKeyRejected(t *testing.T) {
	_, err := New(map[string]int{"a": 1, "b": 1}, false)
	if err == nil {
		t.Fatalf("expected error for duplicate integer key")
	}
}

func TestTranslateNoopWhenFormatsMatch(t *testing.T) {
	out, err := Translate([]byte("abc"), message.AppJSON, message.AppJSON, nil)
	if err != nil || string(out) != "abc" {
		t.Fatalf("Translate same-format should be a no-op, got %q %v", out, err)
	}
}

func TestNegotiatePrefersNativeWhenAccepted(t *testing.T) {
	got, ok := Negotiate([]message.MediaType{message.AppCBOR}, message.AppCBOR)
	if !ok || got != message.AppCBOR {
		t.Fatalf("got %v %v want AppCBOR true", got, ok)
	}
}

func TestNegotiateNoAcceptMeansAnyFormat(t *testing.T) {
	got, ok := Negotiate(nil, message.AppJSON)
	if !ok || got != message.AppJSON {
		t.Fatalf("got %v %v want native format accepted", got, ok)
	}
}

func TestNegotiateFailsWhenNothingMatches(t *testing.T) {
	_, ok := Negotiate([]message.MediaType{message.AppXML}, message.AppJSON)
	if ok {
		t.Fatalf("expected negotiation failure for an unsupported Accept")
	}
}
