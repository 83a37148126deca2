package contentformat

import (
	"bytes"
	"fmt"

	"github.com/arcemit/coap/message"
)

// Translate converts payload from one Content-Format to another using c.
// It is a no-op (returns payload unchanged) when from == to. Only the
// application/json <-> application/cbor pair is supported; any other
// combination is an error, since this CORE has no other format registered.
func Translate(payload []byte, from, to message.MediaType, c *Codec) ([]byte, error) {
	if from == to {
		return payload, nil
	}
	switch {
	case from == message.AppJSON && to == message.AppCBOR:
		return c.JSONToCBOR(bytes.NewReader(payload))
	case from == message.AppCBOR && to == message.AppJSON:
		return c.CBORToJSON(bytes.NewReader(payload))
	default:
		return nil, fmt.Errorf("contentformat: no transcoding path from %d to %d", from, to)
	}
}

// Negotiate picks the best Content-Format to serve from accept (the
// decoded values of one or more Accept options on the request, in
// preference order) given that the handler produced its payload in
// native. If accept is empty, native is returned unchanged (RFC 7252
// §5.10.4: no Accept option means any format is acceptable).
func Negotiate(accept []message.MediaType, native message.MediaType) (message.MediaType, bool) {
	if len(accept) == 0 {
		return native, true
	}
	for _, a := range accept {
		if a == native || a == message.AppJSON || a == message.AppCBOR {
			return a, true
		}
	}
	return 0, false
}
