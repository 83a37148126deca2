package coap

import (
	"github.com/arcemit/coap/contentformat"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	"github.com/arcemit/coap/pathfold"
	"github.com/arcemit/coap/resource"
)

// NegotiateContentFormat wraps next so its response payload is
// transcoded to whatever format the request's Accept option prefers,
// using codec to convert between native (what next actually produces)
// and application/cbor (spec.md §4.H content negotiation, grounded on
// the teacher's cbor.go translating Matrix JSON bodies to CBOR over the
// same transport). A request whose Accept option names a format neither
// codec nor native can serve gets 4.06 Not Acceptable.
func NegotiateContentFormat(codec *contentformat.Codec, native message.MediaType, next resource.HandlerFunc) resource.HandlerFunc {
	return func(req *message.Message) (*message.Message, error) {
		resp, err := next(req)
		if err != nil || resp == nil || len(resp.Payload) == 0 {
			return resp, err
		}

		var accept []message.MediaType
		for _, v := range req.Options.FindAll(message.Accept) {
			accept = append(accept, message.MediaType(message.DecodeUint(v)))
		}
		want, ok := contentformat.Negotiate(accept, native)
		if !ok {
			return &message.Message{
				Type:  resp.Type,
				Code:  codes.NotAcceptable,
				Token: req.Token,
			}, nil
		}
		if want == native {
			resp.Options = resp.Options.Set(message.ContentFormat, message.EncodeUint(uint32(native)))
			return resp, nil
		}
		translated, terr := contentformat.Translate(resp.Payload, native, want, codec)
		if terr != nil {
			return resp, terr
		}
		resp.Payload = translated
		resp.Options = resp.Options.Set(message.ContentFormat, message.EncodeUint(uint32(want)))
		return resp, nil
	}
}

// ProxyViaPathFold installs a Registry proxy handler that unfolds a
// short, numeric CoAP path (e.g. "/7") to its registered long-form
// template before delegating to resolve, the way the teacher's
// coap_paths.go unfolds a short path to a full Matrix HTTP route before
// forwarding the request (spec.md §4.H proxy-URI dispatch).
func ProxyViaPathFold(folder *pathfold.Folder, resolve func(longPath string, req *message.Message) (*message.Message, error)) resource.HandlerFunc {
	return func(req *message.Message) (*message.Message, error) {
		long := folder.Unfold(req.Options.Path())
		return resolve(long, req)
	}
}
