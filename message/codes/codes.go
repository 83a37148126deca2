// Package codes defines the CoAP method and response codes (RFC 7252 §12.1,
// RFC 8323 §5 for the TCP signalling codes).
package codes

import "fmt"

// Code is the 8-bit class.detail code carried by every CoAP message.
// The top three bits are the class, the bottom five the detail, printed
// conventionally as "c.dd".
type Code uint8

// Empty is code 0.00, carried by ACKs with no piggybacked response, RSTs,
// and pings.
const Empty Code = 0

// Request codes (0.01 - 0.07).
const (
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
	FETCH  Code = 5
	PATCH  Code = 6
	IPATCH Code = 7
)

// Success response codes (2.xx).
const (
	Created    Code = 65 // 2.01
	Deleted    Code = 66 // 2.02
	Valid      Code = 67 // 2.03
	Changed    Code = 68 // 2.04
	Content    Code = 69 // 2.05
	Continue   Code = 95 // 2.31, used by Block1
)

// Client error response codes (4.xx).
const (
	BadRequest               Code = 128
	Unauthorized              Code = 129
	BadOption                 Code = 130
	Forbidden                 Code = 131
	NotFound                  Code = 132
	MethodNotAllowed          Code = 133
	NotAcceptable             Code = 134
	RequestEntityIncomplete   Code = 136 // 4.08, block-wise reassembly failure
	PreconditionFailed        Code = 140
	RequestEntityTooLarge     Code = 141
	UnsupportedMediaType      Code = 143
)

// Server error response codes (5.xx).
const (
	InternalServerError  Code = 160
	NotImplemented       Code = 161
	BadGateway           Code = 162
	ServiceUnavailable   Code = 163
	GatewayTimeout       Code = 164
	ProxyingNotSupported Code = 165
)

// TCP signalling codes (RFC 8323 §5), 7.xx.
const (
	CSM     Code = 225 // 7.01 Capability/Settings Message
	Ping    Code = 226 // 7.02
	Pong    Code = 227 // 7.03
	Release Code = 228 // 7.04
	Abort   Code = 229 // 7.05
)

// Class returns the 3-bit class of the code (0, 2, 3, 4, 5 or 7).
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the 5-bit detail of the code.
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// IsRequest reports whether c falls in the method-code range 0.01-0.31.
func (c Code) IsRequest() bool { return c.Class() == 0 && c != Empty }

// IsResponse reports whether c falls in a response class (2-5).
func (c Code) IsResponse() bool {
	cl := c.Class()
	return cl >= 2 && cl <= 5
}

// IsSignal reports whether c is a TCP signalling code (class 7).
func (c Code) IsSignal() bool { return c.Class() == 7 }

var names = map[Code]string{
	GET: "GET", POST: "POST", PUT: "PUT", DELETE: "DELETE", FETCH: "FETCH", PATCH: "PATCH", IPATCH: "IPATCH",
	Created: "Created", Deleted: "Deleted", Valid: "Valid", Changed: "Changed", Content: "Content", Continue: "Continue",
	BadRequest: "BadRequest", Unauthorized: "Unauthorized", BadOption: "BadOption", Forbidden: "Forbidden",
	NotFound: "NotFound", MethodNotAllowed: "MethodNotAllowed", NotAcceptable: "NotAcceptable",
	RequestEntityIncomplete: "RequestEntityIncomplete", PreconditionFailed: "PreconditionFailed",
	RequestEntityTooLarge: "RequestEntityTooLarge", UnsupportedMediaType: "UnsupportedMediaType",
	InternalServerError: "InternalServerError", NotImplemented: "NotImplemented", BadGateway: "BadGateway",
	ServiceUnavailable: "ServiceUnavailable", GatewayTimeout: "GatewayTimeout", ProxyingNotSupported: "ProxyingNotSupported",
	CSM: "CSM", Ping: "Ping", Pong: "Pong", Release: "Release", Abort: "Abort",
	Empty: "Empty",
}

// String renders the code in dotted class.detail form followed by its name
// when it has one, e.g. "2.05 Content"; unnamed codes render as "c.dd" only.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return fmt.Sprintf("%d.%02d %s", c.Class(), c.Detail(), n)
	}
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}
