// Package header implements the SIP header value types the transaction
// layer needs for routing: Via, CSeq, Call-ID, From, To, Content-Length,
// Max-Forwards, plus GenericHeader, the fallback for everything else
// (SPEC_FULL §4.1 — full SIP-URI/address-parameter grammar stays out of
// scope, so these types only parse as much structure as routing needs).
package header

import "strings"

// Header is satisfied by every parsed header value type.
type Header interface {
	// Name returns the canonical header name, e.g. "Via", "Call-ID".
	Name() string
	// Render returns the header's value in wire form, without the
	// "Name: " prefix or trailing CRLF.
	Render() string
	Clone() Header
	Equal(other Header) bool
}

// Parser parses the text following the colon of a header line (already
// folded and trimmed) into zero or more Header values — SIP permits a
// single header line to carry a comma-separated list of values for some
// header types.
type Parser func(text string) ([]Header, error)

// CanonicalNames maps lowercased long and short header names to their
// canonical emitted form (SPEC_FULL §6).
var CanonicalNames = map[string]string{
	"via":            "Via",
	"v":              "Via",
	"content-length": "Content-Length",
	"l":              "Content-Length",
	"cseq":           "CSeq",
	"call-id":        "Call-ID",
	"i":              "Call-ID",
	"from":           "From",
	"f":              "From",
	"to":             "To",
	"t":              "To",
	"max-forwards":   "Max-Forwards",
}

// Canonicalize normalizes name (long or short form, any case) to the
// canonical wire form. Unknown headers are returned unchanged.
func Canonicalize(name string) string {
	if canon, ok := CanonicalNames[strings.ToLower(name)]; ok {
		return canon
	}
	return name
}

// DefaultParsers returns a fresh map of the header parsers this package
// provides, keyed by canonical name, suitable as a
// sip.DefaultParser.HeaderParsers starting point.
func DefaultParsers() map[string]Parser {
	return map[string]Parser{
		"Via":            parseVia,
		"Content-Length": parseContentLength,
		"CSeq":           parseCSeq,
		"Call-ID":        parseCallID,
		"From":           parseFrom,
		"To":             parseTo,
		"Max-Forwards":   parseMaxForwards,
	}
}

// GenericHeader is the fallback for any header name this codec has no
// dedicated parser for: it carries the raw field text untouched.
type GenericHeader struct {
	HeaderName string
	Value      string
}

func (h GenericHeader) Name() string   { return h.HeaderName }
func (h GenericHeader) Render() string { return h.Value }
func (h GenericHeader) Clone() Header  { return h }
func (h GenericHeader) Equal(other Header) bool {
	o, ok := other.(GenericHeader)
	return ok && strings.EqualFold(h.HeaderName, o.HeaderName) && h.Value == o.Value
}
