package sip

import (
	"fmt"
	"log/slog"

	"github.com/sipstack/transact/sip/header"
)

// Message is the discriminated union SPEC_FULL §3 describes: either a
// Request or a Response, sharing a common header/body surface.
type Message interface {
	fmt.Stringer
	slog.LogValuer

	// IsRequest/IsResponse discriminate the union without a type switch.
	IsRequest() bool
	IsResponse() bool

	MessageHeaders() *Headers
	Body() []byte
	SetBody(b []byte)

	// Typed accessors for the headers transaction routing needs. Each
	// returns the zero value and false if the header is absent or of the
	// wrong type.
	Via() (header.Via, bool)
	CallID() (header.CallID, bool)
	From() (header.From, bool)
	To() (header.To, bool)
	CSeq() (header.CSeq, bool)
	ContentLength() (header.ContentLength, bool)

	Clone() Message
}

func viaOf(h Headers) (header.Via, bool) {
	hdr, ok := h.First("Via")
	if !ok {
		return nil, false
	}
	v, ok := hdr.(header.Via)
	return v, ok
}

func callIDOf(h Headers) (header.CallID, bool) {
	hdr, ok := h.First("Call-ID")
	if !ok {
		return "", false
	}
	v, ok := hdr.(header.CallID)
	return v, ok
}

func fromOf(h Headers) (header.From, bool) {
	hdr, ok := h.First("From")
	if !ok {
		return header.From{}, false
	}
	v, ok := hdr.(header.From)
	return v, ok
}

func toOf(h Headers) (header.To, bool) {
	hdr, ok := h.First("To")
	if !ok {
		return header.To{}, false
	}
	v, ok := hdr.(header.To)
	return v, ok
}

func cseqOf(h Headers) (header.CSeq, bool) {
	hdr, ok := h.First("CSeq")
	if !ok {
		return header.CSeq{}, false
	}
	v, ok := hdr.(header.CSeq)
	return v, ok
}

func contentLengthOf(h Headers) (header.ContentLength, bool) {
	hdr, ok := h.First("Content-Length")
	if !ok {
		return 0, false
	}
	v, ok := hdr.(header.ContentLength)
	return v, ok
}

// setBodyAndLength replaces body and (re)writes the Content-Length header
// to match, mirroring the teacher's SetBody(body, setContentLength=true)
// behavior, which this module always applies.
func setBodyAndLength(h *Headers, body *[]byte, b []byte) {
	*body = b
	h.Remove("Content-Length")
	h.Append(header.ContentLength(len(b)))
}
