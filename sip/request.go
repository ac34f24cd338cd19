package sip

import (
	"fmt"
	"log/slog"

	"github.com/sipstack/transact/sip/header"
)

// Request is an outbound or inbound SIP request: `METHOD URI SIP/2.0`.
type Request struct {
	Method  Method
	URI     string
	Headers Headers
	body    []byte
}

// NewRequest builds a Request with an empty header collection.
func NewRequest(method Method, uri string) *Request {
	return &Request{Method: method, URI: uri, Headers: NewHeaders()}
}

func (r *Request) IsRequest() bool  { return true }
func (r *Request) IsResponse() bool { return false }

func (r *Request) MessageHeaders() *Headers { return &r.Headers }
func (r *Request) Body() []byte             { return r.body }
func (r *Request) SetBody(b []byte)         { setBodyAndLength(&r.Headers, &r.body, b) }

func (r *Request) Via() (header.Via, bool)                     { return viaOf(r.Headers) }
func (r *Request) CallID() (header.CallID, bool)               { return callIDOf(r.Headers) }
func (r *Request) From() (header.From, bool)                   { return fromOf(r.Headers) }
func (r *Request) To() (header.To, bool)                       { return toOf(r.Headers) }
func (r *Request) CSeq() (header.CSeq, bool)                   { return cseqOf(r.Headers) }
func (r *Request) ContentLength() (header.ContentLength, bool) { return contentLengthOf(r.Headers) }

// StartLine renders the request-line without trailing CRLF.
func (r *Request) StartLine() string {
	return fmt.Sprintf("%s %s SIP/2.0", r.Method, r.URI)
}

func (r *Request) Clone() Message {
	clone := *r
	clone.Headers = r.Headers.Clone()
	clone.body = append([]byte(nil), r.body...)
	return &clone
}

func (r *Request) String() string { return RenderToString(r) }

// LogValue gives a compact structured summary instead of the full wire
// form, so logging a Request at Info never dumps SDP/body contents.
func (r *Request) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("method", string(r.Method)),
		slog.String("uri", r.URI),
	}
	if cid, ok := r.CallID(); ok {
		attrs = append(attrs, slog.String("call_id", string(cid)))
	}
	if cs, ok := r.CSeq(); ok {
		attrs = append(attrs, slog.Int("cseq", int(cs.Seq)))
	}
	return slog.GroupValue(attrs...)
}

// Validate checks the mandatory-header and Content-Length/body-length
// invariants a Request must satisfy to be routed (SPEC_FULL §4.1 failure
// policy plus the mandatory-header set every RFC 3261 request carries).
func (r *Request) Validate() error {
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		if _, ok := r.Headers.First(name); !ok {
			return errInvalidMessagef("request missing mandatory header %q", name)
		}
	}
	if cl, ok := r.ContentLength(); ok && int(cl) != len(r.body) {
		return errInvalidMessagef("content-length %d does not match body length %d", cl, len(r.body))
	}
	return nil
}

// mandatoryCopyHeaders lists the headers NewResponse copies from the
// request onto a freshly created response, in this order (SPEC_FULL §4.6).
var mandatoryCopyHeaders = []string{"Via", "From", "To", "Call-ID", "CSeq"}

// NewResponse builds a Response to this request per RFC 3261 §8.2.6.2 /
// SPEC_FULL §4.6: copies Via (all hops), From, To (with a local tag unless
// status is 100), Call-ID, CSeq verbatim from the request, then appends
// any extra headers passed in extra that aren't already present.
func (r *Request) NewResponse(status StatusCode, reason string, extra ...Header) *Response {
	if reason == "" {
		reason = ReasonPhrase(status)
	}
	resp := &Response{Status: status, Reason: reason, Headers: NewHeaders()}
	for _, name := range mandatoryCopyHeaders {
		for _, hdr := range r.Headers.Get(name) {
			cloned := hdr.Clone()
			if to, ok := cloned.(header.To); ok && status != StatusTrying {
				if to.Tag() == "" {
					to = to.WithTag(newLocalTag())
				}
				cloned = to
			}
			resp.Headers.Append(cloned)
		}
	}
	for _, hdr := range extra {
		if _, already := resp.Headers.First(hdr.Name()); !already {
			resp.Headers.Append(hdr)
		}
	}
	return resp
}

type invalidMessageError string

func (e invalidMessageError) Error() string { return string(e) }

func errInvalidMessagef(format string, args ...any) error {
	return invalidMessageError(fmt.Sprintf(format, args...))
}

// IsACK reports whether m is an ACK request.
func IsACK(m Message) bool {
	req, ok := m.(*Request)
	return ok && req.Method.Equal(ACK)
}

// IsCANCEL reports whether m is a CANCEL request.
func IsCANCEL(m Message) bool {
	req, ok := m.(*Request)
	return ok && req.Method.Equal(CANCEL)
}

// NormalizedMethod returns ACK normalized to INVITE, matching the
// transaction-key method normalization rule in SPEC_FULL §3.
func NormalizedMethod(m Method) Method {
	if m.Equal(ACK) {
		return INVITE
	}
	return m
}
