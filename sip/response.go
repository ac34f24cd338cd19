package sip

import (
	"fmt"
	"log/slog"

	"github.com/sipstack/transact/sip/header"
)

// Response is an outbound or inbound SIP response: `SIP/2.0 status reason`.
type Response struct {
	Status  StatusCode
	Reason  string
	Headers Headers
	body    []byte
}

// NewResponse builds a bare Response with an empty header collection.
func NewResponse(status StatusCode, reason string) *Response {
	if reason == "" {
		reason = ReasonPhrase(status)
	}
	return &Response{Status: status, Reason: reason, Headers: NewHeaders()}
}

func (r *Response) IsRequest() bool  { return false }
func (r *Response) IsResponse() bool { return true }

func (r *Response) MessageHeaders() *Headers { return &r.Headers }
func (r *Response) Body() []byte             { return r.body }
func (r *Response) SetBody(b []byte)         { setBodyAndLength(&r.Headers, &r.body, b) }

func (r *Response) Via() (header.Via, bool)                     { return viaOf(r.Headers) }
func (r *Response) CallID() (header.CallID, bool)               { return callIDOf(r.Headers) }
func (r *Response) From() (header.From, bool)                   { return fromOf(r.Headers) }
func (r *Response) To() (header.To, bool)                       { return toOf(r.Headers) }
func (r *Response) CSeq() (header.CSeq, bool)                   { return cseqOf(r.Headers) }
func (r *Response) ContentLength() (header.ContentLength, bool) { return contentLengthOf(r.Headers) }

func (r *Response) StartLine() string {
	return fmt.Sprintf("SIP/2.0 %d %s", r.Status, r.Reason)
}

func (r *Response) Clone() Message {
	clone := *r
	clone.Headers = r.Headers.Clone()
	clone.body = append([]byte(nil), r.body...)
	return &clone
}

func (r *Response) String() string { return RenderToString(r) }

func (r *Response) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("status", int(r.Status)),
		slog.String("reason", r.Reason),
	}
	if cid, ok := r.CallID(); ok {
		attrs = append(attrs, slog.String("call_id", string(cid)))
	}
	if cs, ok := r.CSeq(); ok {
		attrs = append(attrs, slog.Int("cseq", int(cs.Seq)))
	}
	return slog.GroupValue(attrs...)
}

// IsDialogEstablishing reports whether resp is a 2xx final response to an
// INVITE, the primary dialog-establishing case per RFC 3261 §12.1 /
// SPEC_FULL §4.6 step 4.
func IsDialogEstablishing(req *Request, resp *Response) bool {
	return req != nil && req.Method.Equal(INVITE) && resp.Status.IsSuccess()
}
