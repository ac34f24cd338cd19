package core

import (
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
)

// CreateResponse builds a response to req via the codec's own
// mandatory-header-copy logic, for handlers that want the default
// behavior without hand-building a Response (SPEC_FULL §4.6 embedding
// API). An empty reason selects the status code's default reason phrase.
func CreateResponse(req *sip.Request, status sip.StatusCode, reason string) *sip.Response {
	return req.NewResponse(status, reason)
}

// CreateAck builds the ACK for a non-2xx final response to req, per RFC
// 3261 §17.1.1.3 / SPEC_FULL §4.6: Call-ID, From and (only for an original
// INVITE) Route copied from req; Via carries req's top hop only; To is
// copied from resp so the ACK carries the dialog tag the response
// established; CSeq reuses req's sequence number with its method swapped
// to ACK; body is always empty.
//
// The ACK to a 2xx is an end-to-end, dialog-layer message outside this
// module's scope (SPEC_FULL Non-goals) — this helper is for the non-2xx
// case the client INVITE transaction itself needs (see
// transaction.ClientInviteTransaction's own internal ACK construction,
// which duplicates this logic rather than importing core to avoid a
// transaction->core dependency cycle).
func CreateAck(req *sip.Request, resp *sip.Response) *sip.Request {
	ack := sip.NewRequest(sip.ACK, req.URI)

	if from, ok := req.From(); ok {
		ack.Headers.Append(from.Clone())
	}
	if callID, ok := req.CallID(); ok {
		ack.Headers.Append(callID.Clone())
	}
	if req.Method.Equal(sip.INVITE) {
		for _, route := range req.Headers.Get("Route") {
			ack.Headers.Append(route.Clone())
		}
	}
	if via, ok := req.Via(); ok && len(via) > 0 {
		ack.Headers.Append(header.Via{via[0].Clone()})
	}
	if to, ok := resp.To(); ok {
		ack.Headers.Append(to.Clone())
	} else if to, ok := req.To(); ok {
		ack.Headers.Append(to.Clone())
	}
	if cseq, ok := req.CSeq(); ok {
		ack.Headers.Append(header.CSeq{Seq: cseq.Seq, Method: string(sip.ACK)})
	}
	return ack
}
