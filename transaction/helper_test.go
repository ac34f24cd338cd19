package transaction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
	"github.com/sipstack/transact/transaction"
	"github.com/sipstack/transact/transport"
)

// fakeDest is the destination every test transaction sends toward; the
// fakeTransport never resolves it to a real socket.
var fakeDest = transport.Destination{Host: "203.0.113.10", Port: 5060, Transport: "UDP"}

// fastTimings scales every RFC 3261 timer down so FSM tests that exercise
// retransmission and timeout behavior run in milliseconds instead of
// seconds, following the teacher's own "use a slightly bigger T1" test
// idiom (sip/transaction_client_invite_test.go).
var fastTimings = transaction.NewTimingConfig(20*time.Millisecond, 40*time.Millisecond, 40*time.Millisecond, 40*time.Millisecond, 10*time.Millisecond)

// fakeTransport is a minimal transport.Transport for FSM tests: it captures
// every outbound message on a buffered channel instead of touching a real
// socket, grounded on the teacher's stubTransport (sip/transport_test.go).
type fakeTransport struct {
	reliable bool

	mu      sync.Mutex
	sentReq chan *sip.Request
	sentRes chan *sip.Response

	onReqMu sync.Mutex
	onReq   []transport.RequestHandler
	onResMu sync.Mutex
	onRes   []transport.ResponseHandler

	failNext atomic32
}

type atomic32 struct {
	mu sync.Mutex
	n  int
}

func (a *atomic32) take() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n <= 0 {
		return false
	}
	a.n--
	return true
}

func newFakeTransport(reliable bool) *fakeTransport {
	return &fakeTransport{
		reliable: reliable,
		sentReq:  make(chan *sip.Request, 64),
		sentRes:  make(chan *sip.Response, 64),
	}
}

func (ft *fakeTransport) Send(ctx context.Context, dest transport.Destination, msg sip.Message) error {
	if ft.failNext.take() {
		return errSendFailed
	}
	switch m := msg.(type) {
	case *sip.Request:
		ft.sentReq <- m
	case *sip.Response:
		ft.sentRes <- m
	}
	return nil
}

func (ft *fakeTransport) Reliable(transportName string) bool { return ft.reliable }

func (ft *fakeTransport) OnRequest(h transport.RequestHandler) (remove func()) {
	ft.onReqMu.Lock()
	ft.onReq = append(ft.onReq, h)
	ft.onReqMu.Unlock()
	return func() {}
}

func (ft *fakeTransport) OnResponse(h transport.ResponseHandler) (remove func()) {
	ft.onResMu.Lock()
	ft.onRes = append(ft.onRes, h)
	ft.onResMu.Unlock()
	return func() {}
}

type sendFailedError string

func (e sendFailedError) Error() string { return string(e) }

const errSendFailed sendFailedError = "fake transport: send failed"

func (ft *fakeTransport) waitReq(tb testing.TB, timeout time.Duration) *sip.Request {
	tb.Helper()
	select {
	case req := <-ft.sentReq:
		return req
	case <-time.After(timeout):
		tb.Fatalf("expected a request send within %v", timeout)
		return nil
	}
}

func (ft *fakeTransport) waitRes(tb testing.TB, timeout time.Duration) *sip.Response {
	tb.Helper()
	select {
	case resp := <-ft.sentRes:
		return resp
	case <-time.After(timeout):
		tb.Fatalf("expected a response send within %v", timeout)
		return nil
	}
}

func (ft *fakeTransport) ensureNoReq(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	select {
	case req := <-ft.sentReq:
		tb.Fatalf("unexpected request send: %s", req.Method)
	case <-time.After(timeout):
	}
}

func (ft *fakeTransport) drainReqs() {
	for {
		select {
		case <-ft.sentReq:
		default:
			return
		}
	}
}

// newInviteRequest builds a minimal but valid outbound INVITE, with fresh
// Via branch, From tag and Call-ID, matching what a transaction user would
// hand a client transaction constructor.
func newInviteRequest(callID string) *sip.Request {
	return newRequest(sip.INVITE, callID)
}

func newRequest(method sip.Method, callID string) *sip.Request {
	req := sip.NewRequest(method, "sip:bob@biloxi.example.com")
	req.Headers.Append(header.Via{{
		Transport: "UDP",
		Host:      "client.example.com",
		Port:      5060,
		Params:    header.Params{}.Set("branch", sip.NewBranch()),
	}})
	req.Headers.Append(header.From(header.NameAddr{
		URI:    "sip:alice@atlanta.example.com",
		Params: header.Params{}.Set("tag", "alicetag"),
	}))
	req.Headers.Append(header.To(header.NameAddr{
		URI: "sip:bob@biloxi.example.com",
	}))
	req.Headers.Append(header.CallID(callID))
	req.Headers.Append(header.CSeq{Seq: 1, Method: string(method)})
	return req
}

// newResponseTo builds a response to req carrying a To-tag, as a UAS would
// send back (NewResponse already adds one for status >= 200).
func newResponseTo(req *sip.Request, status sip.StatusCode) *sip.Response {
	return req.NewResponse(status, "")
}

func waitForState(tb testing.TB, stateFn func() transaction.State, want transaction.State, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if stateFn() == want {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("state = %q, want %q after %v", stateFn(), want, timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
