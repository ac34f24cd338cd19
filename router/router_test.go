package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sipstack/transact/core"
	"github.com/sipstack/transact/router"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
	"github.com/sipstack/transact/transaction"
	"github.com/sipstack/transact/transport"
)

var fakeDest = transport.Destination{Host: "203.0.113.10", Port: 5060, Transport: "UDP"}

// fakeTransport captures outbound sends without touching a real socket,
// the same pattern used by transaction/helper_test.go.
type fakeTransport struct {
	mu      sync.Mutex
	sentReq chan *sip.Request
	sentRes chan *sip.Response
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sentReq: make(chan *sip.Request, 16), sentRes: make(chan *sip.Response, 16)}
}

func (ft *fakeTransport) Send(_ context.Context, _ transport.Destination, msg sip.Message) error {
	switch m := msg.(type) {
	case *sip.Request:
		ft.sentReq <- m
	case *sip.Response:
		ft.sentRes <- m
	}
	return nil
}
func (ft *fakeTransport) Reliable(string) bool                                     { return true }
func (ft *fakeTransport) OnRequest(transport.RequestHandler) (remove func())       { return func() {} }
func (ft *fakeTransport) OnResponse(transport.ResponseHandler) (remove func())     { return func() {} }

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

// fakeHandler is a minimal UasHandler: applicable by method, records every
// request it is handed, and replies with a canned status.
type fakeHandler struct {
	mu      sync.Mutex
	methods []sip.Method
	reply   sip.StatusCode
	got     []*sip.Request
	loops   bool
}

func (h *fakeHandler) Init(context.Context) error { return nil }
func (h *fakeHandler) IsApplicable(req *sip.Request) bool {
	for _, m := range h.methods {
		if req.Method.Equal(m) {
			return true
		}
	}
	return false
}
func (h *fakeHandler) OnRequest(_ context.Context, req *sip.Request, tx transaction.ServerTransaction) (*sip.Response, error) {
	h.mu.Lock()
	h.got = append(h.got, req)
	h.mu.Unlock()
	if tx == nil {
		return nil, nil
	}
	return req.NewResponse(h.reply, ""), nil
}
func (h *fakeHandler) Allow() []sip.Method   { return h.methods }
func (h *fakeHandler) Supported() []string   { return nil }
func (h *fakeHandler) DetectLoops() bool     { return h.loops }
func (h *fakeHandler) Server() string        { return "" }

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func newTestRouter(t *testing.T, handlers ...core.UasHandler) (*router.Router, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	reg := core.NewRegistry()
	for _, h := range handlers {
		if err := reg.RegisterCore(context.Background(), h); err != nil {
			t.Fatalf("RegisterCore() error = %v", err)
		}
	}
	c := core.NewCore(reg, transaction.NewRegistry(), ft, nil)
	return router.New(c, nil), ft
}

func newInviteReq(callID string) *sip.Request {
	req := sip.NewRequest(sip.INVITE, "sip:bob@biloxi.example.com")
	req.Headers.Append(header.Via{{
		Transport: "UDP",
		Host:      "client.example.com",
		Port:      5060,
		Params:    header.Params{}.Set("branch", sip.NewBranch()),
	}})
	req.Headers.Append(header.From(header.NameAddr{URI: "sip:alice@atlanta.example.com", Params: header.Params{}.Set("tag", "alicetag")}))
	req.Headers.Append(header.To(header.NameAddr{URI: "sip:bob@biloxi.example.com"}))
	req.Headers.Append(header.CallID(callID))
	req.Headers.Append(header.CSeq{Seq: 1, Method: string(sip.INVITE)})
	return req
}

func TestRouter_DispatchRequest_NewRequestReachesMatchedHandler(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{methods: []sip.Method{sip.INVITE}, reply: sip.StatusOK}
	rt, ft := newTestRouter(t, h)

	req := newInviteReq("router-new@atlanta.example.com")
	rt.DispatchRequest(context.Background(), req, fakeDest)

	resp := ft.waitRes(t, 200*time.Millisecond)
	if resp.Status != sip.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if h.count() != 1 {
		t.Fatalf("handler invocations = %d, want 1", h.count())
	}
}

func TestRouter_DispatchRequest_RetransmitHitsExistingTransaction(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{methods: []sip.Method{sip.INVITE}, reply: sip.StatusRinging}
	rt, ft := newTestRouter(t, h)

	req := newInviteReq("router-retransmit@atlanta.example.com")
	rt.DispatchRequest(context.Background(), req, fakeDest)
	ft.waitRes(t, 200*time.Millisecond)

	// A retransmit of the same request hits the registered server
	// transaction, never the handler again.
	rt.DispatchRequest(context.Background(), req, fakeDest)
	ft.waitRes(t, 200*time.Millisecond)

	if h.count() != 1 {
		t.Fatalf("handler invocations = %d, want 1 (retransmit must not re-dispatch)", h.count())
	}

	// Terminate the transaction so its reaper goroutine exits.
	key, err := transaction.ServerKeyFromRequest(req)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest() error = %v", err)
	}
	tx, ok := rt.Core.Transaction.Servers.Lookup(key)
	if !ok {
		t.Fatal("expected the server transaction to still be registered")
	}
	if err := tx.Respond(context.Background(), req.NewResponse(sip.StatusOK, "")); err != nil {
		t.Fatalf("Respond(200) error = %v", err)
	}
	ft.waitRes(t, 200*time.Millisecond)
}

func TestRouter_DispatchRequest_LoopedRequestRejectedByRealDispatchPath(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{methods: []sip.Method{sip.INVITE}, reply: sip.StatusRinging, loops: true}
	rt, ft := newTestRouter(t, h)

	// Both requests share the same dialog-establishing identity (From-tag,
	// Call-ID, CSeq) but carry distinct branches, so they land in the same
	// loop-index bucket under distinct server transaction keys. req1's
	// handler replies with a non-final 180, so its transaction stays alive
	// in the bucket while req2 is dispatched, exercising the router's
	// real register-then-validate ordering rather than a hand-built bucket.
	callID := "router-loop@atlanta.example.com"
	req1 := newInviteReq(callID)
	rt.DispatchRequest(context.Background(), req1, fakeDest)
	ft.waitRes(t, 200*time.Millisecond)

	req2 := newInviteReq(callID)
	rt.DispatchRequest(context.Background(), req2, fakeDest)
	resp2 := ft.waitRes(t, 200*time.Millisecond)
	if resp2.Status != sip.StatusLoopDetected {
		t.Fatalf("status = %d, want %d (Loop Detected)", resp2.Status, sip.StatusLoopDetected)
	}
	if h.count() != 1 {
		t.Fatalf("handler invocations = %d, want 1 (looped request must never reach the handler)", h.count())
	}

	// Terminate both transactions so their reaper goroutines exit.
	key1, err := transaction.ServerKeyFromRequest(req1)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest(req1) error = %v", err)
	}
	tx1, ok := rt.Core.Transaction.Servers.Lookup(key1)
	if !ok {
		t.Fatal("expected tx1 to still be registered")
	}
	if err := tx1.Respond(context.Background(), req1.NewResponse(sip.StatusOK, "")); err != nil {
		t.Fatalf("Respond(200) error = %v", err)
	}
	ft.waitRes(t, 200*time.Millisecond)

	key2, err := transaction.ServerKeyFromRequest(req2)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest(req2) error = %v", err)
	}
	tx2, ok := rt.Core.Transaction.Servers.Lookup(key2)
	if !ok {
		t.Fatal("expected tx2 to still be registered")
	}
	ack := req2.Clone().(*sip.Request) //nolint:forcetypeassert
	ack.Method = sip.ACK
	if err := tx2.RecvRequest(context.Background(), ack); err != nil {
		t.Fatalf("RecvRequest(ACK) error = %v", err)
	}
}

func TestRouter_DispatchRequest_NoApplicableHandlerIsDropped(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{methods: []sip.Method{sip.REGISTER}, reply: sip.StatusOK}
	rt, ft := newTestRouter(t, h)

	rt.DispatchRequest(context.Background(), newInviteReq("router-drop@atlanta.example.com"), fakeDest)

	select {
	case resp := <-ft.sentRes:
		t.Fatalf("unexpected response sent: %d", resp.Status)
	case <-time.After(50 * time.Millisecond):
	}
	if h.count() != 0 {
		t.Fatalf("handler invocations = %d, want 0", h.count())
	}
}

func TestRouter_DispatchRequest_OutOfTransactionAckBypassesTransactionLayer(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{methods: []sip.Method{sip.INVITE, sip.ACK}, reply: sip.StatusOK}
	rt, _ := newTestRouter(t, h)

	ack := newInviteReq("router-ack@atlanta.example.com")
	ack.Method = sip.ACK
	to, _ := ack.To()
	ack.Headers.Remove("To")
	ack.Headers.Append(to.WithTag("remote-tag"))

	rt.DispatchRequest(context.Background(), ack, fakeDest)

	deadline := time.Now().Add(200 * time.Millisecond)
	for h.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.count() != 1 {
		t.Fatalf("handler invocations = %d, want 1", h.count())
	}
}

func TestRouter_DispatchResponse_MissIsDroppedSilently(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRouter(t)
	req := newInviteReq("router-resp-miss@atlanta.example.com")
	resp := req.NewResponse(sip.StatusOK, "")

	// No panic, no registered transaction: this should be a silent no-op.
	rt.DispatchResponse(context.Background(), resp, fakeDest)
}

func TestRouter_DispatchResponse_HitDeliversToClientTransaction(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	c := core.NewCore(core.NewRegistry(), transaction.NewRegistry(), ft, nil)
	rt := router.New(c, nil)

	req := newInviteReq("router-resp-hit@atlanta.example.com")
	tx, err := c.StartClientTx(req, fakeDest)
	if err != nil {
		t.Fatalf("StartClientTx() error = %v", err)
	}
	var mu sync.Mutex
	var delivered *sip.Response
	tx.OnResponse(func(_ context.Context, _ transaction.ClientTransaction, resp *sip.Response) {
		mu.Lock()
		delivered = resp
		mu.Unlock()
	})

	ok := req.NewResponse(sip.StatusOK, "")
	rt.DispatchResponse(context.Background(), ok, fakeDest)

	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		mu.Lock()
		got := delivered
		mu.Unlock()
		if got != nil {
			if got.Status != sip.StatusOK {
				t.Fatalf("delivered status = %d, want 200", got.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the response to reach the client transaction")
		}
		time.Sleep(time.Millisecond)
	}
}
