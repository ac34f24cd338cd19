package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sipstack/transact/core"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
	"github.com/sipstack/transact/transaction"
	"github.com/sipstack/transact/transport"
)

var fakeDest = transport.Destination{Host: "203.0.113.10", Port: 5060, Transport: "UDP"}

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
func (ft *fakeTransport) Reliable(string) bool                                 { return true }
func (ft *fakeTransport) OnRequest(transport.RequestHandler) (remove func())   { return func() {} }
func (ft *fakeTransport) OnResponse(transport.ResponseHandler) (remove func()) { return func() {} }

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

type stubHandler struct {
	methods   []sip.Method
	supported []string
	loops     bool
	server    string
	reply     func(req *sip.Request) *sip.Response
}

func (h *stubHandler) Init(context.Context) error { return nil }
func (h *stubHandler) IsApplicable(req *sip.Request) bool {
	for _, m := range h.methods {
		if req.Method.Equal(m) {
			return true
		}
	}
	return false
}
func (h *stubHandler) OnRequest(_ context.Context, req *sip.Request, _ transaction.ServerTransaction) (*sip.Response, error) {
	if h.reply == nil {
		return req.NewResponse(sip.StatusOK, ""), nil
	}
	return h.reply(req), nil
}
func (h *stubHandler) Allow() []sip.Method { return h.methods }
func (h *stubHandler) Supported() []string { return h.supported }
func (h *stubHandler) DetectLoops() bool   { return h.loops }
func (h *stubHandler) Server() string      { return h.server }

func newOptionsReq() *sip.Request {
	req := sip.NewRequest(sip.OPTIONS, "sip:bob@biloxi.example.com")
	req.Headers.Append(header.Via{{Transport: "UDP", Host: "client.example.com", Port: 5060, Params: header.Params{}.Set("branch", sip.NewBranch())}})
	req.Headers.Append(header.From(header.NameAddr{URI: "sip:alice@atlanta.example.com", Params: header.Params{}.Set("tag", "alicetag")}))
	req.Headers.Append(header.To(header.NameAddr{URI: "sip:bob@biloxi.example.com"}))
	req.Headers.Append(header.CallID("core-test@atlanta.example.com"))
	req.Headers.Append(header.CSeq{Seq: 1, Method: string(sip.OPTIONS)})
	return req
}

func TestRegistry_Match_FirstApplicableWins(t *testing.T) {
	t.Parallel()

	reg := core.NewRegistry()
	first := &stubHandler{methods: []sip.Method{sip.OPTIONS}}
	second := &stubHandler{methods: []sip.Method{sip.OPTIONS}}
	if err := reg.RegisterCore(context.Background(), first); err != nil {
		t.Fatalf("RegisterCore(first) error = %v", err)
	}
	if err := reg.RegisterCore(context.Background(), second); err != nil {
		t.Fatalf("RegisterCore(second) error = %v", err)
	}

	h, ok := reg.Match(newOptionsReq())
	if !ok {
		t.Fatal("Match() ok = false, want true")
	}
	if h != first {
		t.Fatal("Match() returned the second handler, want the first registered match")
	}
}

func TestDispatcher_ValidateMethod_Rejects405(t *testing.T) {
	t.Parallel()

	h := &stubHandler{methods: []sip.Method{sip.INVITE}}
	d := core.NewDispatcher(transaction.NewRegistry(), nil)
	tp := newFakeTransport()
	req := newOptionsReq()

	tx, err := transaction.NewServerNonInviteTransaction(req, tp, fakeDest, nil)
	if err != nil {
		t.Fatalf("NewServerNonInviteTransaction() error = %v", err)
	}
	d.HandleRequest(context.Background(), h, req, tx)

	resp := tp.waitRes(t, 200*time.Millisecond)
	if resp.Status != sip.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Status)
	}
	if _, ok := resp.Headers.First("Allow"); !ok {
		t.Fatal("405 response missing Allow header")
	}
}

func TestDispatcher_ValidateLoop_Rejects482(t *testing.T) {
	t.Parallel()

	txReg := transaction.NewRegistry()
	h := &stubHandler{methods: []sip.Method{sip.OPTIONS}, loops: true}
	d := core.NewDispatcher(txReg, nil)
	tp := newFakeTransport()

	initial := newOptionsReq()
	initial.Headers.Remove("To")
	initial.Headers.Append(header.To(header.NameAddr{URI: "sip:bob@biloxi.example.com"}))
	key, err := transaction.ServerKeyFromRequest(initial)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest() error = %v", err)
	}
	registeredTx, err := transaction.NewServerNonInviteTransaction(initial, tp, fakeDest, nil)
	if err != nil {
		t.Fatalf("NewServerNonInviteTransaction() error = %v", err)
	}
	if err := txReg.RegisterServer(key, initial, registeredTx); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	looped := initial.Clone().(*sip.Request) //nolint:forcetypeassert
	via, _ := looped.Via()
	via[0].Params = via[0].Params.Clone().Set("branch", sip.NewBranch())
	looped.Headers.Remove("Via")
	looped.Headers.Append(via)

	loopedTx, err := transaction.NewServerNonInviteTransaction(looped, tp, fakeDest, nil)
	if err != nil {
		t.Fatalf("NewServerNonInviteTransaction(looped) error = %v", err)
	}
	d.HandleRequest(context.Background(), h, looped, loopedTx)

	resp := tp.waitRes(t, 200*time.Millisecond)
	if resp.Status != sip.StatusLoopDetected {
		t.Fatalf("status = %d, want 482", resp.Status)
	}
}

func TestDispatcher_ValidateRequired_Rejects420(t *testing.T) {
	t.Parallel()

	h := &stubHandler{methods: []sip.Method{sip.OPTIONS}, supported: []string{"timer"}}
	d := core.NewDispatcher(transaction.NewRegistry(), nil)
	tp := newFakeTransport()
	req := newOptionsReq()
	req.Headers.Append(sip.GenericHeader{HeaderName: "Require", Value: "totally-unknown-extension"})

	tx, err := transaction.NewServerNonInviteTransaction(req, tp, fakeDest, nil)
	if err != nil {
		t.Fatalf("NewServerNonInviteTransaction() error = %v", err)
	}
	d.HandleRequest(context.Background(), h, req, tx)

	resp := tp.waitRes(t, 200*time.Millisecond)
	if resp.Status != sip.StatusBadExtension {
		t.Fatalf("status = %d, want 420", resp.Status)
	}
	if _, ok := resp.Headers.First("Unsupported"); !ok {
		t.Fatal("420 response missing Unsupported header")
	}
}

func TestDispatcher_SendResponse_PopulatesDefaultsAndSkipsRecordRouteForNonDialogResponse(t *testing.T) {
	t.Parallel()

	h := &stubHandler{methods: []sip.Method{sip.OPTIONS}, supported: []string{"timer"}, server: "transact-test/1.0"}
	d := core.NewDispatcher(transaction.NewRegistry(), nil)
	tp := newFakeTransport()
	req := newOptionsReq()
	req.Headers.Append(sip.GenericHeader{HeaderName: "Record-Route", Value: "<sip:proxy1.example.com;lr>"})

	tx, err := transaction.NewServerNonInviteTransaction(req, tp, fakeDest, nil)
	if err != nil {
		t.Fatalf("NewServerNonInviteTransaction() error = %v", err)
	}

	resp := req.NewResponse(sip.StatusOK, "")
	d.SendResponse(context.Background(), h, req, tx, resp)

	sent := tp.waitRes(t, 200*time.Millisecond)
	if _, ok := sent.Headers.First("Allow"); !ok {
		t.Fatal("expected Allow to be auto-populated")
	}
	if _, ok := sent.Headers.First("Supported"); !ok {
		t.Fatal("expected Supported to be auto-populated")
	}
	if server, ok := sent.Headers.First("Server"); !ok || server.Render() != "transact-test/1.0" {
		t.Fatalf("Server header = %v, want transact-test/1.0", server)
	}
	// A 200 to OPTIONS does not establish a dialog, so Record-Route stays out.
	if _, ok := sent.Headers.First("Record-Route"); ok {
		t.Fatal("Record-Route copied into a non-dialog-establishing response")
	}
}

func TestCore_StartServerTx_IsIdempotent(t *testing.T) {
	t.Parallel()

	tp := newFakeTransport()
	c := core.NewCore(core.NewRegistry(), transaction.NewRegistry(), tp, nil)
	req := newOptionsReq()

	tx1, err := c.StartServerTx(req, fakeDest)
	if err != nil {
		t.Fatalf("StartServerTx() error = %v", err)
	}
	tx2, err := c.StartServerTx(req, fakeDest)
	if err != nil {
		t.Fatalf("StartServerTx() second call error = %v", err)
	}
	if tx1 != tx2 {
		t.Fatal("a second StartServerTx for the same key should return the existing transaction")
	}

	if err := tx1.Respond(context.Background(), req.NewResponse(sip.StatusOK, "")); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	select {
	case <-tx1.Done():
	case <-time.After(time.Second):
		t.Fatal("expected the transaction to terminate so its reaper goroutine exits")
	}
}

func TestCore_StartClientTx_RegistersAndReapsOnTermination(t *testing.T) {
	t.Parallel()

	tp := newFakeTransport()
	c := core.NewCore(core.NewRegistry(), transaction.NewRegistry(), tp, nil)
	req := newOptionsReq()
	req.Method = sip.REGISTER
	req.Headers.Remove("CSeq")
	req.Headers.Append(header.CSeq{Seq: 1, Method: string(sip.REGISTER)})

	tx, err := c.StartClientTx(req, fakeDest)
	if err != nil {
		t.Fatalf("StartClientTx() error = %v", err)
	}
	clients, _ := c.ListTx()
	if len(clients) != 1 {
		t.Fatalf("registered client transactions = %d, want 1", len(clients))
	}

	if err := tx.RecvResponse(context.Background(), req.NewResponse(sip.StatusOK, "")); err != nil {
		t.Fatalf("RecvResponse() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		clients, _ = c.ListTx()
		if len(clients) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the reaper to unregister the client transaction once terminated")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCore_IsLoopDetected_DelegatesToTransactionRegistry(t *testing.T) {
	t.Parallel()

	tp := newFakeTransport()
	c := core.NewCore(core.NewRegistry(), transaction.NewRegistry(), tp, nil)

	req := newOptionsReq()
	req.Headers.Remove("To")
	req.Headers.Append(header.To(header.NameAddr{URI: "sip:bob@biloxi.example.com"}))
	if c.IsLoopDetected(req) {
		t.Fatal("no transaction registered yet: expected no loop")
	}
}
