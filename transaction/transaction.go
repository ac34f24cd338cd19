// Package transaction implements the transaction registry (C3) and the
// four transaction finite-state machines (C4) described in SPEC_FULL §4.3
// and §4.4: ClientInvite, ClientNonInvite, ServerInvite, ServerNonInvite,
// each built on github.com/qmuntal/stateless.
package transaction

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sipstack/transact/internal/types"
	"github.com/sipstack/transact/internal/xlog"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transport"
)

// State is one of the states a transaction FSM can occupy. Unlike the RFC
// 6026 extension, this module's INVITE FSMs have no Accepted/Confirmed-via-
// Timer-L/Timer-M states (SPEC_FULL REDESIGN FLAGS): a 2xx sent by a server
// transaction, or received by a client transaction, terminates the
// transaction immediately and hands retransmission duties to the dialog
// layer, exactly as classic RFC 3261 describes.
type State string

const (
	StateCalling    State = "calling"
	StateTrying     State = "trying"
	StateProceeding State = "proceeding"
	StateCompleted  State = "completed"
	StateConfirmed  State = "confirmed"
	StateTerminated State = "terminated"
)

// Type identifies which of the four FSMs a transaction runs.
type Type string

const (
	TypeClientInvite    Type = "client_invite"
	TypeClientNonInvite Type = "client_non_invite"
	TypeServerInvite    Type = "server_invite"
	TypeServerNonInvite Type = "server_non_invite"
)

// Shared trigger names, reused across the four FSMs where the event means
// the same thing (SPEC_FULL §4.4).
const (
	evtRecv1xx      = "recv_1xx"
	evtRecv2xx      = "recv_2xx"
	evtRecv300699   = "recv_300_699"
	evtRecvReq      = "recv_req"
	evtRecvAck      = "recv_ack"
	evtSend1xx      = "send_1xx"
	evtSend2xx      = "send_2xx"
	evtSend300699   = "send_300_699"
	evtTranspErr    = "transport_error"
	evtTerminate    = "terminate"
	evtTimerA       = "timer_a"
	evtTimerB       = "timer_b"
	evtTimerD       = "timer_d"
	evtTimerE       = "timer_e"
	evtTimerF       = "timer_f"
	evtTimerG       = "timer_g"
	evtTimerH       = "timer_h"
	evtTimerI       = "timer_i"
	evtTimerJ       = "timer_j"
	evtTimerK       = "timer_k"
	evtTimer100     = "timer_100"
)

// Transaction is the behavior common to client and server transactions:
// lifecycle state and a signal for when that state becomes Terminated.
type Transaction interface {
	Type() Type
	State() State
	Context() context.Context
	Done() <-chan struct{}
}

// ResponseHandler is called by a ClientTransaction for every response it
// passes up to the transaction user, in transaction context.
type ResponseHandler func(ctx context.Context, tx ClientTransaction, resp *sip.Response)

// RequestHandler is called by a ServerTransaction for every inbound
// retransmission/ACK it passes up to the transaction user.
type RequestHandler func(ctx context.Context, tx ServerTransaction, req *sip.Request)

// ClientTransaction is a running client transaction: either ClientInvite
// or ClientNonInvite.
type ClientTransaction interface {
	Transaction
	Key() ClientTransactionKey
	Request() *sip.Request
	LastResponse() *sip.Response
	// RecvResponse delivers an inbound response already matched to this
	// transaction by the caller (the router, SPEC_FULL §4.5).
	RecvResponse(ctx context.Context, resp *sip.Response) error
	// OnResponse registers fn to be called for every response the FSM
	// passes up. Multiple registrations are allowed; the returned cancel
	// func removes this one.
	OnResponse(fn ResponseHandler) (cancel func())
}

// ServerTransaction is a running server transaction: either ServerInvite
// or ServerNonInvite.
type ServerTransaction interface {
	Transaction
	Key() ServerTransactionKey
	Request() *sip.Request
	LastResponse() *sip.Response
	// RecvRequest delivers an inbound request (retransmission or, for an
	// invite transaction, an ACK) already matched to this transaction.
	RecvRequest(ctx context.Context, req *sip.Request) error
	// Respond sends resp through the FSM, which decides retransmission
	// and timer behavior from its status code.
	Respond(ctx context.Context, resp *sip.Response) error
}

// ClientTransactionOptions configures a new client transaction.
type ClientTransactionOptions struct {
	// Key overrides the automatically derived transaction key.
	Key ClientTransactionKey
	// Destination is where the request (and its retransmits) are sent.
	Destination transport.Destination
	// Timings overrides the default RFC 3261 timer values.
	Timings TimingConfig
	Log     *slog.Logger
}

func (o *ClientTransactionOptions) key() ClientTransactionKey {
	if o == nil {
		return ClientTransactionKey{}
	}
	return o.Key
}

func (o *ClientTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defaultTimingConfig
	}
	return o.Timings
}

func (o *ClientTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return xlog.Default()
	}
	return o.Log
}

// ServerTransactionOptions configures a new server transaction.
type ServerTransactionOptions struct {
	Key     ServerTransactionKey
	Timings TimingConfig
	Log     *slog.Logger
}

func (o *ServerTransactionOptions) key() ServerTransactionKey {
	if o == nil {
		return ServerTransactionKey{}
	}
	return o.Key
}

func (o *ServerTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defaultTimingConfig
	}
	return o.Timings
}

func (o *ServerTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return xlog.Default()
	}
	return o.Log
}

// base carries the fields every transaction FSM needs regardless of
// client/server or INVITE/non-INVITE: its lifecycle context, logger and
// transport. The four FSM types embed either *clientBase or *serverBase,
// which in turn embed *base.
type base struct {
	typ Type
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newBase(typ Type, log *slog.Logger) *base {
	ctx, cancel := context.WithCancel(context.Background())
	return &base{typ: typ, log: log, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (b *base) Type() Type                 { return b.typ }
func (b *base) Context() context.Context   { return b.ctx }
func (b *base) Done() <-chan struct{}      { return b.done }

// terminate closes Done and cancels the transaction's context; it is
// idempotent-safe to call from any state's OnEntry action.
func (b *base) terminate() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.cancel()
}

// clientBase holds the state shared by ClientInviteTransaction and
// ClientNonInviteTransaction (SPEC_FULL §4.3/§4.4): transport ground wire,
// the outbound request, and the pending-response delivery pipe.
type clientBase struct {
	*base
	key     ClientTransactionKey
	tp      transport.Transport
	dest    transport.Destination
	timings TimingConfig
	req     *sip.Request

	lastRes atomicResponse

	onResp    types.CallbackManager[ResponseHandler]
	pendingRs types.Deque[*sip.Response]

	// self is set by the concrete constructor once it has a fully built
	// value to hand to callbacks; nil only during clientBase's own
	// construction, before the embedding type exists.
	self ClientTransaction
}

// setSelf records the concrete ClientTransaction so clientBase's own
// methods can pass it to ResponseHandler callbacks.
func (tx *clientBase) setSelf(self ClientTransaction) { tx.self = self }

func newClientBase(typ Type, req *sip.Request, tp transport.Transport, opts *ClientTransactionOptions) (*clientBase, error) {
	if tp == nil {
		return nil, errMissingHeader("transport")
	}
	key := opts.key()
	if key.IsZero() {
		var err error
		key, err = ClientKeyFromRequest(req)
		if err != nil {
			return nil, err
		}
	}
	return &clientBase{
		base:    newBase(typ, opts.log()),
		key:     key,
		tp:      tp,
		dest:    opts.Destination,
		timings: opts.timings(),
		req:     req,
	}, nil
}

func (tx *clientBase) Key() ClientTransactionKey { return tx.key }
func (tx *clientBase) Request() *sip.Request     { return tx.req }
func (tx *clientBase) LastResponse() *sip.Response { return tx.lastRes.load() }

func (tx *clientBase) OnResponse(fn ResponseHandler) (cancel func()) {
	cancel = tx.onResp.Add(fn)
	tx.deliverPending(tx.self)
	return cancel
}

// deliverPending drains buffered responses to every registered handler.
// impl is the concrete *ClientInviteTransaction/*ClientNonInviteTransaction
// passed to callbacks so they can retrieve tx.Key()/tx.State(); it is nil
// when called before the concrete type finishes constructing itself, in
// which case delivery is deferred to the next OnResponse/actPassResponse.
func (tx *clientBase) deliverPending(impl ClientTransaction) {
	if impl == nil || tx.onResp.Len() == 0 {
		return
	}
	resps := tx.pendingRs.Drain()
	if len(resps) == 0 {
		return
	}
	for cb := range tx.onResp.All() {
		for _, r := range resps {
			cb(tx.ctx, impl, r)
		}
	}
}

func (tx *clientBase) sendReq(ctx context.Context, fsm fsmFirer, req *sip.Request) {
	if err := tx.tp.Send(ctx, tx.dest, req); err != nil {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "send request failed", slog.Any("error", err))
		if fireErr := fsm.FireCtx(ctx, evtTranspErr, err); fireErr != nil {
			tx.log.LogAttrs(ctx, slog.LevelError, "fire transport_error failed", slog.Any("error", fireErr))
		}
	}
}

// serverBase holds the state shared by ServerInviteTransaction and
// ServerNonInviteTransaction.
type serverBase struct {
	*base
	key     ServerTransactionKey
	tp      transport.Transport
	dest    transport.Destination
	timings TimingConfig
	req     *sip.Request

	lastRes atomicResponse
}

func newServerBase(typ Type, req *sip.Request, tp transport.Transport, dest transport.Destination, opts *ServerTransactionOptions) (*serverBase, error) {
	if tp == nil {
		return nil, errMissingHeader("transport")
	}
	key := opts.key()
	if key.IsZero() {
		var err error
		key, err = ServerKeyFromRequest(req)
		if err != nil {
			return nil, err
		}
	}
	return &serverBase{
		base:    newBase(typ, opts.log()),
		key:     key,
		tp:      tp,
		dest:    dest,
		timings: opts.timings(),
		req:     req,
	}, nil
}

func (tx *serverBase) Key() ServerTransactionKey   { return tx.key }
func (tx *serverBase) Request() *sip.Request       { return tx.req }
func (tx *serverBase) LastResponse() *sip.Response { return tx.lastRes.load() }

func (tx *serverBase) sendRes(ctx context.Context, fsm fsmFirer, resp *sip.Response) {
	tx.lastRes.store(resp)
	if err := tx.tp.Send(ctx, tx.dest, resp); err != nil {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "send response failed", slog.Any("error", err))
		if fireErr := fsm.FireCtx(ctx, evtTranspErr, err); fireErr != nil {
			tx.log.LogAttrs(ctx, slog.LevelError, "fire transport_error failed", slog.Any("error", fireErr))
		}
	}
}

// fsmFirer is the subset of *stateless.StateMachine the base helpers need;
// declared locally so they can fire evtTranspErr without depending on the
// concrete FSM type. stateless.Trigger is a type alias for any, so
// *stateless.StateMachine satisfies this automatically.
type fsmFirer interface {
	FireCtx(ctx context.Context, trigger any, args ...any) error
}

// atomicResponse is a small atomic.Pointer[sip.Response] wrapper so
// clientBase/serverBase don't need to import sync/atomic twice for the
// same pattern.
type atomicResponse struct{ p atomic.Pointer[sip.Response] }

func (a *atomicResponse) load() *sip.Response       { return a.p.Load() }
func (a *atomicResponse) store(r *sip.Response)     { a.p.Store(r) }
