package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/sipstack/transact/internal/types"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transport"
)

// ServerInviteTransaction is the server INVITE FSM, RFC 3261 §17.2.1
// (Figure 7), with no RFC 6026 Accepted state (SPEC_FULL REDESIGN FLAGS):
// sending a 2xx terminates the transaction immediately instead of parking
// in Accepted/Timer L to absorb retransmitted 2xx's and late ACKs — the
// dialog layer owns that responsibility here.
type ServerInviteTransaction struct {
	*serverBase
	fsm *stateless.StateMachine

	tmr1xx  onceTimer
	tmrG    onceTimer
	tmrH    onceTimer
	tmrI    onceTimer
	curTmrG time.Duration

	onAck       types.CallbackManager[RequestHandler]
	pendingAcks types.Deque[*sip.Request]
}

// NewServerInviteTransaction creates and starts a server INVITE
// transaction. req must be an INVITE. dest is where responses are sent.
func NewServerInviteTransaction(
	req *sip.Request,
	tp transport.Transport,
	dest transport.Destination,
	opts *ServerTransactionOptions,
) (*ServerInviteTransaction, error) {
	if !req.Method.Equal(sip.INVITE) {
		return nil, errMissingHeader("INVITE method")
	}
	sb, err := newServerBase(TypeServerInvite, req, tp, dest, opts)
	if err != nil {
		return nil, err
	}
	tx := &ServerInviteTransaction{serverBase: sb}
	tx.initFSM()
	if err := tx.actProceeding(tx.ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *ServerInviteTransaction) initFSM() {
	tx.fsm = stateless.NewStateMachine(StateProceeding)

	tx.fsm.SetTriggerParameters(evtRecvAck, reflect.TypeOf((*sip.Request)(nil)))
	tx.fsm.SetTriggerParameters(evtSend1xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtSend2xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtSend300699, reflect.TypeOf((*sip.Response)(nil)))

	tx.fsm.Configure(StateProceeding).
		InternalTransition(evtRecvReq, tx.actResendLastResponse).
		InternalTransition(evtSend1xx, tx.actSend1xx).
		InternalTransition(evtTimer100, tx.actSendTrying).
		Permit(evtSend2xx, StateTerminated).
		Permit(evtSend300699, StateCompleted).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		InternalTransition(evtRecvReq, tx.actResendLastResponse).
		InternalTransition(evtTimerG, tx.actResendLastResponse).
		Permit(evtRecvAck, StateConfirmed).
		Permit(evtTimerH, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateConfirmed).
		OnEntry(tx.actConfirmed).
		OnEntryFrom(evtRecvAck, tx.actPassAck).
		InternalTransition(evtRecvReq, tx.actNoop).
		InternalTransition(evtRecvAck, tx.actPassAck).
		Permit(evtTimerI, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntryFrom(evtSend2xx, tx.actSend2xx).
		OnEntry(tx.actTerminated)
}

func (tx *ServerInviteTransaction) State() State { return tx.fsm.MustState().(State) }

func (tx *ServerInviteTransaction) actNoop(context.Context, ...any) error { return nil }

func (tx *ServerInviteTransaction) actProceeding(ctx context.Context, _ ...any) error {
	tx.tmr1xx.start(tx.timings.Time100(), tx.onTimer100)
	return nil
}

func (tx *ServerInviteTransaction) onTimer100() {
	if tx.State() != StateProceeding {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimer100); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimer100, tx.State(), err))
	}
}

func (tx *ServerInviteTransaction) actSendTrying(ctx context.Context, _ ...any) error {
	resp := tx.req.NewResponse(sip.StatusTrying, "")
	tx.sendRes(ctx, tx.fsm, resp)
	return nil
}

func (tx *ServerInviteTransaction) actSend1xx(ctx context.Context, args ...any) error {
	tx.tmr1xx.stop()
	resp := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.sendRes(ctx, tx.fsm, resp)
	return nil
}

func (tx *ServerInviteTransaction) actSend2xx(ctx context.Context, args ...any) error {
	tx.tmr1xx.stop()
	resp := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.sendRes(ctx, tx.fsm, resp)
	return nil
}

func (tx *ServerInviteTransaction) actResendLastResponse(ctx context.Context, _ ...any) error {
	if resp := tx.LastResponse(); resp != nil {
		tx.sendRes(ctx, tx.fsm, resp)
	}
	return nil
}

func (tx *ServerInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.tmr1xx.stop()
	if len(args) > 0 {
		resp := args[0].(*sip.Response) //nolint:forcetypeassert
		tx.sendRes(ctx, tx.fsm, resp)
	}

	if !tx.tp.Reliable(tx.dest.Transport) {
		tx.curTmrG = tx.timings.TimeG()
		tx.tmrG.start(tx.curTmrG, tx.onTimerG)
	}
	tx.tmrH.start(tx.timings.TimeH(), tx.onTimerH)
	return nil
}

func (tx *ServerInviteTransaction) onTimerG() {
	if tx.State() != StateCompleted {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerG); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerG, tx.State(), err))
	}
	tx.curTmrG = min(2*tx.curTmrG, tx.timings.T2())
	tx.tmrG.start(tx.curTmrG, tx.onTimerG)
}

func (tx *ServerInviteTransaction) onTimerH() {
	if tx.State() != StateCompleted {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerH); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerH, tx.State(), err))
	}
}

func (tx *ServerInviteTransaction) actConfirmed(ctx context.Context, _ ...any) error {
	tx.tmrG.stop()
	tx.tmrH.stop()

	var timeI time.Duration
	if !tx.tp.Reliable(tx.dest.Transport) {
		timeI = tx.timings.TimeI()
	}
	tx.tmrI.start(timeI, tx.onTimerI)
	return nil
}

func (tx *ServerInviteTransaction) onTimerI() {
	if tx.State() != StateConfirmed {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerI); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerI, tx.State(), err))
	}
}

func (tx *ServerInviteTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.tmr1xx.stop()
	tx.tmrG.stop()
	tx.tmrH.stop()
	tx.tmrI.stop()
	tx.terminate()
	if len(args) > 0 {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "server invite transaction terminated", slog.Any("cause", args[0]))
	}
	return nil
}

func (tx *ServerInviteTransaction) actPassAck(ctx context.Context, args ...any) error {
	ack := args[0].(*sip.Request) //nolint:forcetypeassert
	tx.pendingAcks.Append(ack)
	if tx.onAck.Len() > 0 {
		tx.deliverPendingAcks(ctx)
	}
	return nil
}

func (tx *ServerInviteTransaction) deliverPendingAcks(ctx context.Context) {
	acks := tx.pendingAcks.Drain()
	if len(acks) == 0 {
		return
	}
	for cb := range tx.onAck.All() {
		for _, ack := range acks {
			cb(ctx, tx, ack)
		}
	}
}

// OnAck registers fn to be called for every ACK this INVITE transaction
// absorbs in Completed/Confirmed. The ACK to a 2xx never reaches the
// transaction layer at all under RFC 3261 matching (it starts its own
// dialog-level exchange), so this only fires for non-2xx ACKs.
func (tx *ServerInviteTransaction) OnAck(fn RequestHandler) (cancel func()) {
	cancel = tx.onAck.Add(fn)
	tx.deliverPendingAcks(tx.ctx)
	return cancel
}

// RecvRequest implements ServerTransaction.
func (tx *ServerInviteTransaction) RecvRequest(ctx context.Context, req *sip.Request) error {
	if req.Method.Equal(sip.ACK) {
		return tx.fsm.FireCtx(ctx, evtRecvAck, req)
	}
	return tx.fsm.FireCtx(ctx, evtRecvReq, req)
}

// Respond implements ServerTransaction.
func (tx *ServerInviteTransaction) Respond(ctx context.Context, resp *sip.Response) error {
	switch {
	case resp.Status.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtSend1xx, resp)
	case resp.Status.IsSuccess():
		return tx.fsm.FireCtx(ctx, evtSend2xx, resp)
	default:
		return tx.fsm.FireCtx(ctx, evtSend300699, resp)
	}
}
