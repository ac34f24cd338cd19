package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transport"
)

// ClientNonInviteTransaction is the client non-INVITE FSM, RFC 3261
// §17.1.2 (Figure 6).
type ClientNonInviteTransaction struct {
	*clientBase
	fsm *stateless.StateMachine

	tmrE    onceTimer
	tmrF    onceTimer
	tmrK    onceTimer
	curTmrE time.Duration
}

// NewClientNonInviteTransaction creates and starts a client non-INVITE
// transaction. req must not be INVITE or ACK.
func NewClientNonInviteTransaction(
	req *sip.Request,
	tp transport.Transport,
	opts *ClientTransactionOptions,
) (*ClientNonInviteTransaction, error) {
	if req.Method.Equal(sip.INVITE) || req.Method.Equal(sip.ACK) {
		return nil, errMissingHeader("non-INVITE, non-ACK method")
	}
	cb, err := newClientBase(TypeClientNonInvite, req, tp, opts)
	if err != nil {
		return nil, err
	}
	tx := &ClientNonInviteTransaction{clientBase: cb}
	tx.setSelf(tx)
	tx.initFSM()
	if err := tx.actTrying(tx.ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *ClientNonInviteTransaction) initFSM() {
	tx.fsm = stateless.NewStateMachine(StateTrying)

	tx.fsm.SetTriggerParameters(evtRecv1xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtRecv2xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtRecv300699, reflect.TypeOf((*sip.Response)(nil)))

	tx.fsm.Configure(StateTrying).
		InternalTransition(evtTimerE, tx.actRetransmit).
		Permit(evtRecv1xx, StateProceeding).
		Permit(evtRecv2xx, StateCompleted).
		Permit(evtRecv300699, StateCompleted).
		Permit(evtTimerF, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntry(tx.actProceeding).
		InternalTransition(evtTimerE, tx.actRetransmit).
		InternalTransition(evtRecv1xx, tx.actPassResponse).
		Permit(evtRecv2xx, StateCompleted).
		Permit(evtRecv300699, StateCompleted).
		Permit(evtTimerF, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		Permit(evtTimerK, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated)
}

func (tx *ClientNonInviteTransaction) State() State { return tx.fsm.MustState().(State) }

func (tx *ClientNonInviteTransaction) actTrying(ctx context.Context, _ ...any) error {
	tx.sendReq(ctx, tx.fsm, tx.req)

	if !tx.tp.Reliable(tx.dest.Transport) {
		tx.curTmrE = tx.timings.TimeE()
		tx.tmrE.start(tx.curTmrE, tx.onTimerE)
	}
	tx.tmrF.start(tx.timings.TimeF(), tx.onTimerF)
	return nil
}

func (tx *ClientNonInviteTransaction) onTimerE() {
	st := tx.State()
	if st != StateTrying && st != StateProceeding {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerE); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerE, tx.State(), err))
	}
}

func (tx *ClientNonInviteTransaction) actRetransmit(ctx context.Context, _ ...any) error {
	tx.sendReq(ctx, tx.fsm, tx.req)
	if tx.State() == StateTrying {
		tx.curTmrE = min(2*tx.curTmrE, tx.timings.T2())
	} else {
		tx.curTmrE = tx.timings.T2()
	}
	tx.tmrE.start(tx.curTmrE, tx.onTimerE)
	return nil
}

func (tx *ClientNonInviteTransaction) onTimerF() {
	st := tx.State()
	if st != StateTrying && st != StateProceeding {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerF); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerF, tx.State(), err))
	}
}

func (tx *ClientNonInviteTransaction) actProceeding(ctx context.Context, args ...any) error {
	return tx.actPassResponse(ctx, args...)
}

func (tx *ClientNonInviteTransaction) actPassResponse(ctx context.Context, args ...any) error {
	resp := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.lastRes.store(resp)
	tx.pendingRs.Append(resp)
	tx.deliverPending(tx)
	return nil
}

func (tx *ClientNonInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.tmrE.stop()
	tx.tmrF.stop()
	if len(args) > 0 {
		tx.actPassResponse(ctx, args...) //nolint:errcheck
	}
	var timeK time.Duration
	if !tx.tp.Reliable(tx.dest.Transport) {
		timeK = tx.timings.TimeK()
	}
	tx.tmrK.start(timeK, tx.onTimerK)
	return nil
}

func (tx *ClientNonInviteTransaction) onTimerK() {
	if tx.State() != StateCompleted {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerK); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerK, tx.State(), err))
	}
}

func (tx *ClientNonInviteTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.tmrE.stop()
	tx.tmrF.stop()
	tx.tmrK.stop()
	tx.terminate()
	if len(args) > 0 {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "client non-invite transaction terminated", slog.Any("cause", args[0]))
	}
	return nil
}

// RecvResponse implements ClientTransaction.
func (tx *ClientNonInviteTransaction) RecvResponse(ctx context.Context, resp *sip.Response) error {
	switch {
	case resp.Status.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtRecv1xx, resp)
	case resp.Status.IsSuccess():
		return tx.fsm.FireCtx(ctx, evtRecv2xx, resp)
	default:
		return tx.fsm.FireCtx(ctx, evtRecv300699, resp)
	}
}
