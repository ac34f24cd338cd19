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

// ServerNonInviteTransaction is the server non-INVITE FSM, RFC 3261
// §17.2.2 (Figure 8).
type ServerNonInviteTransaction struct {
	*serverBase
	fsm *stateless.StateMachine

	tmrJ onceTimer
}

// NewServerNonInviteTransaction creates and starts a server non-INVITE
// transaction. req must not be INVITE or ACK.
func NewServerNonInviteTransaction(
	req *sip.Request,
	tp transport.Transport,
	dest transport.Destination,
	opts *ServerTransactionOptions,
) (*ServerNonInviteTransaction, error) {
	if req.Method.Equal(sip.INVITE) || req.Method.Equal(sip.ACK) {
		return nil, errMissingHeader("non-INVITE, non-ACK method")
	}
	sb, err := newServerBase(TypeServerNonInvite, req, tp, dest, opts)
	if err != nil {
		return nil, err
	}
	tx := &ServerNonInviteTransaction{serverBase: sb}
	tx.initFSM()
	return tx, nil
}

func (tx *ServerNonInviteTransaction) initFSM() {
	tx.fsm = stateless.NewStateMachine(StateTrying)

	tx.fsm.SetTriggerParameters(evtSend1xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtSend2xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtSend300699, reflect.TypeOf((*sip.Response)(nil)))

	tx.fsm.Configure(StateTrying).
		Ignore(evtRecvReq).
		Permit(evtSend1xx, StateProceeding).
		Permit(evtSend2xx, StateCompleted).
		Permit(evtSend300699, StateCompleted).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evtSend1xx, tx.actSend1xx).
		InternalTransition(evtRecvReq, tx.actResendLastResponse).
		InternalTransition(evtSend1xx, tx.actSend1xx).
		Permit(evtSend2xx, StateCompleted).
		Permit(evtSend300699, StateCompleted).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		InternalTransition(evtRecvReq, tx.actResendLastResponse).
		Permit(evtTimerJ, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated)
}

func (tx *ServerNonInviteTransaction) State() State { return tx.fsm.MustState().(State) }

func (tx *ServerNonInviteTransaction) actSend1xx(ctx context.Context, args ...any) error {
	resp := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.sendRes(ctx, tx.fsm, resp)
	return nil
}

func (tx *ServerNonInviteTransaction) actResendLastResponse(ctx context.Context, _ ...any) error {
	if resp := tx.LastResponse(); resp != nil {
		tx.sendRes(ctx, tx.fsm, resp)
	}
	return nil
}

func (tx *ServerNonInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	if len(args) > 0 {
		resp := args[0].(*sip.Response) //nolint:forcetypeassert
		tx.sendRes(ctx, tx.fsm, resp)
	}

	var timeJ time.Duration
	if !tx.tp.Reliable(tx.dest.Transport) {
		timeJ = tx.timings.TimeJ()
	}
	tx.tmrJ.start(timeJ, tx.onTimerJ)
	return nil
}

func (tx *ServerNonInviteTransaction) onTimerJ() {
	if tx.State() != StateCompleted {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerJ); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerJ, tx.State(), err))
	}
}

func (tx *ServerNonInviteTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.tmrJ.stop()
	tx.terminate()
	if len(args) > 0 {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "server non-invite transaction terminated", slog.Any("cause", args[0]))
	}
	return nil
}

// RecvRequest implements ServerTransaction. A retransmission received in
// Trying is simply dropped — no response exists yet to resend.
func (tx *ServerNonInviteTransaction) RecvRequest(ctx context.Context, req *sip.Request) error {
	return tx.fsm.FireCtx(ctx, evtRecvReq)
}

// Respond implements ServerTransaction.
func (tx *ServerNonInviteTransaction) Respond(ctx context.Context, resp *sip.Response) error {
	switch {
	case resp.Status.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtSend1xx, resp)
	case resp.Status.IsSuccess():
		return tx.fsm.FireCtx(ctx, evtSend2xx, resp)
	default:
		return tx.fsm.FireCtx(ctx, evtSend300699, resp)
	}
}
