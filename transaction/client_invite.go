package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
	"github.com/sipstack/transact/transport"
)

// ClientInviteTransaction is the client INVITE FSM, RFC 3261 §17.1.1
// (Figure 5), with no RFC 6026 Accepted state (SPEC_FULL REDESIGN FLAGS):
// a 2xx received in Calling or Proceeding terminates the transaction
// immediately, handing retransmission of later 2xx's to the dialog layer.
type ClientInviteTransaction struct {
	*clientBase
	fsm *stateless.StateMachine

	tmrA    onceTimer
	tmrB    onceTimer
	tmrD    onceTimer
	curTmrA time.Duration

	ack *sip.Request
}

// NewClientInviteTransaction creates and starts a client INVITE
// transaction: it sends req immediately and arms timers A (unreliable
// transport only) and B.
func NewClientInviteTransaction(
	req *sip.Request,
	tp transport.Transport,
	opts *ClientTransactionOptions,
) (*ClientInviteTransaction, error) {
	if !req.Method.Equal(sip.INVITE) {
		return nil, errMissingHeader("INVITE method")
	}
	cb, err := newClientBase(TypeClientInvite, req, tp, opts)
	if err != nil {
		return nil, err
	}
	tx := &ClientInviteTransaction{clientBase: cb}
	tx.setSelf(tx)
	tx.initFSM()
	if err := tx.actCalling(tx.ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *ClientInviteTransaction) initFSM() {
	tx.fsm = stateless.NewStateMachine(StateCalling)

	tx.fsm.SetTriggerParameters(evtRecv1xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtRecv2xx, reflect.TypeOf((*sip.Response)(nil)))
	tx.fsm.SetTriggerParameters(evtRecv300699, reflect.TypeOf((*sip.Response)(nil)))

	tx.fsm.Configure(StateCalling).
		InternalTransition(evtTimerA, tx.actRetransmit).
		Permit(evtRecv1xx, StateProceeding).
		Permit(evtRecv2xx, StateTerminated).
		Permit(evtRecv300699, StateCompleted).
		Permit(evtTimerB, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntry(tx.actProceeding).
		OnEntryFrom(evtRecv1xx, tx.actPassResponse).
		InternalTransition(evtRecv1xx, tx.actPassResponse).
		Permit(evtRecv2xx, StateTerminated).
		Permit(evtRecv300699, StateCompleted).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(evtRecv300699, tx.actPassResponseAndAck).
		InternalTransition(evtRecv300699, tx.actSendAck).
		Permit(evtTimerD, StateTerminated).
		Permit(evtTranspErr, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated)
}

func (tx *ClientInviteTransaction) State() State { return tx.fsm.MustState().(State) }

func (tx *ClientInviteTransaction) actCalling(ctx context.Context, _ ...any) error {
	tx.sendReq(ctx, tx.fsm, tx.req)

	if !tx.tp.Reliable(tx.dest.Transport) {
		tx.curTmrA = tx.timings.TimeA()
		tx.tmrA.start(tx.curTmrA, tx.onTimerA)
	}
	tx.tmrB.start(tx.timings.TimeB(), tx.onTimerB)
	return nil
}

func (tx *ClientInviteTransaction) onTimerA() {
	if tx.State() != StateCalling {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerA); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerA, tx.State(), err))
	}
}

func (tx *ClientInviteTransaction) actRetransmit(ctx context.Context, _ ...any) error {
	tx.sendReq(ctx, tx.fsm, tx.req)
	tx.curTmrA = 2 * tx.curTmrA
	tx.tmrA.start(tx.curTmrA, tx.onTimerA)
	return nil
}

func (tx *ClientInviteTransaction) onTimerB() {
	if tx.State() != StateCalling {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerB); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerB, tx.State(), err))
	}
}

func (tx *ClientInviteTransaction) actProceeding(ctx context.Context, _ ...any) error {
	tx.tmrA.stop()
	tx.tmrB.stop()
	return nil
}

func (tx *ClientInviteTransaction) actPassResponse(ctx context.Context, args ...any) error {
	resp := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.lastRes.store(resp)
	tx.pendingRs.Append(resp)
	tx.deliverPending(tx)
	return nil
}

func (tx *ClientInviteTransaction) actCompleted(ctx context.Context, _ ...any) error {
	tx.tmrA.stop()
	tx.tmrB.stop()
	tx.tmrD.start(tx.timings.TimeD(), tx.onTimerD)
	return nil
}

func (tx *ClientInviteTransaction) actPassResponseAndAck(ctx context.Context, args ...any) error {
	tx.actPassResponse(ctx, args...) //nolint:errcheck
	tx.actSendAck(ctx, args...)      //nolint:errcheck
	return nil
}

func (tx *ClientInviteTransaction) actSendAck(ctx context.Context, _ ...any) error {
	if tx.ack == nil {
		ack := tx.req.Clone().(*sip.Request) //nolint:forcetypeassert
		ack.Method = sip.ACK
		if via, ok := ack.Via(); ok && len(via) > 1 {
			ack.Headers.Remove("Via")
			ack.Headers.Prepend(header.Via{via[0]})
		}
		if cseq, ok := ack.CSeq(); ok {
			ack.Headers.Remove("CSeq")
			ack.Headers.Append(header.CSeq{Seq: cseq.Seq, Method: string(sip.ACK)})
		}
		ack.SetBody(nil)
		if resp := tx.LastResponse(); resp != nil {
			if to, ok := resp.To(); ok {
				ack.Headers.Remove("To")
				ack.Headers.Append(to)
			}
		}
		tx.ack = ack
	}
	tx.sendReq(ctx, tx.fsm, tx.ack)
	return nil
}

func (tx *ClientInviteTransaction) onTimerD() {
	if tx.State() != StateCompleted {
		return
	}
	if err := tx.fsm.FireCtx(tx.ctx, evtTimerD); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", evtTimerD, tx.State(), err))
	}
}

func (tx *ClientInviteTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.tmrA.stop()
	tx.tmrB.stop()
	tx.tmrD.stop()
	tx.terminate()
	if len(args) > 0 {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "client invite transaction terminated", slog.Any("cause", args[0]))
	}
	return nil
}

// RecvResponse implements ClientTransaction.
func (tx *ClientInviteTransaction) RecvResponse(ctx context.Context, resp *sip.Response) error {
	switch {
	case resp.Status.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtRecv1xx, resp)
	case resp.Status.IsSuccess():
		tx.lastRes.store(resp)
		tx.pendingRs.Append(resp)
		err := tx.fsm.FireCtx(ctx, evtRecv2xx, resp)
		tx.deliverPending(tx)
		return err
	default:
		return tx.fsm.FireCtx(ctx, evtRecv300699, resp)
	}
}
