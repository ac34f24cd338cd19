package transaction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transaction"
)

func TestClientNonInviteTransaction_CompletesOnFinalResponse(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport(true)
	req := newRequest(sip.REGISTER, "cni-ok@atlanta.example.com")

	tx, err := transaction.NewClientNonInviteTransaction(req, ft, &transaction.ClientTransactionOptions{
		Destination: fakeDest,
		Timings:     fastTimings,
	})
	if err != nil {
		t.Fatalf("NewClientNonInviteTransaction() error = %v", err)
	}
	sent := ft.waitReq(t, 100*time.Millisecond)
	if !sent.Method.Equal(sip.REGISTER) {
		t.Fatalf("initial send method = %q, want REGISTER", sent.Method)
	}
	if tx.State() != transaction.StateTrying {
		t.Fatalf("state = %q, want %q", tx.State(), transaction.StateTrying)
	}

	var mu sync.Mutex
	var got []*sip.Response
	tx.OnResponse(func(_ context.Context, _ transaction.ClientTransaction, resp *sip.Response) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
	})

	if err := tx.RecvResponse(context.Background(), newResponseTo(req, sip.StatusOK)); err != nil {
		t.Fatalf("RecvResponse(200) error = %v", err)
	}
	waitForState(t, tx.State, transaction.StateCompleted, 200*time.Millisecond)
	waitForState(t, tx.State, transaction.StateTerminated, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Status != sip.StatusOK {
		t.Fatalf("delivered responses = %v, want exactly [200]", got)
	}
}

func TestClientNonInviteTransaction_ProceedingOnProvisional(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport(false)
	req := newRequest(sip.OPTIONS, "cni-proceeding@atlanta.example.com")

	tx, err := transaction.NewClientNonInviteTransaction(req, ft, &transaction.ClientTransactionOptions{
		Destination: fakeDest,
		Timings:     fastTimings,
	})
	if err != nil {
		t.Fatalf("NewClientNonInviteTransaction() error = %v", err)
	}
	ft.waitReq(t, 100*time.Millisecond)

	if err := tx.RecvResponse(context.Background(), newResponseTo(req, sip.StatusTrying)); err != nil {
		t.Fatalf("RecvResponse(100) error = %v", err)
	}
	waitForState(t, tx.State, transaction.StateProceeding, 200*time.Millisecond)

	// Timer E keeps retransmitting in Proceeding too, now capped at T2.
	ft.waitReq(t, 150*time.Millisecond)

	if err := tx.RecvResponse(context.Background(), newResponseTo(req, sip.StatusOK)); err != nil {
		t.Fatalf("RecvResponse(200) error = %v", err)
	}
	waitForState(t, tx.State, transaction.StateTerminated, 200*time.Millisecond)
}

func TestClientNonInviteTransaction_TimerF_NoResponse(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport(true)
	req := newRequest(sip.OPTIONS, "cni-timeout@atlanta.example.com")

	tx, err := transaction.NewClientNonInviteTransaction(req, ft, &transaction.ClientTransactionOptions{
		Destination: fakeDest,
		Timings:     fastTimings,
	})
	if err != nil {
		t.Fatalf("NewClientNonInviteTransaction() error = %v", err)
	}
	ft.waitReq(t, 100*time.Millisecond)

	waitForState(t, tx.State, transaction.StateTerminated, 2*time.Second)
}

func TestNewClientNonInviteTransaction_RejectsInviteAndAck(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport(true)
	for _, m := range []sip.Method{sip.INVITE, sip.ACK} {
		if _, err := transaction.NewClientNonInviteTransaction(newRequest(m, "bad-method@atlanta.example.com"), ft, nil); err == nil {
			t.Fatalf("NewClientNonInviteTransaction(%s) error = nil, want an error", m)
		}
	}
}
