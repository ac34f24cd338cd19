package transaction_test

import (
	"context"
	"testing"
	"time"

	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/sip/header"
	"github.com/sipstack/transact/transaction"
)

func TestRegistry_RegisterServer_DuplicateKeyRejected(t *testing.T) {
	t.Parallel()

	reg := transaction.NewRegistry()
	req := newInviteRequest("dup-call@atlanta.example.com")
	key, err := transaction.ServerKeyFromRequest(req)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest() error = %v", err)
	}

	tx := mustServerInviteTx(t, req, newFakeTransport(true))
	if err := reg.RegisterServer(key, req, tx); err != nil {
		t.Fatalf("first RegisterServer() error = %v", err)
	}
	if err := reg.RegisterServer(key, req, tx); err != transaction.ErrDuplicate {
		t.Fatalf("second RegisterServer() error = %v, want ErrDuplicate", err)
	}
}

func TestRegistry_UnregisterServer_RemovesFromLoopIndex(t *testing.T) {
	t.Parallel()

	reg := transaction.NewRegistry()

	initial := newInviteRequest("loop-call@atlanta.example.com")
	initial.Headers.Remove("To") // dialog-establishing INVITE carries no To-tag
	initial.Headers.Append(header.To(header.NameAddr{URI: "sip:bob@biloxi.example.com"}))
	key, err := transaction.ServerKeyFromRequest(initial)
	if err != nil {
		t.Fatalf("ServerKeyFromRequest() error = %v", err)
	}
	tx := mustServerInviteTx(t, initial, newFakeTransport(true))
	if err := reg.RegisterServer(key, initial, tx); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	forked := initial.Clone().(*sip.Request) //nolint:forcetypeassert
	via, _ := forked.Via()
	via[0].Params = via[0].Params.Clone().Set("branch", sip.NewBranch())
	forked.Headers.Remove("Via")
	forked.Headers.Append(via)

	if !reg.IsLoop(forked) {
		t.Fatal("expected a loop once a second branch targets the same dialog identity")
	}

	reg.UnregisterServer(key, initial)
	if reg.IsLoop(forked) {
		t.Fatal("loop index entry should be gone after UnregisterServer")
	}
}

func TestLoopIndex_IsLoop_FalseWithToTag(t *testing.T) {
	t.Parallel()

	reg := transaction.NewRegistry()
	req := newInviteRequest("tagged-call@atlanta.example.com")
	to, _ := req.To()
	req.Headers.Remove("To")
	req.Headers.Append(to.WithTag("existing-dialog"))

	if reg.IsLoop(req) {
		t.Fatal("a request carrying a To-tag is mid-dialog, never a loop candidate")
	}
}

func TestStore_LookupAfterUnregister(t *testing.T) {
	t.Parallel()

	store := transaction.NewClientStore()
	tx := mustClientInviteTx(t, newInviteRequest("store-call@atlanta.example.com"), newFakeTransport(true))
	key := tx.Key()

	if err := store.Register(key, tx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, ok := store.Lookup(key); !ok {
		t.Fatal("expected Lookup to find the just-registered transaction")
	}

	store.Unregister(key)
	if _, ok := store.Lookup(key); ok {
		t.Fatal("expected Lookup to miss after Unregister")
	}
}

func mustServerInviteTx(t *testing.T, req *sip.Request, ft *fakeTransport) *transaction.ServerInviteTransaction {
	t.Helper()
	tx, err := transaction.NewServerInviteTransaction(req, ft, fakeDest, &transaction.ServerTransactionOptions{Timings: fastTimings})
	if err != nil {
		t.Fatalf("NewServerInviteTransaction() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tx.Respond(ctx, newResponseTo(req, sip.StatusOK))
	})
	return tx
}

func mustClientInviteTx(t *testing.T, req *sip.Request, ft *fakeTransport) *transaction.ClientInviteTransaction {
	t.Helper()
	tx, err := transaction.NewClientInviteTransaction(req, ft, &transaction.ClientTransactionOptions{Destination: fakeDest, Timings: fastTimings})
	if err != nil {
		t.Fatalf("NewClientInviteTransaction() error = %v", err)
	}
	t.Cleanup(func() {
		_ = tx.RecvResponse(context.Background(), newResponseTo(req, sip.StatusOK))
	})
	return tx
}
