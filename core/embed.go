package core

import (
	"context"
	"log/slog"

	"github.com/sipstack/transact/internal/xlog"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transaction"
	"github.com/sipstack/transact/transport"
)

// Core is the embedding API surface a SIP application sees (SPEC_FULL §6
// "Embedding API"): transaction creation, response sending, and the
// handler-lookup helpers a registered UasHandler needs.
type Core struct {
	Handlers    *Registry
	Dispatcher  *Dispatcher
	Transaction *transaction.Registry
	Transport   transport.Transport
	Log         *slog.Logger
}

// NewCore wires a Core from its handler registry, transaction registry and
// transport. A nil log falls back to xlog.Default.
func NewCore(handlers *Registry, tx *transaction.Registry, tp transport.Transport, log *slog.Logger) *Core {
	if log == nil {
		log = xlog.Default()
	}
	return &Core{
		Handlers:    handlers,
		Dispatcher:  NewDispatcher(tx, log),
		Transaction: tx,
		Transport:   tp,
		Log:         log,
	}
}

// RegisterCore registers h with the Core registry, calling its Init hook.
func (c *Core) RegisterCore(ctx context.Context, h UasHandler) error {
	return c.Handlers.RegisterCore(ctx, h)
}

// StartClientTx starts a client transaction for req toward dest, choosing
// the INVITE or non-INVITE FSM by req's method, and registers it so
// inbound responses can be routed back to it.
func (c *Core) StartClientTx(req *sip.Request, dest transport.Destination) (transaction.ClientTransaction, error) {
	opts := &transaction.ClientTransactionOptions{Destination: dest, Log: c.Log}

	var tx transaction.ClientTransaction
	var err error
	if req.Method.Equal(sip.INVITE) {
		tx, err = transaction.NewClientInviteTransaction(req, c.Transport, opts)
	} else {
		tx, err = transaction.NewClientNonInviteTransaction(req, c.Transport, opts)
	}
	if err != nil {
		return nil, err
	}

	key := tx.Key()
	if err := c.Transaction.Clients.Register(key, tx); err != nil {
		return nil, err
	}
	go c.reapClient(tx, key)
	return tx, nil
}

// StartServerTx starts a server transaction for an inbound req from src,
// choosing the INVITE or non-INVITE FSM by req's method. Calling this
// twice for the same req's key returns the already-registered handle
// rather than failing, matching the router's idempotent creation
// requirement (SPEC_FULL §4.6 step 1).
func (c *Core) StartServerTx(req *sip.Request, src transport.Destination) (transaction.ServerTransaction, error) {
	key, err := transaction.ServerKeyFromRequest(req)
	if err != nil {
		return nil, err
	}
	if existing, ok := c.Transaction.Servers.Lookup(key); ok {
		return existing, nil
	}

	opts := &transaction.ServerTransactionOptions{Log: c.Log}
	var tx transaction.ServerTransaction
	if req.Method.Equal(sip.INVITE) {
		tx, err = transaction.NewServerInviteTransaction(req, c.Transport, src, opts)
	} else {
		tx, err = transaction.NewServerNonInviteTransaction(req, c.Transport, src, opts)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Transaction.RegisterServer(key, req, tx); err != nil {
		if existing, ok := c.Transaction.Servers.Lookup(key); ok {
			return existing, nil
		}
		return nil, err
	}
	go c.reapServer(tx, key, req)
	return tx, nil
}

// reapClient removes tx from the registry the instant it terminates
// (SPEC_FULL §5 "Resource release").
func (c *Core) reapClient(tx transaction.ClientTransaction, key transaction.ClientTransactionKey) {
	<-tx.Done()
	c.Transaction.Clients.Unregister(key)
}

func (c *Core) reapServer(tx transaction.ServerTransaction, key transaction.ServerTransactionKey, req *sip.Request) {
	<-tx.Done()
	c.Transaction.UnregisterServer(key, req)
}

// SendResponse matches req to its Core handler and runs the full
// SPEC_FULL §4.6 step 4 response pipeline.
func (c *Core) SendResponse(ctx context.Context, req *sip.Request, tx transaction.ServerTransaction, resp *sip.Response) {
	h, ok := c.Handlers.Match(req)
	if !ok {
		c.Log.LogAttrs(ctx, slog.LevelWarn, "send response: no matching handler", slog.Any("request", req))
		return
	}
	c.Dispatcher.SendResponse(ctx, h, req, tx, resp)
}

// ListTx returns every currently registered client and server transaction
// key.
func (c *Core) ListTx() (clients []transaction.ClientTransactionKey, servers []transaction.ServerTransactionKey) {
	return c.Transaction.Clients.List(), c.Transaction.Servers.List()
}

// IsLoopDetected reports whether req matches the loop-detection criteria
// of SPEC_FULL §8.2.2.2, regardless of whether any handler opts in.
func (c *Core) IsLoopDetected(req *sip.Request) bool { return c.Transaction.IsLoop(req) }
