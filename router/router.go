// Package router implements the message router (C5) described in
// SPEC_FULL §4.5: the first stop for every inbound message, matching it to
// a live transaction or falling through to the Core registry.
package router

import (
	"context"
	"log/slog"

	"github.com/sipstack/transact/core"
	"github.com/sipstack/transact/internal/xlog"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transaction"
	"github.com/sipstack/transact/transport"
)

// Router dispatches inbound requests and responses to the transaction
// they belong to, or to a Core when none exists yet.
type Router struct {
	Core *core.Core
	Log  *slog.Logger
}

// New wires a Router against c. log defaults to xlog.Default() if nil.
func New(c *core.Core, log *slog.Logger) *Router {
	if log == nil {
		log = xlog.Default()
	}
	return &Router{Core: c, Log: log}
}

// Attach subscribes the router to tp's inbound request/response delivery,
// per SPEC_FULL §4.2 ("invoked by the transport into the router").
func (rt *Router) Attach(tp transport.Transport) (detach func()) {
	removeReq := tp.OnRequest(func(req *sip.Request, src transport.Destination) {
		rt.DispatchRequest(context.Background(), req, src)
	})
	removeResp := tp.OnResponse(func(resp *sip.Response, src transport.Destination) {
		rt.DispatchResponse(context.Background(), resp, src)
	})
	return func() {
		removeReq()
		removeResp()
	}
}

// DispatchRequest implements SPEC_FULL §4.5 steps 1-4 for an inbound
// request.
func (rt *Router) DispatchRequest(ctx context.Context, req *sip.Request, src transport.Destination) {
	key, err := transaction.ServerKeyFromRequest(req)
	if err != nil {
		rt.Log.LogAttrs(ctx, slog.LevelWarn, "drop request: cannot compute server key", slog.Any("error", err), slog.Any("request", req))
		return
	}

	if tx, ok := rt.Core.Transaction.Servers.Lookup(key); ok {
		err := tx.RecvRequest(ctx, req)
		if err == nil {
			return
		}
		select {
		case <-tx.Done():
			// Terminated but not yet unregistered: fall through to Core
			// dispatch as if the lookup had missed.
		default:
			rt.Log.LogAttrs(ctx, slog.LevelWarn, "transaction rejected request", slog.Any("error", err), slog.Any("key", key))
			return
		}
	}

	h, ok := rt.Core.Handlers.Match(req)
	if !ok {
		rt.Log.LogAttrs(ctx, slog.LevelDebug, "drop request: no applicable core", slog.Any("request", req))
		return
	}

	if req.Method.Equal(sip.ACK) {
		// An ACK with no matching server transaction acknowledges a 2xx:
		// that exchange is end-to-end between UACs and is a dialog-layer
		// concern out of this module's scope (SPEC_FULL Non-goals), so it
		// is handed to the Core directly, without a transaction.
		if _, err := h.OnRequest(ctx, req, nil); err != nil {
			rt.Log.LogAttrs(ctx, slog.LevelWarn, "handler rejected out-of-transaction ACK", slog.Any("error", err))
		}
		return
	}

	tx, err := rt.Core.StartServerTx(req, src)
	if err != nil {
		rt.Log.LogAttrs(ctx, slog.LevelWarn, "drop request: cannot start server transaction", slog.Any("error", err), slog.Any("request", req))
		return
	}
	rt.Core.Dispatcher.HandleRequest(ctx, h, req, tx)
}

// DispatchResponse implements SPEC_FULL §4.5 steps 1-2 for an inbound
// response: a miss is silently dropped (a response to a transaction that
// no longer exists carries no action to take).
func (rt *Router) DispatchResponse(ctx context.Context, resp *sip.Response, src transport.Destination) {
	key, err := transaction.ClientKeyFromResponse(resp)
	if err != nil {
		rt.Log.LogAttrs(ctx, slog.LevelWarn, "drop response: cannot compute client key", slog.Any("error", err), slog.Any("response", resp))
		return
	}

	tx, ok := rt.Core.Transaction.Clients.Lookup(key)
	if !ok {
		rt.Log.LogAttrs(ctx, slog.LevelDebug, "drop response: no matching client transaction", slog.Any("key", key))
		return
	}
	if err := tx.RecvResponse(ctx, resp); err != nil {
		rt.Log.LogAttrs(ctx, slog.LevelWarn, "transaction rejected response", slog.Any("error", err), slog.Any("key", key))
	}
}
