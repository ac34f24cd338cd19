// Package core implements the Core registry and UAS validation pipeline
// (C6) described in SPEC_FULL §4.6: the embedding API a SIP application
// sees, sitting one layer above the transaction registry and FSMs.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sipstack/transact/internal/randutil"
	"github.com/sipstack/transact/internal/xlog"
	"github.com/sipstack/transact/sip"
	"github.com/sipstack/transact/transaction"
)

// UasHandler is what an application registers with a Core to receive
// requests (SPEC_FULL §4.6, §9 "Callback module as polymorphism"). Dispatch
// is a static interface call per registered handler, resolved dynamically
// per request by Registry.Match.
type UasHandler interface {
	// Init is called once, synchronously, when the handler is registered.
	Init(ctx context.Context) error
	// IsApplicable reports whether this handler wants to own req. The
	// first registered handler for which this returns true wins; no other
	// handler is consulted (SPEC_FULL §4.5 strict first-match-wins).
	IsApplicable(req *sip.Request) bool
	// OnRequest processes req on its server transaction. A nil response
	// with a nil error means the handler replied itself (or intends to
	// reply asynchronously via tx.Respond later); a non-nil response is
	// sent by the pipeline via SendResponse. tx is nil for an ACK that
	// matched no server transaction (an ACK to a 2xx, a dialog-layer
	// concern outside this module's scope) — such a call never runs the
	// validation chain and always ignores a non-nil return value.
	OnRequest(ctx context.Context, req *sip.Request, tx transaction.ServerTransaction) (*sip.Response, error)
	// Allow lists the methods this handler accepts, used both for 405
	// rejection and to populate outgoing Allow headers.
	Allow() []sip.Method
	// Supported lists extension tokens this handler understands, used
	// both for 420 rejection of unknown Require values and to populate
	// outgoing Supported headers.
	Supported() []string
	// DetectLoops reports whether this handler opts into loop detection
	// (SPEC_FULL §8.2.2.2 is enabled per-UA, not globally).
	DetectLoops() bool
	// Server is the value placed in an outgoing Server header when one
	// isn't already present; an empty value omits the header.
	Server() string
}

// Registry is the Core registry: the ordered list of registered handlers
// consulted by the router on an unmatched request (SPEC_FULL §4.5 step 3).
type Registry struct {
	mu       sync.RWMutex
	handlers []UasHandler
}

// NewRegistry returns an empty Core registry.
func NewRegistry() *Registry { return &Registry{} }

// RegisterCore adds h to the registry, calling its Init hook first; h is
// never added if Init fails.
func (r *Registry) RegisterCore(ctx context.Context, h UasHandler) error {
	if err := h.Init(ctx); err != nil {
		return fmt.Errorf("core: init handler: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	return nil
}

// Match returns the first registered handler whose IsApplicable accepts
// req, in registration order.
func (r *Registry) Match(req *sip.Request) (UasHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		if h.IsApplicable(req) {
			return h, true
		}
	}
	return nil, false
}

// Dispatcher runs the UAS validation-and-dispatch pipeline (SPEC_FULL
// §4.6) on requests the router has already matched to a Core and a server
// transaction.
type Dispatcher struct {
	Tx  *transaction.Registry
	Log *slog.Logger
}

// NewDispatcher returns a Dispatcher backed by the given transaction
// registry. log defaults to xlog.Default() if nil.
func NewDispatcher(tx *transaction.Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = xlog.Default()
	}
	return &Dispatcher{Tx: tx, Log: log}
}

// HandleRequest runs the validation chain for req against h, then, if
// validation passes, dispatches to h.OnRequest and sends whatever response
// it returns (SPEC_FULL §4.6 steps 2-4).
func (d *Dispatcher) HandleRequest(ctx context.Context, h UasHandler, req *sip.Request, tx transaction.ServerTransaction) {
	if resp := d.validate(h, req); resp != nil {
		d.SendResponse(ctx, h, req, tx, resp)
		return
	}

	resp, err := h.OnRequest(ctx, req, tx)
	if err != nil {
		d.Log.LogAttrs(ctx, slog.LevelError, "handler OnRequest failed", slog.Any("error", err), slog.Any("request", req))
		return
	}
	if resp != nil {
		d.SendResponse(ctx, h, req, tx, resp)
	}
}

// validate runs validate_method, validate_loop, validate_required in
// order, short-circuiting on the first rejection (SPEC_FULL §4.6 step 2).
func (d *Dispatcher) validate(h UasHandler, req *sip.Request) *sip.Response {
	if resp := validateMethod(h, req); resp != nil {
		return resp
	}
	if resp := validateLoop(h, req, d.Tx); resp != nil {
		return resp
	}
	if resp := validateRequired(h, req); resp != nil {
		return resp
	}
	return nil
}

// validateMethod rejects with 405 when req's method isn't in h.Allow().
func validateMethod(h UasHandler, req *sip.Request) *sip.Response {
	allow := h.Allow()
	for _, m := range allow {
		if req.Method.Equal(m) {
			return nil
		}
	}
	resp := req.NewResponse(sip.StatusMethodNotAllowed, "")
	resp.Headers.Append(allowHeader(allow))
	return resp
}

// validateLoop rejects with 482 when h opts into loop detection and the
// registry reports req as a looped request (SPEC_FULL §8.2.2.2).
func validateLoop(h UasHandler, req *sip.Request, tx *transaction.Registry) *sip.Response {
	if !h.DetectLoops() || tx == nil {
		return nil
	}
	if !tx.IsLoop(req) {
		return nil
	}
	return req.NewResponse(sip.StatusLoopDetected, "")
}

// validateRequired rejects with 420 when req's Require header lists a
// token absent from h.Supported(). Skipped for CANCEL, which never
// establishes extension requirements of its own, and naturally never runs
// for ACK because the transaction layer absorbs ACKs before they reach
// this pipeline.
func validateRequired(h UasHandler, req *sip.Request) *sip.Response {
	if req.Method.Equal(sip.CANCEL) {
		return nil
	}
	required := req.Headers.Get("Require")
	if len(required) == 0 {
		return nil
	}
	supported := make(map[string]struct{}, len(h.Supported()))
	for _, s := range h.Supported() {
		supported[s] = struct{}{}
	}

	var unsupported []string
	for _, hdr := range required {
		for _, tok := range splitTokenList(hdr.Render()) {
			if _, ok := supported[tok]; !ok {
				unsupported = append(unsupported, tok)
			}
		}
	}
	if len(unsupported) == 0 {
		return nil
	}
	resp := req.NewResponse(sip.StatusBadExtension, "")
	resp.Headers.Append(sip.GenericHeader{HeaderName: "Unsupported", Value: joinTokenList(unsupported)})
	return resp
}

// SendResponse implements SPEC_FULL §4.6 step 4: auto-populates Allow,
// Supported and Server when absent, copies Record-Route for
// dialog-establishing responses, appends a To-tag on final responses, and
// hands the result to tx.Respond.
func (d *Dispatcher) SendResponse(ctx context.Context, h UasHandler, req *sip.Request, tx transaction.ServerTransaction, resp *sip.Response) {
	populateDefaults(h, resp)
	if resp.Status.IsFinal() {
		if to, ok := resp.To(); ok && to.Tag() == "" {
			resp.Headers.Remove("To")
			resp.Headers.Append(to.WithTag(randutil.GenerateTag()))
		}
	}
	if sip.IsDialogEstablishing(req, resp) {
		copyRecordRoute(req, resp)
	}
	if err := tx.Respond(ctx, resp); err != nil {
		d.Log.LogAttrs(ctx, slog.LevelWarn, "send response failed", slog.Any("error", err), slog.Any("response", resp))
	}
}

func populateDefaults(h UasHandler, resp *sip.Response) {
	if _, ok := resp.Headers.First("Allow"); !ok {
		if allow := h.Allow(); len(allow) > 0 {
			resp.Headers.Append(allowHeader(allow))
		}
	}
	if _, ok := resp.Headers.First("Supported"); !ok {
		if supported := h.Supported(); len(supported) > 0 {
			resp.Headers.Append(sip.GenericHeader{HeaderName: "Supported", Value: joinTokenList(supported)})
		}
	}
	if _, ok := resp.Headers.First("Server"); !ok {
		if server := h.Server(); server != "" {
			resp.Headers.Append(sip.GenericHeader{HeaderName: "Server", Value: server})
		}
	}
}

// copyRecordRoute copies every Record-Route header from req to resp,
// preserving order, per SPEC_FULL §4.6 step 4.
func copyRecordRoute(req *sip.Request, resp *sip.Response) {
	for _, hdr := range req.Headers.Get("Record-Route") {
		resp.Headers.Append(hdr.Clone())
	}
}

func allowHeader(methods []sip.Method) sip.Header {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return sip.GenericHeader{HeaderName: "Allow", Value: joinTokenList(names)}
}
