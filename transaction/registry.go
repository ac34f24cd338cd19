package transaction

import "github.com/sipstack/transact/sip"

// Registry is the C3 transaction registry: the client and server
// transaction tables plus the loop-detection index, composed behind the
// single set of operations SPEC_FULL §4.3 names.
type Registry struct {
	Clients *ClientStore
	Servers *ServerStore
	Loops   *LoopIndex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{Clients: NewClientStore(), Servers: NewServerStore(), Loops: NewLoopIndex()}
}

// RegisterServer registers tx under key, also inserting it into the loop
// index for req. Returns ErrDuplicate if key is already taken.
func (r *Registry) RegisterServer(key ServerTransactionKey, req *sip.Request, tx ServerTransaction) error {
	if err := r.Servers.Register(key, tx); err != nil {
		return err
	}
	r.Loops.Insert(req, key)
	return nil
}

// UnregisterServer removes key from both the server store and the loop
// index.
func (r *Registry) UnregisterServer(key ServerTransactionKey, req *sip.Request) {
	r.Servers.Unregister(key)
	r.Loops.Remove(req, key)
}

// IsLoop reports whether req is a looped request per SPEC_FULL §4.3/§8.2.2.2.
func (r *Registry) IsLoop(req *sip.Request) bool { return r.Loops.IsLoop(req) }
