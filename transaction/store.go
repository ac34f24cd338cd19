package transaction

import (
	"sync"

	"github.com/sipstack/transact/sip"
)

// Error is this package's sentinel error type.
type Error string

func (e Error) Error() string { return string(e) }

// Registry errors (SPEC_FULL §4.3, §7).
const (
	ErrDuplicate       Error = "transaction: duplicate key"
	ErrTransactionNotFound Error = "transaction: not found"
)

// Store is a generic, mutex-guarded registry mapping K to V, used for both
// the client and the server transaction tables. It is the one place in this
// module where mutable state is shared across goroutines (SPEC_FULL §5).
type Store[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewStore returns an empty Store.
func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{m: make(map[K]V)}
}

// Register inserts handle under key, failing with ErrDuplicate if key is
// already registered. Insertion is atomic with respect to concurrent
// Register/Lookup/Unregister calls.
func (s *Store[K, V]) Register(key K, handle V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return ErrDuplicate
	}
	s.m[key] = handle
	return nil
}

// Lookup returns the handle registered under key, if any.
func (s *Store[K, V]) Lookup(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Unregister removes key, a no-op if it isn't present.
func (s *Store[K, V]) Unregister(key K) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// List returns a snapshot of every currently-registered key.
func (s *Store[K, V]) List() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

// ClientStore and ServerStore are the concrete registries C3 describes,
// keyed by each kind's transaction key and holding the owning FSM.
type ClientStore = Store[ClientTransactionKey, ClientTransaction]
type ServerStore = Store[ServerTransactionKey, ServerTransaction]

// NewClientStore returns an empty client transaction registry.
func NewClientStore() *ClientStore { return NewStore[ClientTransactionKey, ClientTransaction]() }

// NewServerStore returns an empty server transaction registry.
func NewServerStore() *ServerStore { return NewStore[ServerTransactionKey, ServerTransaction]() }

// loopIndexKey is (from-tag, call-id, cseq) — the bucket key for loop
// detection (SPEC_FULL §3, §4.4).
type loopIndexKey struct {
	fromTag string
	callID  string
	cseq    uint32
}

// LoopIndex is the multimap keyed by (from-tag, call-id, cseq) -> set of
// live server transaction keys, used to implement IsLoop.
type LoopIndex struct {
	mu      sync.Mutex
	buckets map[loopIndexKey]map[ServerTransactionKey]struct{}
}

// NewLoopIndex returns an empty LoopIndex.
func NewLoopIndex() *LoopIndex {
	return &LoopIndex{buckets: make(map[loopIndexKey]map[ServerTransactionKey]struct{})}
}

func loopKeyOf(req *sip.Request) (loopIndexKey, bool) {
	from, ok := req.From()
	if !ok {
		return loopIndexKey{}, false
	}
	callID, ok := req.CallID()
	if !ok {
		return loopIndexKey{}, false
	}
	cseq, ok := req.CSeq()
	if !ok {
		return loopIndexKey{}, false
	}
	return loopIndexKey{fromTag: from.Tag(), callID: string(callID), cseq: cseq.Seq}, true
}

// Insert records that key is a live transaction for req's (from-tag,
// call-id, cseq) bucket.
func (idx *LoopIndex) Insert(req *sip.Request, key ServerTransactionKey) {
	lk, ok := loopKeyOf(req)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.buckets[lk]
	if !ok {
		bucket = make(map[ServerTransactionKey]struct{})
		idx.buckets[lk] = bucket
	}
	bucket[key] = struct{}{}
}

// Remove drops key from req's bucket, pruning the bucket if it empties out.
func (idx *LoopIndex) Remove(req *sip.Request, key ServerTransactionKey) {
	lk, ok := loopKeyOf(req)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.buckets[lk]
	if !ok {
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(idx.buckets, lk)
	}
}

// IsLoop implements SPEC_FULL §4.3 / §8.2.2.2: true iff req's To-tag is
// absent and its (from-tag, call-id, cseq) bucket holds some entry other
// than req's own computed server key (i.e. some *other* transaction
// already claims this dialog-establishing request's identity). req's own
// key, if already registered, is ignored so that validating loops after
// the request's own transaction has been inserted into the index still
// works.
func (idx *LoopIndex) IsLoop(req *sip.Request) bool {
	if to, ok := req.To(); ok && to.Tag() != "" {
		return false
	}
	lk, ok := loopKeyOf(req)
	if !ok {
		return false
	}
	ownKey, err := ServerKeyFromRequest(req)
	if err != nil {
		return false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.buckets[lk]
	if !ok || len(bucket) == 0 {
		return false
	}
	for k := range bucket {
		if !k.Equal(ownKey) {
			return true
		}
	}
	return false
}
