// Package resumption implements the CASE session-resumption store: a
// bounded cache of past sessions' shared secrets and fabric bindings, keyed
// by resumption ID, that a responder consults when a Sigma1 arrives with
// resumption fields set.
//
// The store itself carries no eviction policy beyond the caller-driven
// EvictOldest - key-lifetime and session-eviction policy are explicitly out
// of scope (see the package's CASE spec Non-goals); this package only
// provides the get/put/evict-oldest primitives those policies are built on.
package resumption

import (
	"container/list"
	"sync"

	"github.com/fabricgate/case/pkg/crypto"
	"github.com/fabricgate/case/pkg/fabric"
)

// ResumptionIDSize matches casesession.ResumptionIDSize; duplicated here to
// avoid resumption depending on casesession (casesession does not import
// this package either: a responder reaches a Store through the lookup
// function passed to Session.WithResumptionLookup).
const ResumptionIDSize = 16

// Entry is one resumable session's cached state.
type Entry struct {
	ResumptionID   [ResumptionIDSize]byte
	SharedSecret   []byte
	Fabric         *fabric.FabricInfo
	OperationalKey *crypto.P256KeyPair
	PeerNodeID     uint64
}

// Store is an in-memory, fixed-capacity resumption cache ordered by
// insertion recency. Get does not refresh an entry's position - unlike an
// LRU cache, recency here tracks session-establishment order, not
// last-access order, matching how resumption entries are actually produced
// (once per successful handshake) and consumed (at most a few times before
// the peer re-handshakes).
type Store struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest, back = newest
	entries  map[[ResumptionIDSize]byte]*list.Element
}

// NewStore creates a resumption store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[[ResumptionIDSize]byte]*list.Element),
	}
}

// Put inserts or replaces the entry for entry.ResumptionID. If the store is
// at capacity and the ID is new, the oldest entry is evicted first.
func (s *Store) Put(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[entry.ResumptionID]; ok {
		s.order.MoveToBack(elem)
		elem.Value = entry
		return
	}

	if s.order.Len() >= s.capacity {
		s.evictOldestLocked()
	}

	elem := s.order.PushBack(entry)
	s.entries[entry.ResumptionID] = elem
}

// Get returns the entry for resumptionID, if present. Get does not remove
// the entry: a resumption attempt may legitimately retry (e.g. after a
// Resume1MIC verification failure falls back to full handshake, the
// original resumption entry is still valid for a later attempt).
func (s *Store) Get(resumptionID [ResumptionIDSize]byte) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[resumptionID]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Entry), true
}

// Delete removes the entry for resumptionID, if present. casesession never
// calls it: an entry consumed by a successful resumption stays in the store
// until its owner deletes or evicts it.
func (s *Store) Delete(resumptionID [ResumptionIDSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[resumptionID]
	if !ok {
		return
	}
	s.order.Remove(elem)
	delete(s.entries, resumptionID)
}

// EvictOldest removes the single oldest entry in the store, if any. Exposed
// so a caller's own eviction policy (size pressure, periodic sweep) can
// drive eviction without reaching into the store's internals.
func (s *Store) EvictOldest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictOldestLocked()
}

func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*Entry)
	s.order.Remove(front)
	delete(s.entries, entry.ResumptionID)
}

// Len returns the current number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
