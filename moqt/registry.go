package moqt

import (
	"context"
	"sync"
)

// AnnounceState is the state of a namespace in a registry.
type AnnounceState uint8

const (
	Unannounced AnnounceState = iota
	Announced
	Withdrawn

	// pending awaits the peer's ANNOUNCE_OK. It counts as announced for
	// duplicate checks only.
	announcePending
)

func (s AnnounceState) String() string {
	switch s {
	case Unannounced:
		return "unannounced"
	case Announced:
		return "announced"
	case Withdrawn:
		return "withdrawn"
	case announcePending:
		return "pending"
	default:
		return "unknown"
	}
}

type namespaceEntry struct {
	namespace TrackNamespace
	state     AnnounceState
	requestID uint64
}

func newNamespaceRegistry() *namespaceRegistry {
	return &namespaceRegistry{
		entries: make(map[string]*namespaceEntry),
		changed: make(chan struct{}),
	}
}

// namespaceRegistry tracks the announcement state of namespaces on one side of a session.
// Tracks match a namespace by tuple prefix.
type namespaceRegistry struct {
	mu      sync.Mutex
	entries map[string]*namespaceEntry
	changed chan struct{}
}

func (r *namespaceRegistry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// announce registers ns. A pending entry becomes Announced on confirm.
func (r *namespaceRegistry) announce(ns TrackNamespace, requestID uint64, pending bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := namespaceKey(ns)
	if e, ok := r.entries[key]; ok && (e.state == Announced || e.state == announcePending) {
		return ErrDuplicateAnnouncement
	}
	state := Announced
	if pending {
		state = announcePending
	}
	r.entries[key] = &namespaceEntry{namespace: ns, state: state, requestID: requestID}
	r.notify()
	return nil
}

// confirm moves the pending announcement of requestID to Announced.
func (r *namespaceRegistry) confirm(requestID uint64) (TrackNamespace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.state == announcePending && e.requestID == requestID {
			e.state = Announced
			r.notify()
			return e.namespace, true
		}
	}
	return nil, false
}

// reject drops the pending announcement of requestID.
func (r *namespaceRegistry) reject(requestID uint64) (TrackNamespace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if e.state == announcePending && e.requestID == requestID {
			delete(r.entries, key)
			r.notify()
			return e.namespace, true
		}
	}
	return nil, false
}

// withdraw moves an announced or pending ns to Withdrawn.
func (r *namespaceRegistry) withdraw(ns TrackNamespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[namespaceKey(ns)]
	if !ok || (e.state != Announced && e.state != announcePending) {
		return ErrNotAnnounced
	}
	e.state = Withdrawn
	r.notify()
	return nil
}

func (r *namespaceRegistry) state(ns TrackNamespace) AnnounceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[namespaceKey(ns)]; ok {
		return e.state
	}
	return Unannounced
}

// covers reports whether an announced namespace is a prefix of ns.
func (r *namespaceRegistry) covers(ns TrackNamespace) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coversLocked(ns)
}

func (r *namespaceRegistry) coversLocked(ns TrackNamespace) bool {
	for _, e := range r.entries {
		if e.state == Announced && ns.HasPrefix(e.namespace) {
			return true
		}
	}
	return false
}

// matching returns the announced namespaces under prefix.
func (r *namespaceRegistry) matching(prefix TrackNamespace) []TrackNamespace {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TrackNamespace
	for _, e := range r.entries {
		if e.state == Announced && e.namespace.HasPrefix(prefix) {
			out = append(out, e.namespace)
		}
	}
	return out
}

// wait blocks until an announced namespace is under prefix or covers it,
// and returns that namespace.
func (r *namespaceRegistry) wait(ctx context.Context, prefix TrackNamespace) (TrackNamespace, error) {
	for {
		r.mu.Lock()
		for _, e := range r.entries {
			if e.state == Announced && (e.namespace.HasPrefix(prefix) || prefix.HasPrefix(e.namespace)) {
				r.mu.Unlock()
				return e.namespace, nil
			}
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}
