package moqt

import (
	"fmt"
	"sync"
)

// requestIDs allocates local request ids and validates the peer's.
// Client ids are even and server ids are odd. Ids advance by 2.
type requestIDs struct {
	mu sync.Mutex

	next      uint64 // next local id
	limit     uint64 // local ids must stay below the peer's grant
	blockedAt uint64 // limit+1 at which REQUESTS_BLOCKED was reported

	expected uint64 // next id the peer must use
	grant    uint64 // peer ids must stay below grant
	window   uint64
}

func newRequestIDs(p perspective, maxRequests uint64) *requestIDs {
	r := &requestIDs{window: 2 * maxRequests}
	if p == perspectiveClient {
		r.next, r.expected = 0, 1
	} else {
		r.next, r.expected = 1, 0
	}
	r.grant = r.expected + r.window
	return r
}

// initialGrant is sent as the MAX_REQUEST_ID setup parameter.
func (r *requestIDs) initialGrant() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grant
}

// allocate returns the next local id. When the peer's grant is exhausted it
// returns ErrTooManyRequests, and report is true once per grant.
func (r *requestIDs) allocate() (id uint64, report bool, limit uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= r.limit {
		report = r.blockedAt != r.limit+1
		r.blockedAt = r.limit + 1
		return 0, report, r.limit, ErrTooManyRequests
	}
	id = r.next
	r.next += 2
	return id, false, r.limit, nil
}

func (r *requestIDs) setLimit(limit uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = limit
}

// raiseLimit applies a MAX_REQUEST_ID from the peer.
func (r *requestIDs) raiseLimit(limit uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= r.limit {
		return violation("MAX_REQUEST_ID %d does not increase %d", limit, r.limit)
	}
	r.limit = limit
	return nil
}

// accept validates an id carried by a peer request.
func (r *requestIDs) accept(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != r.expected {
		return &protocolError{
			code: InvalidRequestIDErrorCode,
			err:  fmt.Errorf("%w: request id %d, expected %d", ErrProtocolViolation, id, r.expected),
		}
	}
	if id >= r.grant {
		return &protocolError{
			code: TooManyRequestsErrorCode,
			err:  fmt.Errorf("%w: request id %d exceeds grant %d", ErrTooManyRequests, id, r.grant),
		}
	}
	r.expected += 2
	return nil
}

// replenish raises the peer's grant once less than half the window remains.
func (r *requestIDs) replenish() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grant-r.expected >= r.window/2 {
		return 0, false
	}
	r.grant = r.expected + r.window
	return r.grant, true
}

// seen reports whether the peer already used id.
func (r *requestIDs) seen(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return id%2 == r.expected%2 && id < r.expected
}

// issued reports whether id was allocated locally.
func (r *requestIDs) issued(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return id%2 == r.next%2 && id < r.next
}
