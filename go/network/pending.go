package network

import (
	"sync"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
)

// result of a correlated exchange: the response message, or a terminal error.
type result struct {
	msg pf.Message
	err error
}

// pendingRequest is one in-flight correlated request. Its channel is buffered
// and written exactly once, by whichever of resolve / fail / expiry wins.
type pendingRequest struct {
	key      string
	sentAt   time.Time
	deadline time.Time
	ch       chan result
}

// lapsedRetention bounds how long an abandoned correlation key is remembered,
// so a response arriving after its requester gave up can be told apart from
// peer-initiated traffic.
const lapsedRetention = time.Minute

// pendingMap tracks in-flight requests by correlation key. Insertion is
// compare-and-set: a second request with a live key is rejected rather than
// overwritten. Removal happens under the same lock as channel send, so a sink
// is resolved at most once and late responses find no entry.
type pendingMap struct {
	mu     sync.Mutex
	m      map[string]*pendingRequest
	lapsed map[string]time.Time
}

func newPendingMap() *pendingMap {
	return &pendingMap{
		m:      make(map[string]*pendingRequest),
		lapsed: make(map[string]time.Time),
	}
}

// add registers a request, or returns nil if |key| is already in flight.
func (p *pendingMap) add(key string, timeout time.Duration) *pendingRequest {
	var now = time.Now()
	var pr = &pendingRequest{
		key:      key,
		sentAt:   now,
		deadline: now.Add(timeout),
		ch:       make(chan result, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.m[key]; ok {
		return nil
	}
	p.m[key] = pr
	return pr
}

// resolve delivers |msg| to the request of |key|,
// returning false if no such request is in flight.
func (p *pendingMap) resolve(key string, msg pf.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pr, ok = p.m[key]
	if !ok {
		return false
	}
	delete(p.m, key)
	pr.ch <- result{msg: msg}
	return true
}

// fail delivers |err| to the request of |key|.
func (p *pendingMap) fail(key string, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pr, ok = p.m[key]
	if !ok {
		return false
	}
	delete(p.m, key)
	pr.ch <- result{err: err}
	return true
}

// remove drops the request of |key| without delivering a result, leaving a
// tombstone for late-response accounting. Used by the requester itself upon
// timeout or cancellation.
func (p *pendingMap) remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.m[key]; ok {
		delete(p.m, key)
		p.lapsed[key] = time.Now()
		p.pruneLapsedLocked()
	}
}

// wasLapsed reports whether |key| was recently abandoned by its requester,
// consuming the tombstone.
func (p *pendingMap) wasLapsed(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLapsedLocked()
	var _, ok = p.lapsed[key]
	delete(p.lapsed, key)
	return ok
}

// pruneLapsedLocked drops tombstones older than lapsedRetention.
// p.mu must be held.
func (p *pendingMap) pruneLapsedLocked() {
	var cutoff = time.Now().Add(-lapsedRetention)
	for key, at := range p.lapsed {
		if at.Before(cutoff) {
			delete(p.lapsed, key)
		}
	}
}

// failAll drains the map, delivering |err| to every in-flight request.
func (p *pendingMap) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pr := range p.m {
		delete(p.m, key)
		pr.ch <- result{err: err}
	}
}

func (p *pendingMap) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
