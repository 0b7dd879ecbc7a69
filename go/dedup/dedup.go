// Package dedup rejects re-transmitted transactions. Requests are remembered
// by fingerprint (RRN, STAN, and terminal) for a bounded retention window,
// long enough that a retry of any timed-out transaction still matches.
package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
)

// RetentionFor derives the retention window from the largest transaction
// deadline: four times the deadline covers client-side retry schedules.
func RetentionFor(maxTimeout time.Duration) time.Duration {
	return 4 * maxTimeout
}

// Detector remembers recently seen transaction fingerprints.
type Detector struct {
	cache *expirable.LRU[string, time.Time]
}

// New returns a Detector which retains fingerprints for |retention|.
// A zero |capacity| means the detector is bounded by retention alone.
func New(retention time.Duration, capacity int) *Detector {
	return &Detector{
		cache: expirable.NewLRU[string, time.Time](capacity, nil, retention),
	}
}

// Check registers the request's fingerprint and returns a duplicate
// transmission error if it was already present within the retention window.
// The original receipt time is kept, so a storm of retries does not extend
// the window.
func (d *Detector) Check(req pf.TransactionRequest) error {
	var fp = req.Fingerprint()
	if seenAt, ok := d.cache.Get(fp); ok {
		duplicatesCounter.Inc()
		log.WithFields(log.Fields{
			"txn":    req.ID,
			"rrn":    req.RRN,
			"stan":   req.STAN,
			"seenAt": seenAt,
		}).Warn("duplicate transmission detected")
		return pf.NewTransactionError(pf.CodeDuplicateTransmission,
			"DUPLICATE_TRANSMISSION", "fingerprint %s first seen at %s",
			fp, seenAt.Format(time.RFC3339))
	}
	d.cache.Add(fp, time.Now())
	return nil
}

// Seen reports whether the fingerprint is currently retained, without
// registering anything.
func (d *Detector) Seen(fingerprint string) bool {
	var _, ok = d.cache.Get(fingerprint)
	return ok
}

// Forget drops one fingerprint, letting an operator replay a transaction.
func (d *Detector) Forget(fingerprint string) bool {
	return d.cache.Remove(fingerprint)
}

// Size returns the number of retained fingerprints.
func (d *Detector) Size() int { return d.cache.Len() }

// Clear drops all retained fingerprints.
func (d *Detector) Clear() { d.cache.Purge() }
