// Package audit is the pipeline's final stage: every completed transaction
// is persisted, approved usage is charged against customer limits, and the
// record is optionally published to a Kafka topic for downstream consumers.
package audit

import (
	"fmt"

	"github.com/paynet/fep/go/limits"
	"github.com/paynet/fep/go/pipeline"
	"github.com/paynet/fep/go/store"
	log "github.com/sirupsen/logrus"
)

// Publisher emits completed transaction records to an external stream.
type Publisher interface {
	Publish(pc *pipeline.Context, rec *store.Record) error
	Close() error
}

// Handler persists the outcome of every run. Failures here are logged by
// the pipeline and never alter the response already produced.
func Handler(repo store.Repository, lm *limits.Manager, pub Publisher) pipeline.Handler {
	return pipeline.HandlerFunc{ID: "audit.record", Fn: func(pc *pipeline.Context) error {
		var rec = store.FromOutcome(pc.Request, pc.Response)

		if err := repo.Save(pc.Ctx(), rec); err != nil {
			return fmt.Errorf("persisting audit record: %w", err)
		}
		recordsCounter.WithLabelValues(string(rec.Status)).Inc()

		if pc.Response.Approved && lm != nil {
			lm.RecordUsage(pc.Request)
		}

		if pub != nil {
			if err := pub.Publish(pc, rec); err != nil {
				// Publication is best-effort; the repository holds the truth.
				publishErrors.Inc()
				log.WithFields(log.Fields{
					"txn": rec.ID,
					"err": err,
				}).Warn("failed to publish audit record")
			}
		}

		log.WithFields(log.Fields{
			"txn":    rec.ID,
			"type":   rec.Type,
			"status": rec.Status,
			"code":   rec.Code,
			"tookMs": rec.ProcessingTimeMs,
		}).Info("transaction audited")
		return nil
	}}
}
