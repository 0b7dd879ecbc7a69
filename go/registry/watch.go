package registry

import (
	"time"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// DefaultPollInterval between modification checks of a watched Source.
const DefaultPollInterval = 5 * time.Second

// QueueWatch queues a task which polls |source|'s modification indicator at
// |interval| (DefaultPollInterval if zero), re-invoking Load on each change.
// A failed reload is logged and the previous state is retained; the watch
// continues.
func (r *Registry) QueueWatch(tasks *task.Group, source Source, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var last, err = source.ModTime()
	if err != nil {
		log.WithField("err", err).Warn("failed to stat configuration source; watching anyway")
	}

	tasks.Queue("registry.watch", func() error {
		var ticker = time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				var next, err = source.ModTime()
				if err != nil {
					log.WithField("err", err).Warn("failed to stat configuration source")
					continue
				}
				if !next.After(last) {
					continue
				}
				last = next

				if err = r.Load(source); err != nil {
					log.WithField("err", err).Error("failed to hot-reload configuration")
					configReloadErrors.Inc()
				} else {
					log.WithField("modTime", next).Info("hot-reloaded configuration")
				}

			case <-tasks.Context().Done():
				return nil
			}
		}
	})
}
