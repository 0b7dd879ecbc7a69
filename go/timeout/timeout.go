// Package timeout tracks per-transaction deadlines on a single shared ticker.
// Each tracked transaction passes through ACTIVE and (optionally) WARNING
// before reaching exactly one terminal state, EXPIRED or COMPLETED.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// State of a tracked transaction.
type State int32

const (
	Active State = iota
	Warning
	Expired
	Completed
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Warning:
		return "WARNING"
	case Expired:
		return "EXPIRED"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

var (
	// ErrAlreadyTracked: StartTracking was called twice for one transaction.
	ErrAlreadyTracked = errors.New("transaction is already tracked")
	// ErrTimedOut: the tracked deadline elapsed before completion.
	ErrTimedOut = errors.New("transaction timed out")
)

// Default deadlines by transaction type. Inquiries are interactive and
// short; bill payments tolerate slow biller backends.
var defaultTimeouts = map[pf.TransactionType]time.Duration{
	pf.TypeBalanceInquiry: 5 * time.Second,
	pf.TypeWithdrawal:     10 * time.Second,
	pf.TypeTransfer:       15 * time.Second,
	pf.TypeBillPayment:    30 * time.Second,
	pf.TypeReversal:       10 * time.Second,
}

// fallbackTimeout covers transaction types with no configured default.
const fallbackTimeout = 30 * time.Second

// warningFraction of the deadline at which OnWarning fires.
const warningFraction = 0.8

// Callbacks observe a tracked transaction's progress. They're invoked from
// the manager's scan loop and must not block.
type Callbacks struct {
	OnWarning func(*Tracker)
	OnTimeout func(*Tracker)
}

// Tracker is the tracking record of one transaction.
type Tracker struct {
	TransactionID string
	Type          pf.TransactionType
	StartedAt     time.Time
	WarnAt        time.Time
	Deadline      time.Time

	mu    sync.Mutex
	state State
	cb    Callbacks
}

// State returns the tracker's current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the time until the deadline, floored at zero.
func (t *Tracker) Remaining() time.Duration {
	if d := time.Until(t.Deadline); d > 0 {
		return d
	}
	return 0
}

// Config parameterizes a Manager.
type Config struct {
	// TickInterval of the shared scan loop. Defaults to one second.
	TickInterval time.Duration
	// Timeouts overrides the per-type defaults where set. Overrides must be
	// positive.
	Timeouts map[pf.TransactionType]time.Duration
}

// Validate returns an error if the Config is malformed.
func (cfg Config) Validate() error {
	for typ, d := range cfg.Timeouts {
		if d <= 0 {
			return fmt.Errorf("invalid timeout of %s (%s; expected > 0)", typ, d)
		}
	}
	return nil
}

// Manager tracks transaction deadlines. One scan loop serves all tracked
// transactions; per-transaction timers are never allocated.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	tracked  map[string]*Tracker
	shutdown bool
}

// NewManager returns a Manager with |cfg|, which must Validate. Scanning
// runs on the task queued by QueueTasks.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Manager{
		cfg:     cfg,
		tracked: make(map[string]*Tracker),
	}, nil
}

// TimeoutFor returns the configured deadline duration of |typ|.
func (m *Manager) TimeoutFor(typ pf.TransactionType) time.Duration {
	if d, ok := m.cfg.Timeouts[typ]; ok {
		return d
	}
	if d, ok := defaultTimeouts[typ]; ok {
		return d
	}
	return fallbackTimeout
}

// MaxTimeout returns the largest configured per-type deadline.
func (m *Manager) MaxTimeout() time.Duration {
	var max = fallbackTimeout
	for typ := range defaultTimeouts {
		if d := m.TimeoutFor(typ); d > max {
			max = d
		}
	}
	return max
}

// StartTracking begins tracking |txnID| with the given |timeout|, or the
// per-type default if zero. A transaction may be tracked at most once.
func (m *Manager) StartTracking(txnID string, typ pf.TransactionType, timeout time.Duration, cb Callbacks) (*Tracker, error) {
	if timeout <= 0 {
		timeout = m.TimeoutFor(typ)
	}
	var now = time.Now()
	var t = &Tracker{
		TransactionID: txnID,
		Type:          typ,
		StartedAt:     now,
		WarnAt:        now.Add(time.Duration(float64(timeout) * warningFraction)),
		Deadline:      now.Add(timeout),
		state:         Active,
		cb:            cb,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, errors.New("timeout manager is shut down")
	}
	if _, ok := m.tracked[txnID]; ok {
		return nil, fmt.Errorf("transaction %q: %w", txnID, ErrAlreadyTracked)
	}
	m.tracked[txnID] = t
	trackedGauge.Inc()
	return t, nil
}

// CompleteTracking marks |txnID| completed and stops tracking it. It returns
// false if the transaction is unknown or already expired: completion never
// rewrites a fired timeout.
func (m *Manager) CompleteTracking(txnID string) bool {
	m.mu.Lock()
	var t, ok = m.tracked[txnID]
	if ok {
		delete(m.tracked, txnID)
		trackedGauge.Dec()
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Expired || t.state == Completed {
		return false
	}
	t.state = Completed
	completionsCounter.WithLabelValues(string(t.Type)).Inc()
	return true
}

// Remaining returns the remaining time of |txnID|, zero if unknown.
func (m *Manager) Remaining(txnID string) time.Duration {
	m.mu.Lock()
	var t, ok = m.tracked[txnID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return t.Remaining()
}

// Get returns the tracker of |txnID|, or nil.
func (m *Manager) Get(txnID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked[txnID]
}

// ActiveCount returns the number of tracked transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// ExecuteWithTimeout runs |fn| under the tracked deadline of |txnID|,
// completing tracking when |fn| returns in time and reporting ErrTimedOut
// when the deadline fires first.
func (m *Manager) ExecuteWithTimeout(ctx context.Context, txnID string, typ pf.TransactionType, cb Callbacks, fn func(context.Context) error) error {
	var t, err = m.StartTracking(txnID, typ, 0, cb)
	if err != nil {
		return err
	}
	var execCtx, cancel = context.WithDeadline(ctx, t.Deadline)
	defer cancel()

	err = fn(execCtx)
	var deadlineHit = errors.Is(execCtx.Err(), context.DeadlineExceeded)

	if m.CompleteTracking(txnID) && !deadlineHit {
		return err
	}
	// The deadline fired (or is firing) before completion.
	if err == nil {
		err = context.DeadlineExceeded
	}
	return fmt.Errorf("transaction %q: %w (%v)", txnID, ErrTimedOut, err)
}

// QueueTasks queues the scan loop, which fires warning and expiration
// callbacks from a single shared ticker.
func (m *Manager) QueueTasks(tasks *task.Group) {
	tasks.Queue("timeout.scan", func() error {
		var ticker = time.NewTicker(m.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				m.scan(now)
			case <-tasks.Context().Done():
				m.Shutdown()
				return nil
			}
		}
	})
}

// scan advances tracked transactions past their warning and deadline marks.
// Callbacks run outside the manager lock.
func (m *Manager) scan(now time.Time) {
	var warned, expired []*Tracker

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	for id, t := range m.tracked {
		t.mu.Lock()
		switch {
		case !now.Before(t.Deadline) && (t.state == Active || t.state == Warning):
			t.state = Expired
			expired = append(expired, t)
			delete(m.tracked, id)
			trackedGauge.Dec()
		case !now.Before(t.WarnAt) && t.state == Active:
			t.state = Warning
			warned = append(warned, t)
		}
		t.mu.Unlock()
	}
	m.mu.Unlock()

	for _, t := range warned {
		warningsCounter.WithLabelValues(string(t.Type)).Inc()
		if t.cb.OnWarning != nil {
			t.cb.OnWarning(t)
		}
	}
	for _, t := range expired {
		expirationsCounter.WithLabelValues(string(t.Type)).Inc()
		log.WithFields(log.Fields{
			"txn":  t.TransactionID,
			"type": t.Type,
		}).Warn("transaction timed out")
		if t.cb.OnTimeout != nil {
			t.cb.OnTimeout(t)
		}
	}
}

// Shutdown drops all tracked transactions without firing callbacks.
// It is idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	m.shutdown = true
	for id := range m.tracked {
		delete(m.tracked, id)
		trackedGauge.Dec()
	}
}
