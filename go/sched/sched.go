// Package sched manages scheduled transfers: standing instructions which a
// daily sweep turns into pipeline transactions. Recurrences advance by
// calendar arithmetic, so a monthly schedule created on the 31st lands on
// the last day of shorter months.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paynet/fep/go/limits"
	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// Frequency of a scheduled transfer.
type Frequency string

const (
	OneTime Frequency = "ONE_TIME"
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

func (f Frequency) valid() bool {
	switch f {
	case OneTime, Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Status of a scheduled transfer.
type Status string

const (
	Active    Status = "ACTIVE"
	Suspended Status = "SUSPENDED"
	Completed Status = "COMPLETED"
	Cancelled Status = "CANCELLED"
)

var (
	// ErrNotFound: no schedule exists under the ID.
	ErrNotFound = errors.New("scheduled transfer not found")
	// ErrNotOwner: the acting customer does not own the schedule.
	ErrNotOwner = errors.New("scheduled transfer belongs to another customer")
	// ErrBadState: the operation is not legal in the schedule's status.
	ErrBadState = errors.New("operation not permitted in current status")
)

// ScheduledTransfer is a standing transfer instruction. Amounts are in
// minor currency units; NextRun and EndDate are calendar dates at UTC
// midnight.
type ScheduledTransfer struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customerId"`
	SourceAccount string    `json:"sourceAccount"`
	DestAccount   string    `json:"destAccount"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	Frequency     Frequency `json:"frequency"`
	Status        Status    `json:"status"`
	NextRun       time.Time `json:"nextRun"`
	// EndDate bounds a recurring schedule; zero means unbounded.
	EndDate     time.Time `json:"endDate,omitempty"`
	Description string    `json:"description,omitempty"`
	// LastRunAt and LastCode record the most recent sweep execution.
	LastRunAt time.Time `json:"lastRunAt,omitempty"`
	LastCode  string    `json:"lastCode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DateOf truncates |t| to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	var y, m, d = t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateRequest are the inputs of Scheduler.Create.
type CreateRequest struct {
	CustomerID    string    `json:"customerId"`
	SourceAccount string    `json:"sourceAccount"`
	DestAccount   string    `json:"destAccount"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	Frequency     Frequency `json:"frequency"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate,omitempty"`
	Description   string    `json:"description,omitempty"`
}

// Scheduler validates, stores, and executes scheduled transfers.
type Scheduler struct {
	store    Store
	limits   *limits.Manager
	pipeline *pipeline.Pipeline

	// now is swapped by tests.
	now func() time.Time
}

// NewScheduler returns a Scheduler executing against |p|.
func NewScheduler(store Store, lm *limits.Manager, p *pipeline.Pipeline) *Scheduler {
	return &Scheduler{store: store, limits: lm, pipeline: p, now: time.Now}
}

// Create validates and stores a new ACTIVE schedule. The start date must
// fall between today and one year out, and the first occurrence must clear
// the customer's transfer limits.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*ScheduledTransfer, error) {
	var today = DateOf(s.now())
	var start = DateOf(req.StartDate)

	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive (%d)", req.Amount)
	}
	if req.SourceAccount == "" || req.DestAccount == "" {
		return nil, errors.New("source and destination accounts are required")
	}
	if req.SourceAccount == req.DestAccount {
		return nil, errors.New("source and destination accounts must differ")
	}
	if !req.Frequency.valid() {
		return nil, fmt.Errorf("invalid frequency %q", req.Frequency)
	}
	if start.Before(today) {
		return nil, fmt.Errorf("start date %s is in the past", start.Format("2006-01-02"))
	}
	if start.After(today.AddDate(1, 0, 0)) {
		return nil, fmt.Errorf("start date %s is more than one year out", start.Format("2006-01-02"))
	}
	if !req.EndDate.IsZero() && DateOf(req.EndDate).Before(start) {
		return nil, errors.New("end date precedes start date")
	}

	if s.limits != nil {
		if err := s.limits.CheckLimits(&pf.TransactionRequest{
			ID:         "sched-probe-" + uuid.NewString(),
			Type:       pf.TypeTransfer,
			Amount:     req.Amount,
			CustomerID: req.CustomerID,
		}); err != nil {
			return nil, fmt.Errorf("first occurrence would breach limits: %w", err)
		}
	}

	var now = s.now()
	var st = &ScheduledTransfer{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		SourceAccount: req.SourceAccount,
		DestAccount:   req.DestAccount,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Frequency:     req.Frequency,
		Status:        Active,
		NextRun:       start,
		Description:   req.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !req.EndDate.IsZero() {
		st.EndDate = DateOf(req.EndDate)
	}
	if err := s.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("storing schedule: %w", err)
	}
	schedulesCreated.Inc()
	return st, nil
}

// Get returns the schedule of |id|.
func (s *Scheduler) Get(ctx context.Context, id string) (*ScheduledTransfer, error) {
	return s.store.Get(ctx, id)
}

// ByCustomer returns the schedules of |customerID|, newest first.
func (s *Scheduler) ByCustomer(ctx context.Context, customerID string) ([]*ScheduledTransfer, error) {
	return s.store.ByCustomer(ctx, customerID)
}

// Suspend pauses an ACTIVE schedule. Only the owning customer may act.
func (s *Scheduler) Suspend(ctx context.Context, id, customerID string) error {
	return s.setStatus(ctx, id, customerID, Suspended, Active)
}

// Resume reactivates a SUSPENDED schedule.
func (s *Scheduler) Resume(ctx context.Context, id, customerID string) error {
	return s.setStatus(ctx, id, customerID, Active, Suspended)
}

// Cancel terminally cancels an ACTIVE or SUSPENDED schedule.
func (s *Scheduler) Cancel(ctx context.Context, id, customerID string) error {
	return s.setStatus(ctx, id, customerID, Cancelled, Active, Suspended)
}

func (s *Scheduler) setStatus(ctx context.Context, id, customerID string, to Status, from ...Status) error {
	var st, err = s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.CustomerID != customerID {
		return fmt.Errorf("schedule %s: %w", id, ErrNotOwner)
	}
	var legal bool
	for _, f := range from {
		legal = legal || st.Status == f
	}
	if !legal {
		return fmt.Errorf("schedule %s is %s: %w", id, st.Status, ErrBadState)
	}
	st.Status = to
	st.UpdatedAt = s.now()
	return s.store.Save(ctx, st)
}

// ExecuteDue runs every ACTIVE schedule due on or before |date| through the
// pipeline, then advances recurrences. It returns the number executed.
// Execution failures decline through the pipeline like any transaction and
// do not block other schedules.
func (s *Scheduler) ExecuteDue(ctx context.Context, date time.Time) (int, error) {
	date = DateOf(date)
	var due, err = s.store.Due(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("listing due schedules: %w", err)
	}

	var executed int
	for _, st := range due {
		var req = &pf.TransactionRequest{
			ID:            uuid.NewString(),
			Type:          pf.TypeTransfer,
			Amount:        st.Amount,
			Currency:      st.Currency,
			SourceAccount: st.SourceAccount,
			DestAccount:   st.DestAccount,
			CustomerID:    st.CustomerID,
			Channel:       "SCHEDULED",
			ReceivedAt:    s.now(),
		}
		var resp = s.pipeline.Execute(ctx, req)
		executed++
		executionsCounter.WithLabelValues(resp.Code).Inc()

		st.LastRunAt = s.now()
		st.LastCode = resp.Code
		s.advance(st, date)
		st.UpdatedAt = s.now()

		if err = s.store.Save(ctx, st); err != nil {
			log.WithFields(log.Fields{
				"schedule": st.ID,
				"err":      err,
			}).Error("failed to persist executed schedule")
		}
	}
	return executed, nil
}

// advance moves NextRun past |ranOn| per the frequency, completing
// schedules which are one-time or beyond their end date.
func (s *Scheduler) advance(st *ScheduledTransfer, ranOn time.Time) {
	if st.Frequency == OneTime {
		st.Status = Completed
		return
	}

	var next = st.NextRun
	for !next.After(ranOn) {
		switch st.Frequency {
		case Daily:
			next = next.AddDate(0, 0, 1)
		case Weekly:
			next = next.AddDate(0, 0, 7)
		case Monthly:
			next = next.AddDate(0, 1, 0)
		}
	}
	if !st.EndDate.IsZero() && next.After(st.EndDate) {
		st.Status = Completed
		return
	}
	st.NextRun = next
}

// QueueSweep queues a periodic sweep of due schedules. |interval| defaults
// to one hour; each pass executes everything due by the current date.
func (s *Scheduler) QueueSweep(tasks *task.Group, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	tasks.Queue("sched.sweep", func() error {
		var ticker = time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				var n, err = s.ExecuteDue(tasks.Context(), s.now())
				if err != nil {
					log.WithField("err", err).Error("scheduled transfer sweep failed")
				} else if n > 0 {
					log.WithField("executed", n).Info("scheduled transfer sweep completed")
				}
			case <-tasks.Context().Done():
				return nil
			}
		}
	})
}
