package limits

import (
	"sync"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
)

// Limit bounds a customer's usage of one transaction type. Amounts are in
// minor currency units; a zero field is unlimited.
type Limit struct {
	// PerTransaction caps a single transaction's amount.
	PerTransaction int64 `json:"perTransaction" yaml:"perTransaction"`
	// Daily caps the summed amount within one calendar day.
	Daily int64 `json:"daily" yaml:"daily"`
	// Monthly caps the summed amount within one calendar month.
	Monthly int64 `json:"monthly" yaml:"monthly"`
	// DailyCount caps the number of transactions within one calendar day.
	DailyCount int `json:"dailyCount" yaml:"dailyCount"`
}

// DefaultLimits are applied when no per-customer override exists.
func DefaultLimits() map[pf.TransactionType]Limit {
	return map[pf.TransactionType]Limit{
		pf.TypeWithdrawal: {
			PerTransaction: 5_000_00,
			Daily:          20_000_00,
			Monthly:        200_000_00,
			DailyCount:     10,
		},
		pf.TypeTransfer: {
			PerTransaction: 50_000_00,
			Daily:          100_000_00,
			Monthly:        1_000_000_00,
		},
		pf.TypeBillPayment: {
			PerTransaction: 25_000_00,
			Daily:          50_000_00,
		},
	}
}

// usage accumulates a customer's spend for one transaction type, windowed
// by calendar day and month. Windows reset lazily on rollover.
type usage struct {
	day         string // "2006-01-02"
	dayAmount   int64
	dayCount    int
	month       string // "2006-01"
	monthAmount int64
}

func (u *usage) roll(now time.Time) {
	if d := now.Format("2006-01-02"); d != u.day {
		u.day, u.dayAmount, u.dayCount = d, 0, 0
	}
	if m := now.Format("2006-01"); m != u.month {
		u.month, u.monthAmount = m, 0
	}
}

type usageKey struct {
	customer string
	typ      pf.TransactionType
}

// record remembers an applied usage for idempotence and reversal.
type record struct {
	key    usageKey
	amount int64
	at     time.Time
}

// Manager enforces per-customer transaction limits. Checks and recordings
// are separate steps: the pipeline checks during VALIDATION and records
// during AUDIT, only for approvals.
type Manager struct {
	mu        sync.Mutex
	defaults  map[pf.TransactionType]Limit
	overrides map[string]map[pf.TransactionType]Limit
	usages    map[usageKey]*usage
	records   map[string]record

	// now is swapped by tests exercising window rollover.
	now func() time.Time
}

// NewManager returns a Manager with |defaults|, or DefaultLimits when nil.
func NewManager(defaults map[pf.TransactionType]Limit) *Manager {
	if defaults == nil {
		defaults = DefaultLimits()
	}
	return &Manager{
		defaults:  defaults,
		overrides: make(map[string]map[pf.TransactionType]Limit),
		usages:    make(map[usageKey]*usage),
		records:   make(map[string]record),
		now:       time.Now,
	}
}

// SetCustomerLimit overrides the limit of one customer and type.
func (m *Manager) SetCustomerLimit(customerID string, typ pf.TransactionType, l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides[customerID] == nil {
		m.overrides[customerID] = make(map[pf.TransactionType]Limit)
	}
	m.overrides[customerID][typ] = l
}

// LimitFor returns the effective limit of |customerID| and |typ|.
func (m *Manager) LimitFor(customerID string, typ pf.TransactionType) Limit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitLocked(customerID, typ)
}

func (m *Manager) limitLocked(customerID string, typ pf.TransactionType) Limit {
	if per, ok := m.overrides[customerID]; ok {
		if l, ok := per[typ]; ok {
			return l
		}
	}
	return m.defaults[typ]
}

// CheckLimits verifies the request against the customer's effective limit,
// returning a decline naming the breached limit. Balance inquiries and
// reversals are never limited.
func (m *Manager) CheckLimits(req *pf.TransactionRequest) error {
	switch req.Type {
	case pf.TypeBalanceInquiry, pf.TypeReversal:
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var l = m.limitLocked(req.CustomerID, req.Type)
	var u = m.usageLocked(usageKey{req.CustomerID, req.Type})

	var breach *pf.TransactionError
	switch {
	case l.PerTransaction > 0 && req.Amount > l.PerTransaction:
		breach = pf.NewTransactionError(pf.CodeExceedsWithdrawal,
			"PER_TXN_LIMIT_EXCEEDED", "amount %d exceeds %d", req.Amount, l.PerTransaction)
	case l.Daily > 0 && u.dayAmount+req.Amount > l.Daily:
		breach = pf.NewTransactionError(pf.CodeExceedsWithdrawal,
			"DAILY_LIMIT_EXCEEDED", "amount %d with %d used exceeds %d",
			req.Amount, u.dayAmount, l.Daily)
	case l.Monthly > 0 && u.monthAmount+req.Amount > l.Monthly:
		breach = pf.NewTransactionError(pf.CodeExceedsWithdrawal,
			"MONTHLY_LIMIT_EXCEEDED", "amount %d with %d used exceeds %d",
			req.Amount, u.monthAmount, l.Monthly)
	case l.DailyCount > 0 && u.dayCount+1 > l.DailyCount:
		breach = pf.NewTransactionError(pf.CodeExceedsFrequency,
			"DAILY_COUNT_EXCEEDED", "count %d reached", l.DailyCount)
	}

	if breach != nil {
		breachesCounter.WithLabelValues(string(req.Type), breach.Reason).Inc()
		log.WithFields(log.Fields{
			"txn":      req.ID,
			"customer": req.CustomerID,
			"reason":   breach.Reason,
		}).Info("limit breached")
		return breach
	}
	return nil
}

// RecordUsage applies the request's amount to the customer's windows. It is
// idempotent on the transaction ID, so audit retries do not double-count.
func (m *Manager) RecordUsage(req *pf.TransactionRequest) {
	switch req.Type {
	case pf.TypeBalanceInquiry, pf.TypeReversal:
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[req.ID]; ok {
		return
	}

	var key = usageKey{req.CustomerID, req.Type}
	var u = m.usageLocked(key)
	u.dayAmount += req.Amount
	u.dayCount++
	u.monthAmount += req.Amount
	m.records[req.ID] = record{key: key, amount: req.Amount, at: m.now()}
}

// RecordReversal undoes the recorded usage of |originalID|, restoring the
// customer's headroom. It returns false when no usage was recorded, and is
// idempotent: the record is consumed.
func (m *Manager) RecordReversal(originalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rec, ok = m.records[originalID]
	if !ok {
		return false
	}
	delete(m.records, originalID)

	var u = m.usageLocked(rec.key)
	// Only unwind windows the original usage still counts against.
	var now = m.now()
	if rec.at.Format("2006-01-02") == now.Format("2006-01-02") {
		u.dayAmount -= rec.amount
		if u.dayCount > 0 {
			u.dayCount--
		}
	}
	if rec.at.Format("2006-01") == now.Format("2006-01") {
		u.monthAmount -= rec.amount
	}
	reversalsCounter.Inc()
	return true
}

// Usage returns the customer's current windowed usage for |typ|.
func (m *Manager) Usage(customerID string, typ pf.TransactionType) (dayAmount int64, dayCount int, monthAmount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u = m.usageLocked(usageKey{customerID, typ})
	return u.dayAmount, u.dayCount, u.monthAmount
}

func (m *Manager) usageLocked(key usageKey) *usage {
	var u, ok = m.usages[key]
	if !ok {
		u = new(usage)
		m.usages[key] = u
	}
	u.roll(m.now())
	return u
}
