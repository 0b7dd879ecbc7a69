// Package runtime assembles the gateway: registry, connection manager,
// transaction pipeline, deadline tracking, and the schedule sweep, wired
// behind one inbound handler shared by every server-mode channel.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/paynet/fep/go/audit"
	"github.com/paynet/fep/go/dedup"
	"github.com/paynet/fep/go/limits"
	"github.com/paynet/fep/go/manager"
	"github.com/paynet/fep/go/pipeline"
	"github.com/paynet/fep/go/process"
	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/registry"
	"github.com/paynet/fep/go/sched"
	"github.com/paynet/fep/go/store"
	"github.com/paynet/fep/go/timeout"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// Config parameterizes a Gateway.
type Config struct {
	// SQLitePath of the transaction database. Empty selects in-memory
	// repositories (tests, ephemeral gateways).
	SQLitePath string
	// KafkaBrokers and KafkaTopic of the optional audit stream.
	KafkaBrokers []string
	KafkaTopic   string
	// ConfigSource of the channel registry, watched for changes.
	ConfigSource registry.Source
	// ConfigPoll interval; zero selects the registry default.
	ConfigPoll time.Duration
	// Strict rejects configuration documents with any invalid entry.
	Strict bool
	// SweepInterval of the scheduled-transfer sweep; zero selects hourly.
	SweepInterval time.Duration
	// TimeoutTick of the deadline scan loop; zero selects one second.
	TimeoutTick time.Duration
	// DedupRetention of transaction fingerprints; zero selects four times
	// the largest per-type timeout.
	DedupRetention time.Duration
	// Accounts seed the ledger, keyed by account number in minor units.
	Accounts map[string]int64
}

// Gateway is the assembled financial exchange processor.
type Gateway struct {
	Registry  *registry.Registry
	Manager   *manager.Manager
	Pipeline  *pipeline.Pipeline
	Timeouts  *timeout.Manager
	Dedup     *dedup.Detector
	Limits    *limits.Manager
	Ledger    *process.MemoryLedger
	Repo      store.Repository
	Scheduler *sched.Scheduler

	cfg        Config
	schedStore sched.Store
	publisher  audit.Publisher
}

// NewGateway assembles a Gateway from |cfg|. The instance is inert until
// QueueTasks is invoked.
func NewGateway(cfg Config) (*Gateway, error) {
	var g = &Gateway{cfg: cfg}

	g.Registry = registry.New()
	g.Registry.Strict = cfg.Strict

	var err error
	if g.Timeouts, err = timeout.NewManager(timeout.Config{TickInterval: cfg.TimeoutTick}); err != nil {
		return nil, fmt.Errorf("configuring timeouts: %w", err)
	}
	g.Limits = limits.NewManager(nil)
	var retention = cfg.DedupRetention
	if retention <= 0 {
		retention = dedup.RetentionFor(g.Timeouts.MaxTimeout())
	}
	g.Dedup = dedup.New(retention, 0)
	if cfg.SQLitePath != "" {
		if g.Repo, err = store.NewSQLite(cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("opening transaction store: %w", err)
		}
		if g.schedStore, err = sched.NewSQLiteStore(cfg.SQLitePath + ".sched"); err != nil {
			return nil, fmt.Errorf("opening schedule store: %w", err)
		}
	} else {
		g.Repo = store.NewMemory()
		g.schedStore = sched.NewMemoryStore()
	}

	g.Ledger = process.NewMemoryLedger()
	for account, balance := range cfg.Accounts {
		g.Ledger.Open(account, balance)
	}

	var procs *process.Registry
	if procs, err = process.NewRegistry(
		process.NewBalanceProcessor(g.Ledger),
		process.NewWithdrawalProcessor(g.Ledger),
		process.NewTransferProcessor(g.Ledger),
		process.NewBillPaymentProcessor(g.Ledger),
		process.NewReversalProcessor(g.Repo, g.Ledger, g.Limits),
	); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) != 0 {
		g.publisher = audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	g.Pipeline = pipeline.New().
		Register(pipeline.StageDuplicateCheck, pipeline.HandlerFunc{
			ID: "dedup.check",
			Fn: func(pc *pipeline.Context) error { return g.Dedup.Check(*pc.Request) },
		}).
		Register(pipeline.StageValidation, limits.CardValidator()).
		Register(pipeline.StageValidation, limits.AmountValidator()).
		Register(pipeline.StageValidation, limits.PINValidator()).
		Register(pipeline.StageValidation, limits.TerminalValidator(func(channel string) string {
			if c := g.Registry.GetChannel(channel); c != nil {
				return string(c.Type)
			}
			return ""
		})).
		Register(pipeline.StageValidation, limits.Handler(g.Limits)).
		Register(pipeline.StageRouting, process.RoutingHandler(procs)).
		Register(pipeline.StageProcessing, process.ProcessingHandler()).
		Register(pipeline.StageAudit, audit.Handler(g.Repo, g.Limits, g.publisher))

	g.Scheduler = sched.NewScheduler(g.schedStore, g.Limits, g.Pipeline)

	g.Manager = manager.New(manager.Config{
		Registry: g.Registry,
		Codec:    pf.JSONCodec{},
		Handler:  g.HandleInbound,
	})

	if cfg.ConfigSource != nil {
		if err = g.Registry.Load(cfg.ConfigSource); err != nil {
			return nil, fmt.Errorf("loading channel configuration: %w", err)
		}
	}
	return g, nil
}

// HandleInbound is the server-mode message handler: it maps the message to
// a transaction, runs the pipeline under the type's deadline, and maps the
// outcome back onto the wire. Network management (0800) never reaches here;
// servers answer it directly.
func (g *Gateway) HandleInbound(ctx context.Context, channel string, msg pf.Message) (pf.Message, bool) {
	var req, err = requestOfMessage(channel, msg)
	if err != nil {
		var code = pf.CodeFormatError
		if te, ok := pf.AsTransactionError(err); ok {
			code = te.Code
		}
		log.WithFields(log.Fields{
			"channel": channel,
			"mti":     msg.MTI,
			"err":     err,
		}).Warn("unmappable inbound message")
		return declineMessage(msg, code), true
	}

	var resp *pf.TransactionResponse
	err = g.Timeouts.ExecuteWithTimeout(ctx, req.ID, req.Type, timeout.Callbacks{
		OnWarning: func(t *timeout.Tracker) {
			log.WithFields(log.Fields{
				"txn":       t.TransactionID,
				"remaining": t.Remaining(),
			}).Warn("transaction nearing its deadline")
		},
	}, func(execCtx context.Context) error {
		resp = g.Pipeline.Execute(execCtx, req)
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"txn": req.ID, "err": err}).Warn("transaction exceeded its deadline")
	}
	if resp == nil {
		return declineMessage(msg, pf.CodeResponseTooLate), true
	}
	return messageOfResponse(msg, resp), true
}

// QueueTasks queues the gateway's long-lived loops: connection
// reconciliation, deadline scanning, configuration watching, and the
// schedule sweep.
func (g *Gateway) QueueTasks(tasks *task.Group) {
	g.Manager.QueueTasks(tasks)
	g.Timeouts.QueueTasks(tasks)
	g.Scheduler.QueueSweep(tasks, g.cfg.SweepInterval)
	if g.cfg.ConfigSource != nil {
		var interval = g.cfg.ConfigPoll
		if interval <= 0 {
			interval = registry.DefaultPollInterval
		}
		g.Registry.QueueWatch(tasks, g.cfg.ConfigSource, interval)
	}
}

// Stop releases the gateway's resources after its tasks have drained.
func (g *Gateway) Stop() {
	g.Manager.Shutdown()
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			log.WithField("err", err).Warn("error closing audit publisher")
		}
	}
	if err := g.schedStore.Close(); err != nil {
		log.WithField("err", err).Warn("error closing schedule store")
	}
	if err := g.Repo.Close(); err != nil {
		log.WithField("err", err).Warn("error closing transaction store")
	}
}
