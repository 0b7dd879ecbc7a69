// Package pipeline runs transactions through a fixed sequence of stages:
// DUPLICATE_CHECK, VALIDATION, ROUTING, PROCESSING, and AUDIT. Handlers
// attach to stages and run in registration order. A handler may stop the
// run, which skips every later stage except AUDIT; AUDIT always runs, so
// declines and failures leave the same trail as approvals.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
)

// Stage of the pipeline.
type Stage string

const (
	StageDuplicateCheck Stage = "DUPLICATE_CHECK"
	StageValidation     Stage = "VALIDATION"
	StageRouting        Stage = "ROUTING"
	StageProcessing     Stage = "PROCESSING"
	StageAudit          Stage = "AUDIT"
)

// stageOrder is the fixed execution order.
var stageOrder = []Stage{
	StageDuplicateCheck,
	StageValidation,
	StageRouting,
	StageProcessing,
	StageAudit,
}

// Handler processes a transaction within one stage. Returning an error stops
// the run: a *fep.TransactionError becomes a clean decline with its code,
// any other error declines with system malfunction.
type Handler interface {
	// Name identifies the handler in logs and stage timings.
	Name() string
	// Handle processes the in-flight transaction.
	Handle(pc *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	ID string
	Fn func(pc *Context) error
}

func (h HandlerFunc) Name() string             { return h.ID }
func (h HandlerFunc) Handle(pc *Context) error { return h.Fn(pc) }

// Listener observes pipeline execution. Callbacks run synchronously on the
// executing goroutine and must not block.
type Listener interface {
	OnStart(pc *Context)
	OnStageEnter(pc *Context, stage Stage)
	OnStageExit(pc *Context, stage Stage, took time.Duration)
	OnError(pc *Context, stage Stage, err error)
	OnComplete(pc *Context)
}

// NoopListener implements Listener with no-ops, for embedding.
type NoopListener struct{}

func (NoopListener) OnStart(*Context)                           {}
func (NoopListener) OnStageEnter(*Context, Stage)               {}
func (NoopListener) OnStageExit(*Context, Stage, time.Duration) {}
func (NoopListener) OnError(*Context, Stage, error)             {}
func (NoopListener) OnComplete(*Context)                        {}

// Context is the per-transaction execution state threaded through handlers.
type Context struct {
	// Request being processed. Handlers must not replace it.
	Request *pf.TransactionRequest
	// Response is set by handlers; Execute guarantees it is non-nil on return.
	Response *pf.TransactionResponse

	ctx       context.Context
	startedAt time.Time
	stopped   bool
	stage     Stage
	attrs     map[string]interface{}
	timings   map[Stage]time.Duration
}

// Ctx returns the cancellation context of the run.
func (pc *Context) Ctx() context.Context { return pc.ctx }

// Stop short-circuits the run: later stages are skipped, except AUDIT.
func (pc *Context) Stop() { pc.stopped = true }

// Stopped reports whether a handler stopped the run.
func (pc *Context) Stopped() bool { return pc.stopped }

// Stage returns the currently executing stage.
func (pc *Context) Stage() Stage { return pc.stage }

// StartedAt returns when the run began.
func (pc *Context) StartedAt() time.Time { return pc.startedAt }

// SetAttr stashes a cross-stage attribute, e.g. the routed processor.
func (pc *Context) SetAttr(key string, value interface{}) {
	if pc.attrs == nil {
		pc.attrs = make(map[string]interface{})
	}
	pc.attrs[key] = value
}

// Attr returns a cross-stage attribute.
func (pc *Context) Attr(key string) (interface{}, bool) {
	var v, ok = pc.attrs[key]
	return v, ok
}

// StageTiming returns the measured duration of a completed stage.
func (pc *Context) StageTiming(stage Stage) time.Duration { return pc.timings[stage] }

// Pipeline is an immutable-after-build stage executor. Register handlers and
// listeners before the first Execute; registration is not synchronized.
type Pipeline struct {
	handlers  map[Stage][]Handler
	listeners []Listener
}

// New returns an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{handlers: make(map[Stage][]Handler)}
}

// Register attaches |h| to |stage|, after previously registered handlers.
func (p *Pipeline) Register(stage Stage, h Handler) *Pipeline {
	p.handlers[stage] = append(p.handlers[stage], h)
	return p
}

// AddListener attaches an execution observer.
func (p *Pipeline) AddListener(l Listener) *Pipeline {
	p.listeners = append(p.listeners, l)
	return p
}

// Execute runs |req| through all stages and returns its response. The
// response is never nil: handler errors and panics become declines, and a
// cancelled |ctx| becomes a response-too-late decline. AUDIT runs in every
// case.
func (p *Pipeline) Execute(ctx context.Context, req *pf.TransactionRequest) *pf.TransactionResponse {
	var pc = &Context{
		Request:   req,
		ctx:       ctx,
		startedAt: time.Now(),
		timings:   make(map[Stage]time.Duration),
	}
	for _, l := range p.listeners {
		l.OnStart(pc)
	}

	for _, stage := range stageOrder {
		if pc.stopped && stage != StageAudit {
			continue
		}
		if err := ctx.Err(); err != nil && stage != StageAudit {
			if pc.Response == nil {
				pc.Response = pf.Decline(req, pf.CodeResponseTooLate, "PROCESSING_CANCELLED")
			}
			pc.Stop()
			cancellationsCounter.Inc()
			continue
		}
		if stage == StageAudit {
			if pc.Response == nil {
				// Audit handlers observe a definite outcome.
				pc.Response = pf.Decline(req, pf.CodeSystemMalfunction, "NO_RESPONSE_PRODUCED")
			}
			// Stamped ahead of AUDIT so persisted records carry it.
			pc.Response.ProcessingTimeMs = time.Since(pc.startedAt).Milliseconds()
		}
		p.runStage(pc, stage)
	}

	if pc.Response == nil {
		pc.Response = pf.Decline(req, pf.CodeSystemMalfunction, "NO_RESPONSE_PRODUCED")
		pc.Response.ProcessingTimeMs = time.Since(pc.startedAt).Milliseconds()
	}

	transactionsCounter.WithLabelValues(string(req.Type), pc.Response.Code).Inc()
	durationHistogram.WithLabelValues(string(req.Type)).
		Observe(time.Since(pc.startedAt).Seconds())

	for _, l := range p.listeners {
		l.OnComplete(pc)
	}
	return pc.Response
}

func (p *Pipeline) runStage(pc *Context, stage Stage) {
	pc.stage = stage
	var begun = time.Now()
	for _, l := range p.listeners {
		l.OnStageEnter(pc, stage)
	}

	for _, h := range p.handlers[stage] {
		var err = p.invoke(pc, h)
		if err == nil {
			if pc.stopped && stage != StageAudit {
				break
			}
			continue
		}

		for _, l := range p.listeners {
			l.OnError(pc, stage, err)
		}
		if stage == StageAudit {
			// An audit failure never rewrites the transaction's outcome.
			log.WithFields(log.Fields{
				"txn":     pc.Request.ID,
				"handler": h.Name(),
				"err":     err,
			}).Error("audit handler failed")
			continue
		}
		if te, ok := pf.AsTransactionError(err); ok {
			pc.Response = pf.Decline(pc.Request, te.Code, te.Reason)
		} else {
			log.WithFields(log.Fields{
				"txn":     pc.Request.ID,
				"stage":   stage,
				"handler": h.Name(),
				"err":     err,
			}).Error("pipeline handler failed")
			pc.Response = pf.Decline(pc.Request, pf.CodeSystemMalfunction, "HANDLER_FAILURE")
		}
		pc.Stop()
		if stage != StageAudit {
			break
		}
	}

	var took = time.Since(begun)
	pc.timings[stage] = took
	for _, l := range p.listeners {
		l.OnStageExit(pc, stage, took)
	}
}

// invoke runs one handler, converting a panic into an error.
func (p *Pipeline) invoke(pc *Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			panicsCounter.Inc()
			log.WithFields(log.Fields{
				"txn":     pc.Request.ID,
				"handler": h.Name(),
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("pipeline handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Handle(pc)
}
