// Package process implements the ROUTING and PROCESSING stages. Each
// transaction type maps to one Processor, which runs a fixed template:
// Validate, PreProcess, DoProcess, PostProcess. Routing is resolved once,
// during the ROUTING stage, and carried to PROCESSING as a context
// attribute.
package process

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/paynet/fep/go/pipeline"
	pf "github.com/paynet/fep/go/protocols/fep"
	log "github.com/sirupsen/logrus"
)

// Processor handles one transaction type. Implementations embed Base and
// override the phases they need; DoProcess must leave a Response on the
// context.
type Processor interface {
	// Type is the transaction type this processor serves.
	Type() pf.TransactionType
	// Validate checks type-specific request shape.
	Validate(pc *pipeline.Context) error
	// PreProcess prepares resources before the main action.
	PreProcess(pc *pipeline.Context) error
	// DoProcess performs the transaction and sets the response.
	DoProcess(pc *pipeline.Context) error
	// PostProcess runs after a successful DoProcess.
	PostProcess(pc *pipeline.Context) error
}

// Base is a no-op Processor for embedding.
type Base struct {
	Typ pf.TransactionType
}

func (b Base) Type() pf.TransactionType          { return b.Typ }
func (Base) Validate(*pipeline.Context) error    { return nil }
func (Base) PreProcess(*pipeline.Context) error  { return nil }
func (Base) DoProcess(*pipeline.Context) error   { return nil }
func (Base) PostProcess(*pipeline.Context) error { return nil }

// Registry maps transaction types to processors. It is immutable once
// built.
type Registry struct {
	procs map[pf.TransactionType]Processor
}

// NewRegistry builds a Registry from |procs|. Registering two processors
// for one type is a configuration error.
func NewRegistry(procs ...Processor) (*Registry, error) {
	var m = make(map[pf.TransactionType]Processor, len(procs))
	for _, p := range procs {
		if _, ok := m[p.Type()]; ok {
			return nil, fmt.Errorf("duplicate processor for type %s", p.Type())
		}
		m[p.Type()] = p
	}
	return &Registry{procs: m}, nil
}

// Get returns the processor of |typ|.
func (r *Registry) Get(typ pf.TransactionType) (Processor, bool) {
	var p, ok = r.procs[typ]
	return p, ok
}

// Types returns the registered transaction types.
func (r *Registry) Types() []pf.TransactionType {
	var out = make([]pf.TransactionType, 0, len(r.procs))
	for typ := range r.procs {
		out = append(out, typ)
	}
	return out
}

// processorAttr carries the routed processor from ROUTING to PROCESSING.
const processorAttr = "process.processor"

// RoutingHandler resolves the processor of the request's type, declining
// unsupported types.
func RoutingHandler(reg *Registry) pipeline.Handler {
	return pipeline.HandlerFunc{ID: "process.route", Fn: func(pc *pipeline.Context) error {
		var p, ok = reg.Get(pc.Request.Type)
		if !ok {
			return pf.NewTransactionError(pf.CodeTxnNotPermitted,
				"TXN_TYPE_NOT_SUPPORTED", "type %s", pc.Request.Type)
		}
		pc.SetAttr(processorAttr, p)
		return nil
	}}
}

// ProcessingHandler runs the routed processor's template phases in order.
func ProcessingHandler() pipeline.Handler {
	return pipeline.HandlerFunc{ID: "process.execute", Fn: func(pc *pipeline.Context) error {
		var v, ok = pc.Attr(processorAttr)
		if !ok {
			return fmt.Errorf("no processor was routed for transaction %s", pc.Request.ID)
		}
		var p = v.(Processor)

		for _, phase := range []struct {
			name string
			fn   func(*pipeline.Context) error
		}{
			{"validate", p.Validate},
			{"preProcess", p.PreProcess},
			{"doProcess", p.DoProcess},
			{"postProcess", p.PostProcess},
		} {
			if err := phase.fn(pc); err != nil {
				log.WithFields(log.Fields{
					"txn":   pc.Request.ID,
					"type":  pc.Request.Type,
					"phase": phase.name,
				}).Debug("processor phase declined")
				return err
			}
		}
		processedCounter.WithLabelValues(string(p.Type())).Inc()
		return nil
	}}
}

// newAuthCode returns a six digit authorization code.
func newAuthCode() string {
	return fmt.Sprintf("%06d", uuid.New().ID()%1_000_000)
}
