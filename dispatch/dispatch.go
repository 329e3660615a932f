// Package dispatch implements the event-dispatcher pipeline: an ordered,
// filterable sequence of handlers driving a transaction.Transaction through
// Extract, Validate, Handle, and Apply, any of which may short-circuit,
// skip, or reject the rest of the chain.
package dispatch

import (
	"context"
	"sort"

	"github.com/authframe/authframe/transaction"
)

// ContextType tags which event a handler participates in (Extract,
// Validate, Handle, Apply, or a host-initiated sibling flow). It is a
// closed variant per endpoint, per the "multiple inheritance / mixins ->
// tagged variants + capability traits" design note.
type ContextType string

const (
	ContextExtractRequest   ContextType = "extract_request"
	ContextValidateRequest  ContextType = "validate_request"
	ContextHandleRequest    ContextType = "handle_request"
	ContextApplyResponse    ContextType = "apply_response"
	ContextProcessRequest   ContextType = "process_request"
	ContextProcessAuthn     ContextType = "process_authentication"
	ContextProcessSignIn    ContextType = "process_sign_in"
	ContextProcessSignOut   ContextType = "process_sign_out"
	ContextProcessChallenge ContextType = "process_challenge"
	ContextProcessError     ContextType = "process_error"
)

// Kind distinguishes a built-in handler, shipped by this module's default
// pipelines, from a custom one registered by the host.
type Kind int

const (
	KindBuiltIn Kind = iota
	KindCustom
)

// Outcome is the explicit result of running one handler, replacing the
// exception-driven control flow of frameworks this module's design is
// informed by (see design note on explicit result types).
type Outcome int

const (
	// OutcomeContinue lets the pipeline proceed to the next descriptor.
	OutcomeContinue Outcome = iota
	// OutcomeHandled stops the pipeline; the response is finalized.
	OutcomeHandled
	// OutcomeSkipped stops the pipeline; the host is told to pass through.
	OutcomeSkipped
	// OutcomeRejected stops the pipeline; an error response is synthesized.
	OutcomeRejected
)

// Rejection carries the (error, description, uri) triple a handler reports
// when it rejects a transaction.
type Rejection struct {
	Error       string
	Description string
	URI         string
}

// Result is returned by every Handler invocation.
type Result struct {
	Outcome   Outcome
	Rejection *Rejection
}

// Continue is the zero-cost "proceed normally" result.
func Continue() Result { return Result{Outcome: OutcomeContinue} }

// Handled marks the transaction's response as finalized.
func Handled() Result { return Result{Outcome: OutcomeHandled} }

// Skipped tells the host to pass the request through untouched.
func Skipped() Result { return Result{Outcome: OutcomeSkipped} }

// Reject stops the pipeline with an (error, description, uri) triple. If
// description is empty and error is "invalid_request", callers should
// prefer RejectParameter so a default description is synthesized per the
// error-handling design (spec §7).
func Reject(errCode, description, uri string) Result {
	return Result{Outcome: OutcomeRejected, Rejection: &Rejection{Error: errCode, Description: description, URI: uri}}
}

// RejectParameter rejects invalid_request with a description synthesized
// from the offending parameter name, matching the default-description
// contract handlers may rely on instead of hand-writing prose everywhere.
func RejectParameter(parameter string) Result {
	return Reject("invalid_request", "The mandatory '"+parameter+"' parameter is missing or malformed.", "")
}

// Handler processes one transaction for one ContextType. Handlers must not
// retain the transaction after returning, and must not spawn parallel work
// over it; suspension happens only at I/O boundaries crossed through ctx.
type Handler func(ctx context.Context, tx *transaction.Transaction) Result

// Filter is a predicate over the transaction; a Filter returning false
// deactivates its descriptor for this transaction. Multiple filters on one
// descriptor compose by AND.
type Filter func(tx *transaction.Transaction) bool

// Descriptor is an immutable registration of one Handler against one
// ContextType, carrying its sort order, its Kind, and any Filters gating
// its activation.
type Descriptor struct {
	Context ContextType
	Order   Order
	Kind    Kind
	Filters []Filter
	Handler Handler

	// registrationIndex breaks order ties by insertion order; it's set by
	// Registry.Register and is not meant to be populated by callers.
	registrationIndex int
}

func (d Descriptor) active(tx *transaction.Transaction) bool {
	for _, f := range d.Filters {
		if !f(tx) {
			return false
		}
	}
	return true
}

// Registry holds the descriptors registered for each ContextType.
type Registry struct {
	byContext map[ContextType][]Descriptor
	counter   int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byContext: make(map[ContextType][]Descriptor)}
}

// Register adds a descriptor. Descriptors are sorted lazily at dispatch
// time by (Order, registrationIndex), so registration order only matters
// as a tiebreaker among equal Order values.
func (r *Registry) Register(d Descriptor) {
	d.registrationIndex = r.counter
	r.counter++
	r.byContext[d.Context] = append(r.byContext[d.Context], d)
}

// Descriptors returns the sorted, immutable descriptor list for a context
// type. The returned slice is a copy; mutating it does not affect the
// registry.
func (r *Registry) Descriptors(ctxType ContextType) []Descriptor {
	src := r.byContext[ctxType]
	out := make([]Descriptor, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].registrationIndex < out[j].registrationIndex
	})
	return out
}

// Dispatcher runs a Registry's handler chains against transactions.
type Dispatcher struct {
	registry *Registry
}

// New returns a Dispatcher bound to registry.
func New(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Fire runs every active descriptor registered for ctxType, in order,
// until one of them stops the pipeline (Handled, Skipped, Rejected), the
// transaction's context is cancelled, or the chain is exhausted (which
// returns OutcomeContinue so the caller can proceed to the next event).
func (d *Dispatcher) Fire(ctx context.Context, tx *transaction.Transaction, ctxType ContextType) Result {
	for _, desc := range d.registry.Descriptors(ctxType) {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: OutcomeSkipped}
		}
		if !desc.active(tx) {
			continue
		}
		res := desc.Handler(ctx, tx)
		if res.Outcome != OutcomeContinue {
			return res
		}
	}
	return Continue()
}
