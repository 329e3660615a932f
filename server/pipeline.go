package server

import (
	"context"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/transaction"
)

// Endpoint wires a dispatch.Registry/Dispatcher pair to drive one
// protocol endpoint through Extract -> Validate -> Handle -> Apply, per
// spec §4.4's fixed sequence. Built-in handlers are registered by the
// endpoint-specific constructors in this package (NewTokenEndpoint,
// NewRevocationEndpoint, ...); hosts add custom handlers by calling
// Registry() and registering additional descriptors with dispatch.Order
// values bracketing the built-ins (spec §9: "order - 500" / "order +
// 1000").
type Endpoint struct {
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
}

func newEndpoint() *Endpoint {
	r := dispatch.NewRegistry()
	return &Endpoint{registry: r, dispatcher: dispatch.New(r)}
}

// Registry exposes the underlying registry so a host can add handlers.
func (e *Endpoint) Registry() *dispatch.Registry { return e.registry }

// Process runs tx through Extract, Validate, and Handle in order, stopping
// at the first non-Continue outcome, then always runs Apply so the
// response document (success or error) gets serialized. The final
// dispatch.Outcome tells the host what to do: Handled means write
// tx.Response as a normal document; Skipped means pass the request
// through to a downstream host component (spec §4.4.4's authorization/
// logout pass-through); Rejected means tx.Response now carries an error
// document.
func (e *Endpoint) Process(ctx context.Context, tx *transaction.Transaction) dispatch.Outcome {
	stages := []dispatch.ContextType{
		dispatch.ContextExtractRequest,
		dispatch.ContextValidateRequest,
		dispatch.ContextHandleRequest,
	}

	outcome := dispatch.OutcomeHandled
	for _, stage := range stages {
		res := e.dispatcher.Fire(ctx, tx, stage)
		if res.Outcome == dispatch.OutcomeContinue {
			continue
		}
		outcome = res.Outcome
		if res.Outcome == dispatch.OutcomeRejected && res.Rejection != nil {
			desc := res.Rejection.Description
			if desc == "" {
				desc = defaultDescription(res.Rejection.Error, "")
			}
			tx.Response.SetError(res.Rejection.Error, desc, res.Rejection.URI)
		}
		break
	}

	e.dispatcher.Fire(ctx, tx, dispatch.ContextApplyResponse)
	return outcome
}
