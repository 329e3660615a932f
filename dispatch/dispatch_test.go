package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/transaction"
)

func newTx() *transaction.Transaction {
	return transaction.New(context.Background(), "https://issuer.example", transaction.EndpointToken, message.NewRequest(message.New()), nil)
}

func TestFireRunsInOrderThenRegistrationIndex(t *testing.T) {
	reg := NewRegistry()
	var calls []string

	reg.Register(Descriptor{Context: ContextValidateRequest, Order: 10, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		calls = append(calls, "second")
		return Continue()
	}})
	reg.Register(Descriptor{Context: ContextValidateRequest, Order: 0, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		calls = append(calls, "first-a")
		return Continue()
	}})
	reg.Register(Descriptor{Context: ContextValidateRequest, Order: 0, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		calls = append(calls, "first-b")
		return Continue()
	}})

	d := New(reg)
	res := d.Fire(context.Background(), newTx(), ContextValidateRequest)

	require.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, []string{"first-a", "first-b", "second"}, calls)
}

func TestFireShortCircuitsOnReject(t *testing.T) {
	reg := NewRegistry()
	ran := false

	reg.Register(Descriptor{Context: ContextValidateRequest, Order: 0, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		return Reject("invalid_request", "missing grant_type", "")
	}})
	reg.Register(Descriptor{Context: ContextValidateRequest, Order: 1, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		ran = true
		return Continue()
	}})

	d := New(reg)
	res := d.Fire(context.Background(), newTx(), ContextValidateRequest)

	require.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "invalid_request", res.Rejection.Error)
	assert.False(t, ran, "handler after a rejection must not run")
}

func TestFilterDeactivatesDescriptor(t *testing.T) {
	reg := NewRegistry()
	ran := false

	reg.Register(Descriptor{
		Context: ContextHandleRequest,
		Filters: []Filter{func(tx *transaction.Transaction) bool { return false }},
		Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
			ran = true
			return Continue()
		},
	})

	d := New(reg)
	res := d.Fire(context.Background(), newTx(), ContextHandleRequest)

	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.False(t, ran)
}

func TestFireHaltsOnCancellation(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(Descriptor{Context: ContextHandleRequest, Handler: func(ctx context.Context, tx *transaction.Transaction) Result {
		ran = true
		return Continue()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(reg)
	res := d.Fire(ctx, newTx(), ContextHandleRequest)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.False(t, ran)
}

func TestRejectParameterSynthesizesDescription(t *testing.T) {
	res := RejectParameter("grant_type")
	assert.Equal(t, "invalid_request", res.Rejection.Error)
	assert.Contains(t, res.Rejection.Description, "grant_type")
}
