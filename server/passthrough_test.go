package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/store/memory"
	"github.com/authframe/authframe/transaction"
)

func TestAuthorizationEndpointSkipsToHostAfterValidation(t *testing.T) {
	e := NewAuthorizationEndpoint()
	tx := newTokenTx(formRequest(map[string]string{"response_type": "code", "client_id": "client-1"}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeSkipped, outcome)
}

func TestAuthorizationEndpointRejectsMissingResponseType(t *testing.T) {
	e := NewAuthorizationEndpoint()
	tx := newTokenTx(formRequest(map[string]string{"client_id": "client-1"}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidRequest, tx.Response.Error())
}

func TestLogoutEndpointAlwaysSkipsToHost(t *testing.T) {
	e := NewLogoutEndpoint()
	tx := newTokenTx(formRequest(map[string]string{}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeSkipped, outcome)
}

func TestVerificationEndpointApprovesPendingDeviceCode(t *testing.T) {
	backend := memory.Open(memory.Config{})
	ctx := context.Background()

	app := &store.Application{ClientID: "client-1", RedirectURIs: []string{"https://client.example/callback"}}
	require.NoError(t, backend.Applications().Create(ctx, app))

	record := &store.Token{Kind: string(transaction.TokenKindDeviceCode), Status: store.TokenInactive, ReferenceID: "WDJB-MJHT", ApplicationID: "client-1", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, backend.Tokens().Create(ctx, record))

	e := NewVerificationEndpoint(backend.Tokens(), backend.Applications())
	tx := newTokenTx(formRequest(map[string]string{"user_code": "WDJB-MJHT"}))
	tx.Principal = &transaction.Principal{Subject: "user-1"}

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.Equal(t, "https://client.example/callback", tx.Response.Get("redirect_uri").StringValue())

	updated, err := backend.Tokens().FindByReferenceID(ctx, "WDJB-MJHT")
	require.NoError(t, err)
	assert.Equal(t, store.TokenValid, updated.Status)
	assert.Equal(t, "user-1", updated.Subject)
}

func TestVerificationEndpointUnknownUserCodeRejected(t *testing.T) {
	backend := memory.Open(memory.Config{})
	e := NewVerificationEndpoint(backend.Tokens(), backend.Applications())
	tx := newTokenTx(formRequest(map[string]string{"user_code": "NOPE-NOPE"}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidGrant, tx.Response.Error())
}

func TestVerificationEndpointMissingUserCodeRejected(t *testing.T) {
	backend := memory.Open(memory.Config{})
	e := NewVerificationEndpoint(backend.Tokens(), backend.Applications())
	tx := newTokenTx(formRequest(map[string]string{}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidRequest, tx.Response.Error())
}

func TestVerificationEndpointPreExistingErrorSkipsToHost(t *testing.T) {
	backend := memory.Open(memory.Config{})
	e := NewVerificationEndpoint(backend.Tokens(), backend.Applications())
	tx := newTokenTx(formRequest(map[string]string{"user_code": "WDJB-MJHT"}))
	tx.Response.SetError(ErrAccessDenied, "the user declined", "")

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeSkipped, outcome, "a consent step that already recorded an error hands off to the host instead of looking up the code")
}
