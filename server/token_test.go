package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/store/memory"
	"github.com/authframe/authframe/transaction"
)

func testValidator() *protection.Validator {
	return &protection.Validator{
		Opaque: protection.NewOpaqueFormat([]byte("0123456789abcdef0123456789abcdef")),
		Role:   "server",
	}
}

func newTokenFixture(t *testing.T) (*TokenEndpoint, *memory.Store) {
	t.Helper()
	backend := memory.Open(memory.Config{})
	opts := NewOptions("https://issuer.example")
	e := NewTokenEndpoint(opts, testValidator(), backend.Applications(), backend.Authorizations(), backend.Tokens(), backend.Scopes())
	return e, backend
}

func formRequest(values map[string]string) message.Request {
	m := message.New()
	for k, v := range values {
		m.SetString(k, v)
	}
	return message.NewRequest(m)
}

func newTokenTx(req message.Request) *transaction.Transaction {
	tx := transaction.New(context.Background(), "https://issuer.example", transaction.EndpointToken, req, nil)
	tx.Method = "POST"
	return tx
}

func registerConfidentialClient(t *testing.T, backend *memory.Store, clientID, secret string) *store.Application {
	t.Helper()
	app := &store.Application{
		ClientID:         clientID,
		ClientType:       store.ClientConfidential,
		ClientSecretHash: secret,
	}
	require.NoError(t, backend.Applications().Create(context.Background(), app))
	return app
}

func TestTokenEndpointClientCredentialsGrant(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")
	require.NoError(t, backend.Scopes().Create(context.Background(), &store.Scope{Name: "profile"}))

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantClientCredentials,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"scope":         "profile",
	}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
	assert.Equal(t, "Bearer", tx.Response.Get(message.NameTokenType).StringValue())
	assert.Empty(t, tx.Response.Get(message.NameRefreshToken).StringValue())
}

func TestTokenEndpointRejectsUnknownGrantType(t *testing.T) {
	e, _ := newTokenFixture(t)
	tx := newTokenTx(formRequest(map[string]string{"grant_type": "not_a_grant"}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrUnsupportedGrantType, tx.Response.Error())
}

func TestTokenEndpointRejectsNonPOST(t *testing.T) {
	e, _ := newTokenFixture(t)
	tx := newTokenTx(formRequest(map[string]string{"grant_type": GrantClientCredentials}))
	tx.Method = "GET"

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidRequest, tx.Response.Error())
}

func TestTokenEndpointBasicAuthPopulatesClientCredentials(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	tx := newTokenTx(formRequest(map[string]string{"grant_type": GrantClientCredentials}))
	tx.HasBasicAuth = true
	tx.BasicUser = "client-1"
	tx.BasicPass = "secret-1"

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
}

func TestTokenEndpointPublicClientRejectsClientSecret(t *testing.T) {
	e, backend := newTokenFixture(t)
	app := &store.Application{ClientID: "public-1", ClientType: store.ClientPublic}
	require.NoError(t, backend.Applications().Create(context.Background(), app))

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantClientCredentials,
		"client_id":     "public-1",
		"client_secret": "anything",
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidClient, tx.Response.Error())
}

func TestTokenEndpointWrongClientSecretRejected(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantClientCredentials,
		"client_id":     "client-1",
		"client_secret": "wrong",
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidClient, tx.Response.Error())
}

// authorizationCodeFixture mints a store-backed authorization_code
// principal the way the authorization endpoint would, with a given PKCE
// challenge, and returns the opaque token string a client would present.
func authorizationCodeFixture(t *testing.T, backend *memory.Store, clientID string, pkceMethod transaction.PKCEMethod, challenge string) string {
	t.Helper()
	ctx := context.Background()

	auth := &store.Authorization{Status: store.AuthorizationValid, ApplicationID: clientID, Type: "authorization_code", Scopes: []string{"openid", "offline_access"}}
	require.NoError(t, backend.Authorizations().Create(ctx, auth))

	record := &store.Token{Kind: string(transaction.TokenKindAuthorizationCode), Status: store.TokenValid, AuthorizationID: auth.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, backend.Tokens().Create(ctx, record))

	principal := transaction.NewPrincipal(transaction.TokenKindAuthorizationCode)
	principal.Presenters = []string{clientID}
	principal.Scopes = auth.Scopes
	principal.AuthorizationID = auth.ID
	principal.TokenID = record.ID
	principal.ExpiresAt = record.ExpiresAt
	principal.CodeChallenge = challenge
	principal.CodeChallengeMethod = pkceMethod

	validator := testValidator()
	token, err := validator.Emit(principal.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindAuthorizationCode, Form: protection.FormInline})
	require.NoError(t, err)
	return token
}

func TestTokenEndpointAuthorizationCodeWithPKCES256(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	code := authorizationCodeFixture(t, backend, "client-1", transaction.PKCES256, challenge)

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantAuthorizationCode,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"code":          code,
		"code_verifier": verifier,
	}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
	assert.NotEmpty(t, tx.Response.Get(message.NameRefreshToken).StringValue())
	assert.NotEmpty(t, tx.Response.Get(message.NameIDToken).StringValue())
}

func TestTokenEndpointAuthorizationCodeWrongVerifierRejected(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	const challenge = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	code := authorizationCodeFixture(t, backend, "client-1", transaction.PKCES256, challenge)

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantAuthorizationCode,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"code":          code,
		"code_verifier": "wrong-verifier",
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidGrant, tx.Response.Error())
}

func TestTokenEndpointAuthorizationCodeMissingVerifierRejected(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	const challenge = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	code := authorizationCodeFixture(t, backend, "client-1", transaction.PKCES256, challenge)

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantAuthorizationCode,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"code":          code,
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidRequest, tx.Response.Error())
}

func TestTokenEndpointAuthorizationCodeRedeemedOnce(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	code := authorizationCodeFixture(t, backend, "client-1", "", "")

	request := func() message.Request {
		return formRequest(map[string]string{
			"grant_type":    GrantAuthorizationCode,
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"code":          code,
		})
	}

	first := newTokenTx(request())
	require.Equal(t, dispatch.OutcomeHandled, e.Process(context.Background(), first))

	second := newTokenTx(request())
	outcome := e.Process(context.Background(), second)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidGrant, second.Response.Error())
}

// refreshTokenFixture mints a store-backed refresh_token principal and
// returns both the opaque token string and the backing record id.
func refreshTokenFixture(t *testing.T, backend *memory.Store, clientID string) (string, string) {
	t.Helper()
	ctx := context.Background()

	auth := &store.Authorization{Status: store.AuthorizationValid, ApplicationID: clientID, Type: "authorization_code", Scopes: []string{"openid", "offline_access"}}
	require.NoError(t, backend.Authorizations().Create(ctx, auth))

	record := &store.Token{Kind: string(transaction.TokenKindRefresh), Status: store.TokenValid, AuthorizationID: auth.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	require.NoError(t, backend.Tokens().Create(ctx, record))

	principal := transaction.NewPrincipal(transaction.TokenKindRefresh)
	principal.Subject = "user-1"
	principal.Presenters = []string{clientID}
	principal.Scopes = auth.Scopes
	principal.AuthorizationID = auth.ID
	principal.TokenID = record.ID
	principal.ExpiresAt = record.ExpiresAt

	validator := testValidator()
	token, err := validator.Emit(principal.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindRefresh, Form: protection.FormInline})
	require.NoError(t, err)
	return token, record.ID
}

func TestTokenEndpointRefreshTokenGrant(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")
	refreshToken, _ := refreshTokenFixture(t, backend, "client-1")

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantRefreshToken,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"refresh_token": refreshToken,
	}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
	assert.NotEmpty(t, tx.Response.Get(message.NameRefreshToken).StringValue())
}

func TestTokenEndpointRefreshReuseWithinLeewayIsAccepted(t *testing.T) {
	e, backend := newTokenFixture(t)
	e.Options.RefreshReuseLeeway = time.Minute
	registerConfidentialClient(t, backend, "client-1", "secret-1")
	refreshToken, _ := refreshTokenFixture(t, backend, "client-1")

	request := func() message.Request {
		return formRequest(map[string]string{
			"grant_type":    GrantRefreshToken,
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"refresh_token": refreshToken,
		})
	}

	first := newTokenTx(request())
	require.Equal(t, dispatch.OutcomeHandled, e.Process(context.Background(), first))

	// Presenting the same, now-redeemed refresh token again within the
	// leeway window must still succeed (spec §4.4.1 step 12).
	second := newTokenTx(request())
	outcome := e.Process(context.Background(), second)
	assert.Equal(t, dispatch.OutcomeHandled, outcome)
}

func TestTokenEndpointRefreshReuseOutsideLeewayCascadesRevocation(t *testing.T) {
	e, backend := newTokenFixture(t)
	e.Options.RefreshReuseLeeway = 0
	e.Now = func() time.Time { return time.Now() }
	registerConfidentialClient(t, backend, "client-1", "secret-1")
	refreshToken, recordID := refreshTokenFixture(t, backend, "client-1")

	request := func() message.Request {
		return formRequest(map[string]string{
			"grant_type":    GrantRefreshToken,
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"refresh_token": refreshToken,
		})
	}

	first := newTokenTx(request())
	require.Equal(t, dispatch.OutcomeHandled, e.Process(context.Background(), first))

	// Advance the clock past the (zero) leeway window, then replay.
	e.Now = func() time.Time { return time.Now().Add(time.Hour) }
	second := newTokenTx(request())
	outcome := e.Process(context.Background(), second)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidGrant, second.Response.Error())

	record, err := backend.Tokens().FindByID(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, store.TokenRedeemed, record.Status, "the reused token itself keeps its redeemed status, only its siblings are cascade-revoked")
}

func TestTokenEndpointDeviceCodePendingReturnsAuthorizationPending(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	record := &store.Token{Kind: string(transaction.TokenKindDeviceCode), Status: store.TokenInactive, ApplicationID: "client-1", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, backend.Tokens().Create(context.Background(), record))

	principal := transaction.NewPrincipal(transaction.TokenKindDeviceCode)
	principal.Presenters = []string{"client-1"}
	principal.TokenID = record.ID
	principal.ExpiresAt = record.ExpiresAt
	validator := testValidator()
	deviceCode, err := validator.Emit(principal.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindDeviceCode, Form: protection.FormInline})
	require.NoError(t, err)

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantDeviceCode,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"device_code":   deviceCode,
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrAuthorizationPending, tx.Response.Error())
}

func TestTokenEndpointDeviceCodeApprovedIssuesTokens(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")

	record := &store.Token{Kind: string(transaction.TokenKindDeviceCode), Status: store.TokenValid, Subject: "user-1", ApplicationID: "client-1", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, backend.Tokens().Create(context.Background(), record))

	principal := transaction.NewPrincipal(transaction.TokenKindDeviceCode)
	principal.Presenters = []string{"client-1"}
	principal.TokenID = record.ID
	principal.ExpiresAt = record.ExpiresAt
	validator := testValidator()
	deviceCode, err := validator.Emit(principal.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindDeviceCode, Form: protection.FormInline})
	require.NoError(t, err)

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantDeviceCode,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"device_code":   deviceCode,
	}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
}

func TestTokenEndpointPasswordGrantNoClientIdentification(t *testing.T) {
	e, _ := newTokenFixture(t)
	tx := newTokenTx(formRequest(map[string]string{
		"grant_type": GrantPassword,
		"username":   "alice",
		"password":   "hunter2",
	}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.NotEmpty(t, tx.Response.Get(message.NameAccessToken).StringValue())
}

func TestTokenEndpointPasswordGrantMissingPasswordRejected(t *testing.T) {
	e, _ := newTokenFixture(t)
	tx := newTokenTx(formRequest(map[string]string{
		"grant_type": GrantPassword,
		"username":   "alice",
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidRequest, tx.Response.Error())
}

func TestTokenEndpointUnsupportedScopeRejected(t *testing.T) {
	e, backend := newTokenFixture(t)
	registerConfidentialClient(t, backend, "client-1", "secret-1")
	require.NoError(t, backend.Scopes().Create(context.Background(), &store.Scope{Name: "profile"}))

	tx := newTokenTx(formRequest(map[string]string{
		"grant_type":    GrantClientCredentials,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"scope":         "unknown_scope",
	}))

	outcome := e.Process(context.Background(), tx)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrInvalidScope, tx.Response.Error())
}
