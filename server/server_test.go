package server

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/store/memory"
	"github.com/authframe/authframe/transaction"
)

// fakeHostRequest/fakeHostResponse stand in for a host's transport types
// in these end-to-end tests, exercising the same RequestExtractor/
// ResponseApplier seam cmd/authframed's net/http adapter implements.
type fakeHostRequest struct {
	form          url.Values
	method        string
	authorization string
}

type fakeHostResponse struct {
	status int
	body   *message.Message
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, host any) (*message.Message, string, string, string, bool, string, error) {
	req := host.(*fakeHostRequest)
	return message.ParseForm(req.form), req.method, "", "", false, req.authorization, nil
}

type fakeApplier struct{}

func (fakeApplier) Apply(ctx context.Context, host any, status int, resp message.Response) error {
	out := host.(*fakeHostResponse)
	out.status = status
	out.body = resp.Message
	return nil
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	backend := memory.Open(memory.Config{})
	opts := NewOptions("https://issuer.example")
	srv := New(Config{
		Options:        opts,
		Validator:      testValidator(),
		Applications:   backend.Applications(),
		Authorizations: backend.Authorizations(),
		Tokens:         backend.Tokens(),
		Scopes:         backend.Scopes(),
	})
	return srv, backend
}

func TestServerHandleTokenEndpointEndToEnd(t *testing.T) {
	srv, backend := newTestServer(t)
	app := &store.Application{ClientID: "client-1", ClientType: store.ClientConfidential, ClientSecretHash: "secret-1"}
	require.NoError(t, backend.Applications().Create(context.Background(), app))

	req := &fakeHostRequest{
		method: "POST",
		form: url.Values{
			"grant_type":    {GrantClientCredentials},
			"client_id":     {"client-1"},
			"client_secret": {"secret-1"},
		},
	}
	resp := &fakeHostResponse{}

	outcome, err := srv.Handle(context.Background(), transaction.EndpointToken, fakeExtractor{}, fakeApplier{}, req, resp)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.Equal(t, 200, resp.status)
	assert.NotEmpty(t, resp.body.Get(message.NameAccessToken).StringValue())
}

func TestServerHandleMapsRejectionToHTTPStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	req := &fakeHostRequest{method: "POST", form: url.Values{"grant_type": {"bogus"}}}
	resp := &fakeHostResponse{}

	outcome, err := srv.Handle(context.Background(), transaction.EndpointToken, fakeExtractor{}, fakeApplier{}, req, resp)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, 400, resp.status)
	assert.Equal(t, ErrUnsupportedGrantType, resp.body.Get(message.NameError).StringValue())
}

func TestServerHandleAuthorizationEndpointSkipsToHost(t *testing.T) {
	srv, _ := newTestServer(t)
	req := &fakeHostRequest{method: "GET", form: url.Values{"response_type": {"code"}, "client_id": {"client-1"}}}
	resp := &fakeHostResponse{}

	outcome, err := srv.Handle(context.Background(), transaction.EndpointAuthorization, fakeExtractor{}, fakeApplier{}, req, resp)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, outcome)
	assert.Equal(t, 200, resp.status)
}

func TestServerHandleUnknownEndpointKindRejectsAsServerError(t *testing.T) {
	srv, _ := newTestServer(t)
	req := &fakeHostRequest{method: "POST"}
	resp := &fakeHostResponse{}

	outcome, err := srv.Handle(context.Background(), transaction.EndpointKind(999), fakeExtractor{}, fakeApplier{}, req, resp)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, 500, resp.status)
	assert.Equal(t, ErrServerError, resp.body.Get(message.NameError).StringValue())
}

func TestServerHandleUserinfoRejectsUnverifiableBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := &fakeHostRequest{method: "POST", authorization: "Bearer not-a-real-token"}
	resp := &fakeHostResponse{}

	// A bearer token that fails validation leaves tx.Principal nil, so
	// the userinfo endpoint rejects the request through Handle with
	// missing_token rather than panicking.
	outcome, err := srv.Handle(context.Background(), transaction.EndpointUserinfo, fakeExtractor{}, fakeApplier{}, req, resp)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeRejected, outcome)
	assert.Equal(t, ErrMissingToken, resp.body.Get(message.NameError).StringValue())
}
