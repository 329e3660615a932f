package server

import (
	"context"
	"strings"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/transaction"
)

// IntrospectionEndpoint implements RFC 7662 (spec §4.4.3). For a token
// the caller isn't entitled to inspect, the response is `active: false`
// rather than an error — an intentional information-hiding choice the
// spec carries over unchanged.
type IntrospectionEndpoint struct {
	*Endpoint
	Validator *protection.Validator
}

func NewIntrospectionEndpoint(validator *protection.Validator) *IntrospectionEndpoint {
	e := &IntrospectionEndpoint{Endpoint: newEndpoint(), Validator: validator}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.introspect})
	return e
}

func (e *IntrospectionEndpoint) introspect(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	token := tx.Request.Token()
	if token == "" {
		tx.Response.SetActive(false)
		return dispatch.Handled()
	}

	hint := transaction.TokenKind(tx.Request.TokenTypeHint())
	principal, err := e.Validator.Validate(ctx, token, nil, hint)
	if err != nil {
		tx.Response.SetActive(false)
		return dispatch.Handled()
	}

	requester := tx.Request.ClientID()
	if requester != "" && !principal.HasAudience(requester) {
		tx.Response.SetActive(false)
		return dispatch.Handled()
	}

	tx.Response.SetActive(true)
	tx.Response.SetString("sub", principal.Subject)
	if len(principal.Presenters) > 0 {
		tx.Response.SetString("client_id", strings.Join(principal.Presenters, " "))
	}
	if len(principal.Scopes) > 0 {
		tx.Response.SetScope(principal.Scopes)
	}
	if !principal.ExpiresAt.IsZero() {
		_ = tx.Response.Set("exp", message.Integer(principal.ExpiresAt.Unix()))
	}
	if !principal.CreatedAt.IsZero() {
		_ = tx.Response.Set("iat", message.Integer(principal.CreatedAt.Unix()))
	}
	tx.Response.SetString("iss", tx.IssuerURL)
	tx.Response.SetString("token_type", "Bearer")
	if principal.TokenID != "" {
		tx.Response.SetString("jti", principal.TokenID)
	}
	setAudience(tx.Response, principal.Audiences)
	return dispatch.Handled()
}
