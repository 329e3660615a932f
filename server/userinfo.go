package server

import (
	"context"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/resource"
	"github.com/authframe/authframe/transaction"
)

// profileClaims and the other scope-gated claim sets below are the
// standard OIDC claim names spec §4.4.5 names per scope.
var (
	profileClaims = []string{"name", "family_name", "given_name", "middle_name", "nickname",
		"preferred_username", "profile", "picture", "website", "gender", "birthdate",
		"zoneinfo", "locale", "updated_at"}
	emailClaims   = []string{"email", "email_verified"}
	phoneClaims   = []string{"phone_number", "phone_number_verified"}
	addressClaims = []string{"address"}
)

// UserinfoEndpoint implements the OIDC userinfo endpoint (spec §4.4.5).
// It validates an access token, attaches audiences from the token's
// presenters rather than its audiences (the client is not the intended
// audience of its own resource-server token, per OIDC §5.3), and fills a
// response keyed by standard claim names gated on scope.
type UserinfoEndpoint struct {
	*Endpoint
	Validator *protection.Validator
}

func NewUserinfoEndpoint(validator *protection.Validator) *UserinfoEndpoint {
	e := &UserinfoEndpoint{Endpoint: newEndpoint(), Validator: validator}
	bearer := resource.New(validator, "userinfo")
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextValidateRequest, Handler: bearer.Handler()})
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.serve})
	return e
}

func (e *UserinfoEndpoint) serve(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	if tx.Principal == nil {
		return dispatch.Reject(ErrMissingToken, "", "")
	}
	p := tx.Principal
	if p.TokenKind != transaction.TokenKindAccess {
		return dispatch.Reject(ErrInvalidToken, "", "")
	}

	tx.Response.SetString("sub", p.Subject)
	setAudience(tx.Response, p.Presenters)

	if p.HasScope(ScopeProfile) {
		copyClaims(tx, p, profileClaims)
	}
	if p.HasScope(ScopeEmail) {
		copyClaims(tx, p, emailClaims)
	}
	if p.HasScope(ScopePhone) {
		copyClaims(tx, p, phoneClaims)
	}
	if p.HasScope(ScopeAddress) {
		copyClaims(tx, p, addressClaims)
	}
	return dispatch.Handled()
}

func copyClaims(tx *transaction.Transaction, p *transaction.Principal, names []string) {
	for _, name := range names {
		if p.HasClaim(name) {
			tx.Response.SetString(name, p.Claim(name))
		}
	}
}
