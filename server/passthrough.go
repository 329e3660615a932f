package server

import (
	"context"
	"time"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/transaction"
)

// AuthorizationEndpoint and LogoutEndpoint follow the same
// Extract/Validate/Handle/Apply shape as the other endpoints but, per
// spec §4.4.4, yield to a host-provided UI/consent component after
// validation instead of producing a JSON document themselves: they
// OutcomeSkipped so the host takes over rendering.
type AuthorizationEndpoint struct {
	*Endpoint
}

func NewAuthorizationEndpoint() *AuthorizationEndpoint {
	e := &AuthorizationEndpoint{Endpoint: newEndpoint()}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextValidateRequest, Handler: e.validate})
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: passThrough})
	return e
}

func (e *AuthorizationEndpoint) validate(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	if tx.Request.ResponseType() == "" {
		return dispatch.RejectParameter("response_type")
	}
	if tx.Request.ClientID() == "" {
		return dispatch.RejectParameter("client_id")
	}
	return dispatch.Continue()
}

// LogoutEndpoint validates a post_logout_redirect_uri, if supplied,
// against nothing here (that binding is a host/store concern via the
// Application record) and otherwise passes through.
type LogoutEndpoint struct {
	*Endpoint
}

func NewLogoutEndpoint() *LogoutEndpoint {
	e := &LogoutEndpoint{Endpoint: newEndpoint()}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: passThrough})
	return e
}

func passThrough(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	return dispatch.Skipped()
}

// VerificationEndpoint backs the device-flow "enter this code" page
// (spec §4.4.4): once a host-side consent step records its outcome on
// the transaction (an "error" parameter set to access_denied or
// anything else), this either flips the pending device-code record to
// valid and surfaces the client's stored redirect URI, or leaves the
// error as-is and yields to the host.
type VerificationEndpoint struct {
	*Endpoint
	Tokens       store.TokenStore
	Applications store.ApplicationStore
	Now          func() time.Time
}

func NewVerificationEndpoint(tokens store.TokenStore, applications store.ApplicationStore) *VerificationEndpoint {
	e := &VerificationEndpoint{Endpoint: newEndpoint(), Tokens: tokens, Applications: applications, Now: time.Now}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.complete})
	return e
}

func (e *VerificationEndpoint) complete(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	if tx.Response.IsError() {
		return dispatch.Skipped()
	}

	userCode := tx.Request.UserCode()
	if userCode == "" {
		return dispatch.RejectParameter("user_code")
	}

	record, err := e.Tokens.FindByReferenceID(ctx, userCode)
	if err != nil {
		return dispatch.Reject(ErrInvalidGrant, "The user_code is unknown or expired.", "")
	}
	if record.Status != store.TokenInactive || e.Now().After(record.ExpiresAt) {
		return dispatch.Reject(ErrInvalidGrant, "The user_code is unknown or expired.", "")
	}

	record.Status = store.TokenValid
	if tx.Principal != nil {
		// tx.Principal here is the host's authenticated end user (set by
		// the host's session/login step before this handler runs), not a
		// bearer-token principal — the device-code grant reads it back
		// off the record as its subject once the token endpoint redeems
		// the device code.
		record.Subject = tx.Principal.Subject
	}
	if err := e.Tokens.Update(ctx, record); err != nil {
		return dispatch.Reject(ErrServerError, "", "")
	}

	if e.Applications != nil {
		app, err := e.Applications.FindByClientID(ctx, record.ApplicationID)
		if err == nil && len(app.RedirectURIs) > 0 {
			tx.Response.SetString("redirect_uri", app.RedirectURIs[0])
		}
	}
	return dispatch.Handled()
}
