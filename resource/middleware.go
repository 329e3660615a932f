// Package resource implements the Resource Server role: a bearer-token
// extraction stage that runs ahead of an endpoint's own handlers,
// populating transaction.Transaction.Principal so downstream handlers
// (userinfo, and any host-defined protected API) can trust it's already
// validated.
package resource

import (
	"context"
	"strings"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/transaction"
)

const bearerPrefix = "Bearer "

// Challenge is the WWW-Authenticate header value to send back on a
// failed extraction, grounded on the teacher's server/userinfohandlers.go
// (a bare "Bearer" challenge on a missing/malformed header) and
// server/handlers.go's richer error/description pair once a token was
// present but rejected. Spec §6 asks that the missing-token case
// suppress error detail, which is why Challenge has no Description for
// that branch.
type Challenge struct {
	Error       string
	Description string
}

// ChallengeFromError builds a Challenge from an already-rejected
// transaction's error fields (tx.Response.Error()/ErrorDescription()
// after Endpoint.Process returns OutcomeRejected). It is exported for a
// host that wants to set a WWW-Authenticate header alongside the error
// body spec §7 already puts in the response document; the core itself
// never sets transport headers, so nothing in this package calls it.
func ChallengeFromError(errorCode, description string) Challenge {
	return Challenge{Error: errorCode, Description: description}
}

// String renders the challenge the way RFC 6750 §3 describes:
// `Bearer realm="...", error="...", error_description="..."`, each
// parameter present only when non-empty.
func (c Challenge) String(realm string) string {
	var b strings.Builder
	b.WriteString("Bearer")
	if realm != "" {
		b.WriteString(` realm="` + realm + `"`)
	}
	if c.Error != "" {
		if realm != "" {
			b.WriteString(",")
		}
		b.WriteString(` error="` + c.Error + `"`)
		if c.Description != "" {
			b.WriteString(`, error_description="` + c.Description + `"`)
		}
	}
	return b.String()
}

// Middleware extracts and validates a Bearer access token ahead of a
// protected endpoint's own handlers (spec §6's resource stack). A
// missing or invalid token is not an error in itself: tx.Principal stays
// nil and the chain continues, letting anonymous and authenticated
// requests share one endpoint when that's what a host wants. The
// Middleware builds no Challenge and sets no header; a host that wants
// WWW-Authenticate renders one with ChallengeFromError (the userinfo
// endpoint, by contrast, rejects a nil Principal itself).
type Middleware struct {
	Validator *protection.Validator
	Realm     string
}

// New returns a Middleware bound to validator.
func New(validator *protection.Validator, realm string) *Middleware {
	return &Middleware{Validator: validator, Realm: realm}
}

// Handler returns a dispatch.Handler suitable for registration at
// dispatch.ContextExtractRequest (or ahead of a host's own protected
// dispatch chain). It reads transaction.Transaction.Authorization (the
// raw header value the host's extractor placed there), and on success
// populates tx.Principal for every downstream handler to consume.
// Missing or invalid tokens are not rejected here — spec §6 leaves that
// call to the endpoint (userinfo rejects a nil Principal itself; a
// host's own protected API may instead want the challenge surfaced via
// a response header without a hard failure).
func (m *Middleware) Handler() dispatch.Handler {
	return func(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
		token, ok := extractBearer(tx.Authorization)
		if !ok {
			return dispatch.Continue()
		}

		principal, err := m.Validator.Validate(ctx, token, []transaction.TokenKind{transaction.TokenKindAccess}, transaction.TokenKindAccess)
		if err != nil {
			return dispatch.Continue()
		}
		tx.Principal = principal
		return dispatch.Continue()
	}
}

// extractBearer splits an `Authorization: Bearer <token>` header value,
// returning the bare token and ok=true only on an exact, case-
// insensitive "Bearer " prefix match — grounded on the teacher's
// server/userinfohandlers.go prefix check.
func extractBearer(header string) (token string, ok bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return header[len(bearerPrefix):], true
}
