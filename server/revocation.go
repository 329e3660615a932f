package server

import (
	"context"
	"time"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/transaction"
)

// RevocationEndpoint implements RFC 7009 (spec §4.4.2), grounded on the
// shape of the teacher's revocation handling in server/tokenhandlers.go
// generalized to the acceptable-kind/normalization rules spec §9 asks to
// keep configurable rather than decided once and for all.
type RevocationEndpoint struct {
	*Endpoint
	Options   *Options
	Validator *protection.Validator
	Tokens    store.TokenStore
	Now       func() time.Time
}

func NewRevocationEndpoint(opts *Options, validator *protection.Validator, tokens store.TokenStore) *RevocationEndpoint {
	e := &RevocationEndpoint{Endpoint: newEndpoint(), Options: opts, Validator: validator, Tokens: tokens, Now: time.Now}
	reg := e.Registry()
	reg.Register(dispatch.Descriptor{Context: dispatch.ContextExtractRequest, Handler: e.extractMethod})
	reg.Register(dispatch.Descriptor{Context: dispatch.ContextValidateRequest, Handler: e.validateAndRevoke})
	return e
}

func (e *RevocationEndpoint) extractMethod(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	if tx.Method != "" && tx.Method != "POST" {
		return dispatch.Reject(ErrInvalidRequest, "the revocation endpoint only accepts POST", "")
	}
	return dispatch.Continue()
}

func (e *RevocationEndpoint) validateAndRevoke(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	token := tx.Request.Token()
	if token == "" {
		return e.outcome(dispatch.RejectParameter(message.NameToken))
	}

	hint := transaction.TokenKind(tx.Request.TokenTypeHint())
	acceptable := []transaction.TokenKind{transaction.TokenKindAccess, transaction.TokenKindRefresh}
	if hint != "" && hint != transaction.TokenKindAccess && hint != transaction.TokenKindRefresh {
		return e.outcome(dispatch.Reject(ErrUnsupportedTokenType, "", ""))
	}

	principal, err := e.Validator.Validate(ctx, token, acceptable, hint)
	if err != nil {
		return e.outcome(dispatch.Reject(ErrInvalidToken, "", ""))
	}

	requester := tx.Request.ClientID()
	if requester != "" && !principal.HasAudience(requester) {
		return e.outcome(dispatch.Reject(ErrInvalidToken, "", ""))
	}

	if e.Tokens != nil && principal.TokenID != "" {
		record, err := e.Tokens.FindByID(ctx, principal.TokenID)
		if err != nil {
			return e.outcome(dispatch.Reject(ErrInvalidToken, "", ""))
		}
		if record.Status != store.TokenValid {
			return e.outcome(dispatch.Reject(ErrInvalidToken, "", ""))
		}
		if _, err := e.Tokens.TryRevoke(ctx, record.ID); err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
	}

	return dispatch.Handled()
}

// outcome applies the normalization rule: when NormalizeRevocation is set,
// a rejection that would reveal "nothing happened" is downgraded to a
// silent Handled so an unknown/invalid token returns an empty 200, per
// RFC 7009 and spec §9.
func (e *RevocationEndpoint) outcome(res dispatch.Result) dispatch.Result {
	if res.Outcome == dispatch.OutcomeRejected && e.Options.NormalizeRevocation {
		return dispatch.Handled()
	}
	return res
}
