package protection

import (
	"context"
	"errors"

	"github.com/authframe/authframe/transaction"
)

// ReferenceStore resolves an opaque reference token to its protected
// payload, the indirection spec §4.3 describes: "If token persistence is
// enabled for the token's kind, the token string stored by the client is
// an opaque reference; on validation, the reference is looked up in the
// store and the payload is resolved from the record."
type ReferenceStore interface {
	// ResolvePayload returns the stored ciphertext payload for a
	// reference id, or ("", false, nil) if no such reference exists.
	ResolvePayload(ctx context.Context, reference string) (payload string, ok bool, err error)
}

// priorityOrder is the fixed fallback order spec §4.3 step 2 describes for
// when the acceptable-kind set is empty: hint first (handled by the
// caller), then this sequence.
var priorityOrder = []transaction.TokenKind{
	transaction.TokenKindAccess,
	transaction.TokenKindRefresh,
	transaction.TokenKindAuthorizationCode,
	transaction.TokenKindDeviceCode,
	transaction.TokenKindUserCode,
}

// Validator dispatches an incoming token string to the JWT or opaque
// format and, within a format, to the right purpose/kind, following the
// candidate-ordering rules of spec §4.3.
type Validator struct {
	JWT    *JWTFormat
	Opaque *OpaqueFormat
	Role   string // fed into the purpose vector, e.g. "server"

	// References resolves reference-token indirection when non-nil. A nil
	// value operates in degraded mode: every token is treated as
	// self-contained.
	References ReferenceStore
}

// candidates returns the ordered list of kinds to attempt, applying the
// acceptable-set-size rules of spec §4.3 steps 2-4.
func candidates(acceptable []transaction.TokenKind, hint transaction.TokenKind) []transaction.TokenKind {
	if len(acceptable) == 1 {
		return acceptable
	}
	base := priorityOrder
	if len(acceptable) > 1 {
		base = filterByMembership(priorityOrder, acceptable)
	}
	var ordered []transaction.TokenKind
	seen := make(map[transaction.TokenKind]bool)
	if hint != "" {
		for _, k := range base {
			if k == hint {
				ordered = append(ordered, k)
				seen[k] = true
			}
		}
	}
	for _, k := range base {
		if !seen[k] {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}
	return ordered
}

// filterByMembership returns the members of order that also appear in
// acceptable, preserving order's sequence rather than acceptable's, so
// candidate ordering stays anchored to the fixed priorityOrder even when a
// caller's acceptable-kind set is supplied out of that order. Any
// acceptable kind priorityOrder doesn't name (there are a couple — id_token
// and state aren't validator candidates in the fixed priority sequence) is
// appended afterward in the caller's order, so a kind acceptable never
// silently drops out of consideration.
func filterByMembership(order, acceptable []transaction.TokenKind) []transaction.TokenKind {
	inOrder := make(map[transaction.TokenKind]bool, len(order))
	for _, k := range order {
		inOrder[k] = true
	}
	allowed := make(map[transaction.TokenKind]bool, len(acceptable))
	for _, k := range acceptable {
		allowed[k] = true
	}
	var filtered []transaction.TokenKind
	for _, k := range order {
		if allowed[k] {
			filtered = append(filtered, k)
		}
	}
	for _, k := range acceptable {
		if !inOrder[k] {
			filtered = append(filtered, k)
		}
	}
	return filtered
}

// Validate resolves token to a Principal. acceptable is the (possibly
// empty) set of token kinds the caller will accept; hint is the
// `token_type_hint` parameter, if any. On success the returned Principal's
// TokenKind is guaranteed to be a member of acceptable when acceptable is
// non-empty.
func (v *Validator) Validate(ctx context.Context, token string, acceptable []transaction.TokenKind, hint transaction.TokenKind) (*transaction.Principal, error) {
	order := candidates(acceptable, hint)

	var tryOpaque, tryJWTFirst bool
	if HasOpaquePrefix(token) {
		tryOpaque = true
	} else {
		tryJWTFirst = true
	}

	attempt := func(form Form) (*transaction.Principal, error) {
		for _, kind := range order {
			p, err := v.validateOpaque(ctx, token, kind, form)
			if err == nil {
				return p, nil
			}
		}
		return nil, ErrInvalidToken
	}

	if tryOpaque {
		if p, err := attempt(FormReference); err == nil && acceptableKind(p.TokenKind, acceptable) {
			return p.Seal(), nil
		}
		if p, err := attempt(FormInline); err == nil && acceptableKind(p.TokenKind, acceptable) {
			return p.Seal(), nil
		}
		return nil, ErrInvalidToken
	}

	if tryJWTFirst && v.JWT != nil {
		if p, err := v.JWT.Validate(token); err == nil && acceptableKind(p.TokenKind, acceptable) {
			return p.Seal(), nil
		}
	}
	if p, err := attempt(FormReference); err == nil && acceptableKind(p.TokenKind, acceptable) {
		return p.Seal(), nil
	}
	if p, err := attempt(FormInline); err == nil && acceptableKind(p.TokenKind, acceptable) {
		return p.Seal(), nil
	}
	return nil, ErrInvalidToken
}

func acceptableKind(kind transaction.TokenKind, acceptable []transaction.TokenKind) bool {
	if len(acceptable) == 0 {
		return true
	}
	for _, k := range acceptable {
		if k == kind {
			return true
		}
	}
	return false
}

// validateOpaque attempts to resolve token as an opaque token of the given
// kind and form. When form is FormReference and a ReferenceStore is
// configured, the token is first treated as a reference id and resolved
// to its stored payload before the purpose-tagged decryption is retried
// against that payload — re-running protection validation against the
// recorded payload, per spec §4.3.
func (v *Validator) validateOpaque(ctx context.Context, token string, kind transaction.TokenKind, form Form) (*transaction.Principal, error) {
	if v.Opaque == nil {
		return nil, ErrInvalidToken
	}
	purpose := Purpose{Role: v.Role, Kind: kind, Form: form}

	if form == FormReference {
		if v.References == nil {
			return nil, ErrInvalidToken
		}
		payload, ok, err := v.References.ResolvePayload(ctx, token)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidToken
		}
		return v.Opaque.Unprotect(payload, purpose)
	}
	return v.Opaque.Unprotect(token, purpose)
}

// ErrNoProtectionConfigured is returned by Emit helpers when neither format
// is wired for the requested purpose.
var ErrNoProtectionConfigured = errors.New("protection: no format configured")

// Emit protects principal for purpose using the format this Validator is
// configured with: opaque when an Opaque format is set, JWT otherwise.
// The purpose's Form does not affect the choice. Hosts that need a specific
// format should call JWTFormat.Protect / OpaqueFormat.Protect directly;
// Emit exists for the common case of "whatever this server is configured
// to mint."
func (v *Validator) Emit(principal *transaction.Principal, purpose Purpose) (string, error) {
	if v.Opaque != nil {
		return v.Opaque.Protect(principal, purpose)
	}
	if v.JWT != nil {
		return v.JWT.Protect(principal, purpose)
	}
	return "", ErrNoProtectionConfigured
}
