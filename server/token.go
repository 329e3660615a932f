package server

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/transaction"
)

// Bag keys threading state between the token endpoint's handlers. Unlike
// untyped string keys, two handlers can only collide if they share both
// name and type, so a grant-specific handler and a generic one never
// clash by accident (spec §9's typed-heterogeneous-map design note).
var (
	keyApplication   = transaction.NewKey[*store.Application]("token.application")
	keyAuthorization = transaction.NewKey[*store.Authorization]("token.authorization")
	keyTokenRecord   = transaction.NewKey[*store.Token]("token.record")
	keyScopes        = transaction.NewKey[[]string]("token.scopes")
)

// TokenEndpoint implements the token endpoint's Extract/Validate/Handle/
// Apply sequence (spec §4.4.1), grounded on the teacher's
// server/tokenhandlers.go and server/oauth2.go cascades, reimplemented as
// a sequence of dispatch handlers over one Registry instead of one large
// function.
type TokenEndpoint struct {
	*Endpoint

	Options        *Options
	Validator      *protection.Validator
	Applications   store.ApplicationStore
	Authorizations store.AuthorizationStore
	Tokens         store.TokenStore
	Scopes         store.ScopeStore
	Now            func() time.Time
}

// NewTokenEndpoint wires the built-in token-endpoint handler chain.
func NewTokenEndpoint(opts *Options, validator *protection.Validator, apps store.ApplicationStore, auths store.AuthorizationStore, toks store.TokenStore, scopes store.ScopeStore) *TokenEndpoint {
	e := &TokenEndpoint{
		Endpoint:       newEndpoint(),
		Options:        opts,
		Validator:      validator,
		Applications:   apps,
		Authorizations: auths,
		Tokens:         toks,
		Scopes:         scopes,
		Now:            time.Now,
	}
	e.registerBuiltins()
	return e
}

func (e *TokenEndpoint) registerBuiltins() {
	reg := e.Registry()

	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextExtractRequest,
		Order:   dispatch.OrderDefault,
		Handler: e.extractMethodAndCredentials,
	})

	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextValidateRequest,
		Order:   dispatch.OrderDefault,
		Handler: e.validateGrantType,
	})
	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextValidateRequest,
		Order:   dispatch.OrderDefault + 10,
		Handler: e.validateGrantParameters,
	})
	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextValidateRequest,
		Order:   dispatch.OrderDefault + 20,
		Handler: e.validateClient,
	})
	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextValidateRequest,
		Order:   dispatch.OrderDefault + 30,
		Handler: e.validatePermissionsAndScopes,
	})
	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextValidateRequest,
		Order:   dispatch.OrderDefault + 40,
		Handler: e.validateTokenPrincipal,
	})

	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextHandleRequest,
		Order:   dispatch.OrderDefault,
		Handler: e.handleGrant,
	})

	reg.Register(dispatch.Descriptor{
		Context: dispatch.ContextApplyResponse,
		Order:   dispatch.OrderDefault,
		Handler: e.applyResponse,
	})
}

// extractMethodAndCredentials rejects non-POST requests and copies a
// Basic-auth header, if present, into client_id/client_secret — spec
// §4.4.1's Extract step.
func (e *TokenEndpoint) extractMethodAndCredentials(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	if tx.Method != "" && tx.Method != "POST" {
		return dispatch.Reject(ErrInvalidRequest, "the token endpoint only accepts POST", "")
	}
	if tx.HasBasicAuth && !tx.Request.Has(message.NameClientID) {
		tx.Request.SetString(message.NameClientID, tx.BasicUser)
		tx.Request.SetString(message.NameClientSecret, tx.BasicPass)
	}
	return dispatch.Continue()
}

func (e *TokenEndpoint) validateGrantType(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	grantType := tx.Request.GrantType()
	if grantType == "" {
		return dispatch.RejectParameter(message.NameGrantType)
	}
	if !e.Options.grantTypePermitted(grantType) {
		return dispatch.Reject(ErrUnsupportedGrantType, "", "")
	}
	return dispatch.Continue()
}

func (e *TokenEndpoint) validateGrantParameters(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	switch tx.Request.GrantType() {
	case GrantAuthorizationCode:
		if tx.Request.ClientID() == "" {
			return dispatch.RejectParameter(message.NameClientID)
		}
		if tx.Request.Code() == "" {
			return dispatch.RejectParameter(message.NameCode)
		}
	case GrantRefreshToken:
		if tx.Request.RefreshToken() == "" {
			return dispatch.RejectParameter(message.NameRefreshToken)
		}
	case GrantClientCredentials:
		if tx.Request.ClientID() == "" {
			return dispatch.RejectParameter(message.NameClientID)
		}
		if tx.Request.ClientSecret() == "" {
			return dispatch.RejectParameter(message.NameClientSecret)
		}
	case GrantPassword:
		if tx.Request.Username() == "" {
			return dispatch.RejectParameter(message.NameUsername)
		}
		if tx.Request.Password() == "" {
			return dispatch.RejectParameter(message.NamePassword)
		}
	case GrantDeviceCode:
		if tx.Request.DeviceCode() == "" {
			return dispatch.RejectParameter(message.NameDeviceCode)
		}
	}
	return dispatch.Continue()
}

// validateClient resolves the requesting application, enforcing the
// public-vs-confidential secret rules of spec §4.4.1 step 7.
func (e *TokenEndpoint) validateClient(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	grantType := tx.Request.GrantType()
	clientID := tx.Request.ClientID()
	if clientID == "" && grantType == GrantPassword {
		return dispatch.Continue() // client identification not required for this grant
	}
	if clientID == "" {
		return dispatch.RejectParameter(message.NameClientID)
	}

	app, err := e.Applications.FindByClientID(ctx, clientID)
	if err != nil {
		return dispatch.Reject(ErrInvalidClient, "", "")
	}

	switch app.ClientType {
	case store.ClientPublic:
		if tx.Request.ClientSecret() != "" {
			return dispatch.Reject(ErrInvalidClient, "public clients must not send a client secret", "")
		}
	default:
		secret := tx.Request.ClientSecret()
		if secret == "" {
			return dispatch.Reject(ErrInvalidClient, "a client secret is required", "")
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(app.ClientSecretHash)) != 1 {
			return dispatch.Reject(ErrInvalidClient, "", "")
		}
	}

	transaction.Set(&tx.Bag, keyApplication, app)
	return dispatch.Continue()
}

// validatePermissionsAndScopes checks endpoint/grant-type/scope
// permission sets (spec §4.4.1 steps 8-9).
func (e *TokenEndpoint) validatePermissionsAndScopes(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	app, ok := transaction.Get(&tx.Bag, keyApplication)
	grantType := tx.Request.GrantType()

	if ok {
		if !permitted(app.PermittedEndpoints, "token") {
			return dispatch.Reject(ErrUnauthorizedClient, "", "")
		}
		if !permitted(app.PermittedGrantTypes, grantType) {
			return dispatch.Reject(ErrUnauthorizedClient, "", "")
		}
	}

	scopes := tx.Request.Scopes()
	for _, s := range scopes {
		if ok && len(app.PermittedScopes) > 0 && !permitted(app.PermittedScopes, s) {
			return dispatch.Reject(ErrInvalidRequest, "", "")
		}
		if e.Scopes != nil {
			if _, err := e.Scopes.FindByName(ctx, s); err != nil {
				if len(e.Options.PermittedScopes) == 0 || !permitted(e.Options.PermittedScopes, s) {
					return dispatch.Reject(ErrInvalidScope, "", "")
				}
			}
		}
	}
	transaction.Set(&tx.Bag, keyScopes, scopes)
	return dispatch.Continue()
}

func permitted(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

// validateTokenPrincipal resolves and validates the authorization-code or
// refresh-token principal: kind match, presenter membership, expiry,
// PKCE, and the store-backed redemption/reuse rules (spec §4.4.1 steps
// 10-13).
func (e *TokenEndpoint) validateTokenPrincipal(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	grantType := tx.Request.GrantType()
	var tokenString string
	var acceptable transaction.TokenKind
	switch grantType {
	case GrantAuthorizationCode:
		tokenString = tx.Request.Code()
		acceptable = transaction.TokenKindAuthorizationCode
	case GrantRefreshToken:
		tokenString = tx.Request.RefreshToken()
		acceptable = transaction.TokenKindRefresh
	case GrantDeviceCode:
		tokenString = tx.Request.DeviceCode()
		acceptable = transaction.TokenKindDeviceCode
	default:
		return dispatch.Continue() // client_credentials/password mint fresh principals in Handle
	}

	principal, err := e.Validator.Validate(ctx, tokenString, []transaction.TokenKind{acceptable}, acceptable)
	if err != nil {
		return dispatch.Reject(ErrInvalidGrant, "", "")
	}
	if principal.Expired(e.Now()) {
		return dispatch.Reject(ErrInvalidGrant, "", "")
	}
	app, hasApp := transaction.Get(&tx.Bag, keyApplication)
	if hasApp && !principal.HasAudience(app.ClientID) {
		return dispatch.Reject(ErrInvalidGrant, "", "")
	}

	if grantType == GrantAuthorizationCode {
		if principal.RedirectURI != "" && principal.RedirectURI != tx.Request.RedirectURI() {
			return dispatch.RejectParameter(message.NameRedirectURI)
		}
		if principal.CodeChallenge != "" {
			verifier := tx.Request.CodeVerifier()
			if verifier == "" {
				return dispatch.RejectParameter(message.NameCodeVerifier)
			}
			if !verifyPKCE(principal.CodeChallengeMethod, verifier, principal.CodeChallenge) {
				return dispatch.Reject(ErrInvalidGrant, "", "")
			}
		}
	}

	// The device_code grant has its own status vocabulary (RFC 8628 §3.5):
	// TokenInactive means the user hasn't completed verification yet
	// (authorization_pending, not invalid_grant), and the record's Subject
	// — populated by VerificationEndpoint.complete once approved — becomes
	// the principal's subject, since the device-code principal itself was
	// minted anonymously.
	if grantType == GrantDeviceCode {
		if e.Tokens == nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
		record, err := e.Tokens.FindByID(ctx, principal.TokenID)
		if err != nil {
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
		switch record.Status {
		case store.TokenValid:
			principal.Subject = record.Subject
		case store.TokenInactive:
			return dispatch.Reject(ErrAuthorizationPending, "", "")
		default:
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
		transaction.Set(&tx.Bag, keyTokenRecord, record)
	}

	if e.Tokens != nil && principal.TokenID != "" && grantType != GrantDeviceCode {
		record, err := e.Tokens.FindByID(ctx, principal.TokenID)
		if err != nil {
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
		switch record.Status {
		case store.TokenValid:
			// fine, proceed
		case store.TokenRedeemed:
			if grantType != GrantRefreshToken {
				return dispatch.Reject(ErrInvalidGrant, "", "")
			}
			if e.Now().Sub(record.RedeemedAt) > e.Options.RefreshReuseLeeway {
				if record.AuthorizationID != "" {
					if err := store.CascadeRevoke(ctx, e.Tokens, record.AuthorizationID); err != nil {
						return dispatch.Reject(ErrServerError, "", "")
					}
				}
				return dispatch.Reject(ErrInvalidGrant, "", "")
			}
			// inside the leeway window: proceed as if still valid.
		default:
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
		transaction.Set(&tx.Bag, keyTokenRecord, record)
	}

	if principal.AuthorizationID != "" && e.Authorizations != nil {
		auth, err := e.Authorizations.FindByID(ctx, principal.AuthorizationID)
		if err != nil || auth.Status != store.AuthorizationValid {
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
		transaction.Set(&tx.Bag, keyAuthorization, auth)
	}

	tx.Principal = principal
	return dispatch.Continue()
}

// handleGrant mints the response tokens: an access token always, a
// refresh token when offline_access was granted and the refresh grant is
// enabled, and an identity token for OIDC flows. For the authorization
// code / refresh grants the inbound token record is marked redeemed; a
// fresh refresh record is linked to the same authorization id.
func (e *TokenEndpoint) handleGrant(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	grantType := tx.Request.GrantType()
	scopes, _ := transaction.Get(&tx.Bag, keyScopes)
	app, _ := transaction.Get(&tx.Bag, keyApplication)

	var subject, authorizationID string
	if tx.Principal != nil {
		subject = tx.Principal.Subject
		authorizationID = tx.Principal.AuthorizationID
		if len(scopes) == 0 {
			scopes = tx.Principal.Scopes
		}
	} else {
		subject = tx.Request.Username()
	}

	if record, ok := transaction.Get(&tx.Bag, keyTokenRecord); ok && record.Status == store.TokenValid && e.Tokens != nil {
		if ok, err := e.Tokens.TryRedeem(ctx, record.ID, e.Now()); err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		} else if !ok {
			return dispatch.Reject(ErrInvalidGrant, "", "")
		}
	}

	access := transaction.NewPrincipal(transaction.TokenKindAccess)
	access.Subject = subject
	access.Scopes = scopes
	access.AuthorizationID = authorizationID
	access.CreatedAt = e.Now()
	access.ExpiresAt = access.CreatedAt.Add(time.Hour)
	if app != nil {
		access.Presenters = []string{app.ClientID}
	}
	if err := e.createTokenRecord(ctx, access, app); err != nil {
		return dispatch.Reject(ErrServerError, "", "")
	}
	accessToken, err := e.Validator.Emit(access.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindAccess, Form: protection.FormInline})
	if err != nil {
		return dispatch.Reject(ErrServerError, "", "")
	}
	tx.Response.SetAccessToken(accessToken)
	tx.Response.SetTokenType("Bearer")
	tx.Response.SetExpiresIn(int64(access.ExpiresAt.Sub(access.CreatedAt).Seconds()))
	if len(scopes) > 0 {
		tx.Response.SetScope(scopes)
	}

	offlineAccess := contains(scopes, ScopeOfflineAccess)
	if offlineAccess && e.Options.grantTypePermitted(GrantRefreshToken) {
		refresh := transaction.NewPrincipal(transaction.TokenKindRefresh)
		refresh.Subject = subject
		refresh.Scopes = scopes
		refresh.AuthorizationID = authorizationID
		refresh.CreatedAt = e.Now()
		refresh.ExpiresAt = refresh.CreatedAt.Add(30 * 24 * time.Hour)
		if app != nil {
			refresh.Presenters = []string{app.ClientID}
		}
		if err := e.createTokenRecord(ctx, refresh, app); err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
		refreshToken, err := e.Validator.Emit(refresh.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindRefresh, Form: protection.FormInline})
		if err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
		tx.Response.SetRefreshToken(refreshToken)
	}

	if contains(scopes, ScopeOpenID) && (tx.Principal == nil || e.Options.ReissueIdentityTokenOnRefresh || grantType != GrantRefreshToken) {
		identity := transaction.NewPrincipal(transaction.TokenKindIdentity)
		identity.Subject = subject
		identity.CreatedAt = e.Now()
		identity.ExpiresAt = identity.CreatedAt.Add(time.Hour)
		if app != nil {
			identity.Audiences = []string{app.ClientID}
		}
		idToken, err := e.Validator.Emit(identity.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindIdentity, Form: protection.FormInline})
		if err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
		tx.Response.SetIDToken(idToken)
	}

	return dispatch.Handled()
}

// createTokenRecord persists a store.Token row for principal (access or
// refresh) and assigns the new row's id back to principal.TokenID before
// it gets sealed, so the token can be found again later — by
// validateTokenPrincipal on refresh-grant redemption, and by the
// revocation/introspection endpoints on lookup. Without this, a minted
// token would carry an empty TokenID and no store record would ever back
// it, making reuse-leeway detection, cascade revocation, and explicit
// revocation all unreachable for tokens this endpoint actually issues.
func (e *TokenEndpoint) createTokenRecord(ctx context.Context, principal *transaction.Principal, app *store.Application) error {
	if e.Tokens == nil {
		return nil
	}
	record := &store.Token{
		Kind:            string(principal.TokenKind),
		Status:          store.TokenValid,
		Subject:         principal.Subject,
		AuthorizationID: principal.AuthorizationID,
		CreatedAt:       principal.CreatedAt,
		ExpiresAt:       principal.ExpiresAt,
	}
	if app != nil {
		record.ApplicationID = app.ClientID
	}
	if err := e.Tokens.Create(ctx, record); err != nil {
		return err
	}
	principal.TokenID = record.ID
	return nil
}

func (e *TokenEndpoint) applyResponse(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	// RFC 6749 §5.1's Cache-Control/Pragma headers are a transport
	// concern the host adapter sets when it writes the HTTP response
	// (see cmd/authframed/httpadapter.go's httpApplier); nothing here
	// needs to touch the response document for it.
	return dispatch.Continue()
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
