package server

import (
	"context"
	"encoding/json"
	"sort"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/transaction"
)

// DiscoveryEndpoint serves the OIDC/OAuth2 metadata document (RFC 8414
// §2 / OIDC Discovery §3), grounded on the teacher's
// server/handlers.go discovery struct and discoveryHandler. Unlike the
// teacher, which precomputes and caches marshaled bytes, this fills a
// message.Response directly so the document composes with the rest of
// the core's response model instead of being a one-off byte blob.
type DiscoveryEndpoint struct {
	*Endpoint
	opts *Options
}

func NewDiscoveryEndpoint(opts *Options) *DiscoveryEndpoint {
	e := &DiscoveryEndpoint{Endpoint: newEndpoint(), opts: opts}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.serve})
	return e
}

func (e *DiscoveryEndpoint) serve(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	o := e.opts
	resp := tx.Response

	// Note: this is the top-level "issuer" discovery field, distinct from
	// the "iss" token claim Response.SetIssuer writes elsewhere.
	resp.SetString("issuer", o.IssuerURL)
	resp.SetString("authorization_endpoint", o.IssuerURL+DefaultAuthorizationPath)
	resp.SetString("token_endpoint", o.IssuerURL+DefaultTokenPath)
	resp.SetString("jwks_uri", o.IssuerURL+DefaultJWKSPath)
	resp.SetString("userinfo_endpoint", o.IssuerURL+DefaultUserinfoPath)
	resp.SetString("revocation_endpoint", o.IssuerURL+DefaultRevocationPath)
	resp.SetString("introspection_endpoint", o.IssuerURL+DefaultIntrospectionPath)
	resp.SetString("device_authorization_endpoint", o.IssuerURL+DefaultDevicePath)
	resp.SetString("end_session_endpoint", o.IssuerURL+DefaultLogoutPath)

	responseTypes := []string{ResponseTypeCode}
	sort.Strings(responseTypes)
	_ = resp.Set("response_types_supported", message.Strings(responseTypes))
	_ = resp.Set("grant_types_supported", message.Strings(o.supportedGrantTypes()))
	_ = resp.Set("subject_types_supported", message.Strings([]string{"public"}))
	_ = resp.Set("id_token_signing_alg_values_supported", message.Strings([]string{string(jose.RS256)}))
	_ = resp.Set("code_challenge_methods_supported", message.Strings([]string{
		string(transaction.PKCES256), string(transaction.PKCEPlain),
	}))
	_ = resp.Set("scopes_supported", message.Strings([]string{
		ScopeOpenID, ScopeProfile, ScopeEmail, ScopePhone, ScopeAddress, ScopeOfflineAccess,
	}))
	_ = resp.Set("token_endpoint_auth_methods_supported", message.Strings([]string{
		"client_secret_basic", "client_secret_post",
	}))
	_ = resp.Set("claims_supported", message.Strings([]string{
		"iss", "sub", "aud", "iat", "exp", "email", "email_verified",
		"name", "given_name", "family_name", "preferred_username",
	}))

	return dispatch.Handled()
}

// JWKSEndpoint serves the current signing key plus any still-valid
// retired verification keys, grounded on the teacher's
// server/handlers.go handlePublicKeys (minus its storage.GetKeys round
// trip, since protection.KeyRing already holds the keys in memory).
type JWKSEndpoint struct {
	*Endpoint
	ring *protection.KeyRing
}

func NewJWKSEndpoint(ring *protection.KeyRing) *JWKSEndpoint {
	e := &JWKSEndpoint{Endpoint: newEndpoint(), ring: ring}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.serve})
	return e
}

func (e *JWKSEndpoint) serve(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	set := e.ring.JSONWebKeySet()
	keys, err := json.Marshal(set.Keys)
	if err != nil {
		return dispatch.Reject(ErrServerError, "", "")
	}
	_ = tx.Response.Set("keys", message.JSON(keys))
	return dispatch.Handled()
}
