// Package server implements the Authorization Server role: the
// Extract/Validate/Handle/Apply state machines for the token, revocation,
// introspection, authorization, device, verification, logout, discovery
// and JWKS endpoints, wired together over the dispatch pipeline.
package server

// Error codes, grant types, and token-type URNs below mirror the
// teacher's server/oauth2.go constant blocks verbatim, since these are
// fixed wire-protocol strings rather than an area with room for a
// different idiom.

const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrInvalidScope            = "invalid_scope"
	ErrInvalidToken            = "invalid_token"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedTokenType    = "unsupported_token_type"
	ErrAccessDenied            = "access_denied"
	ErrInsufficientScope       = "insufficient_scope"
	ErrInsufficientAccess      = "insufficient_access"
	ErrMissingToken            = "missing_token"
	ErrExpiredToken            = "expired_token"
	ErrServerError             = "server_error"
	ErrTemporarilyUnavailable  = "temporarily_unavailable"
	ErrUnsupportedResponseType = "unsupported_response_type"
	// ErrAuthorizationPending/ErrSlowDown are RFC 8628 §3.5 device-flow
	// polling errors: the client should keep polling (pending) or is
	// polling too fast (slow_down), neither of which is fatal like the
	// other error codes above.
	ErrAuthorizationPending = "authorization_pending"
	ErrSlowDown             = "slow_down"
)

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopePhone          = "phone"
	ScopeAddress        = "address"
	ScopeOfflineAccess  = "offline_access"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// Token-type URNs, RFC 8693 §3.
const (
	TokenTypeAccess  = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeRefresh = "urn:ietf:params:oauth:token-type:refresh_token"
	TokenTypeID      = "urn:ietf:params:oauth:token-type:id_token"
)

const (
	ResponseTypeCode = "code"
)

// Default wire paths, configurable by Options.
const (
	DefaultTokenPath         = "/connect/token"
	DefaultAuthorizationPath = "/connect/authorize"
	DefaultIntrospectionPath = "/connect/introspect"
	DefaultRevocationPath    = "/connect/revoke"
	DefaultDevicePath        = "/connect/device"
	DefaultVerificationPath  = "/connect/verify"
	DefaultUserinfoPath      = "/connect/userinfo"
	DefaultLogoutPath        = "/connect/logout"
	DefaultJWKSPath          = "/connect/jwks"
	DefaultDiscoveryPath     = "/.well-known/openid-configuration"
)
