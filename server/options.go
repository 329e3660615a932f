package server

import "time"

// Options is an immutable configuration snapshot shared by reference
// across transactions (spec §5, "Option snapshots are immutable and
// shared by reference"). Construct one with NewOptions and treat it as
// read-only afterward.
type Options struct {
	IssuerURL string

	PermittedGrantTypes []string
	PermittedScopes     []string

	// RefreshReuseLeeway is the window after a refresh token's redemption
	// during which the same token may be presented again without
	// triggering cascade revocation (spec §3, §4.4.1 step 12).
	RefreshReuseLeeway time.Duration

	// NormalizeRevocation makes the revocation endpoint return an empty
	// 200 for unknown/invalid tokens instead of invalid_token, per RFC
	// 7009 and spec §9's design note preserving both behaviors behind a
	// flag rather than picking one.
	NormalizeRevocation bool

	// ReissueIdentityTokenOnRefresh mints a fresh id_token on a refresh
	// grant when the original authorization included the openid scope.
	// Off by default: RFC 6749/OIDC do not require it.
	ReissueIdentityTokenOnRefresh bool
}

// NewOptions returns an Options with spec-mandated defaults:
// NormalizeRevocation true, ReissueIdentityTokenOnRefresh false, and the
// permitted grant/scope sets empty (meaning: accept what the cascade
// otherwise allows — callers set these explicitly for a production
// deployment).
func NewOptions(issuerURL string) *Options {
	return &Options{
		IssuerURL:           issuerURL,
		RefreshReuseLeeway:  0,
		NormalizeRevocation: true,
	}
}

// supportedGrantTypes returns the grant types advertised at discovery:
// the configured allowlist if the host set one, else the full default
// set this package implements.
func (o *Options) supportedGrantTypes() []string {
	if len(o.PermittedGrantTypes) > 0 {
		return o.PermittedGrantTypes
	}
	return []string{GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials, GrantPassword, GrantDeviceCode}
}

func (o *Options) grantTypePermitted(grantType string) bool {
	if len(o.PermittedGrantTypes) == 0 {
		return true
	}
	for _, g := range o.PermittedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}
