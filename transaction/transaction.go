// Package transaction defines the per-request mutable context that a
// Dispatcher threads through a handler chain, and the Principal claim
// bundle produced by token validation and consumed by token emission.
package transaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/authframe/authframe/message"
)

// EndpointKind identifies which protocol endpoint a Transaction belongs to.
type EndpointKind int

const (
	EndpointUnknown EndpointKind = iota
	EndpointAuthorization
	EndpointToken
	EndpointIntrospection
	EndpointRevocation
	EndpointDevice
	EndpointVerification
	EndpointUserinfo
	EndpointLogout
	EndpointConfiguration
	EndpointCryptography
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointAuthorization:
		return "authorization"
	case EndpointToken:
		return "token"
	case EndpointIntrospection:
		return "introspection"
	case EndpointRevocation:
		return "revocation"
	case EndpointDevice:
		return "device"
	case EndpointVerification:
		return "verification"
	case EndpointUserinfo:
		return "userinfo"
	case EndpointLogout:
		return "logout"
	case EndpointConfiguration:
		return "configuration"
	case EndpointCryptography:
		return "cryptography"
	default:
		return "unknown"
	}
}

// Key is a typed key into a Transaction's property Bag. Two Keys compare
// equal only when both their name and type parameter match, so handlers
// written against distinct types never collide even if they pick the same
// name by coincidence.
type Key[T any] struct{ name string }

// NewKey creates a typed Bag key. name is only used for diagnostics.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Bag is a typed heterogeneous map used for inter-handler communication
// within a single Transaction's lifetime.
type Bag struct {
	values map[any]any
}

// Set stores a value under a typed key.
func Set[T any](b *Bag, key Key[T], value T) {
	if b.values == nil {
		b.values = make(map[any]any)
	}
	b.values[key] = value
}

// Get retrieves a value previously stored under a typed key.
func Get[T any](b *Bag, key Key[T]) (T, bool) {
	var zero T
	if b.values == nil {
		return zero, false
	}
	v, ok := b.values[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// TokenKind identifies which of the seven token kinds a Principal, or a
// validated/emitted token, represents.
type TokenKind string

const (
	TokenKindAccess            TokenKind = "access_token"
	TokenKindRefresh           TokenKind = "refresh_token"
	TokenKindIdentity          TokenKind = "id_token"
	TokenKindAuthorizationCode TokenKind = "authorization_code"
	TokenKindDeviceCode        TokenKind = "device_code"
	TokenKindUserCode          TokenKind = "user_code"
	TokenKindState             TokenKind = "state"
)

// PKCEMethod is the code-challenge method recorded at authorization time.
type PKCEMethod string

const (
	PKCEPlain PKCEMethod = "plain"
	PKCES256  PKCEMethod = "S256"
)

// Principal is an immutable (once sealed) bundle of named claims describing
// the subject of a token: who it's for, who may present it, what it's
// scoped to, and the token-kind-specific metadata (PKCE challenge, nonce,
// ...) needed to validate or re-emit it.
type Principal struct {
	Subject         string
	Audiences       []string
	Presenters      []string
	Resources       []string
	Scopes          []string
	TokenID         string
	AuthorizationID string
	TokenKind       TokenKind
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RedirectURI     string
	CodeChallenge   string
	CodeChallengeMethod PKCEMethod
	Nonce           string

	claims map[string][]string
	hostProperties []byte
	sealed         bool
}

// NewPrincipal returns a Principal ready for claim assignment.
func NewPrincipal(kind TokenKind) *Principal {
	return &Principal{TokenKind: kind, claims: make(map[string][]string)}
}

// SetClaim assigns one or more values to a named claim. It panics if called
// after Seal, since sealed principals are immutable by contract.
func (p *Principal) SetClaim(name string, values ...string) {
	if p.sealed {
		panic("transaction: cannot mutate a sealed Principal")
	}
	if p.claims == nil {
		p.claims = make(map[string][]string)
	}
	p.claims[name] = values
}

// Claim returns the first value of a named claim, or "" if absent.
func (p *Principal) Claim(name string) string {
	vs := p.claims[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Claims returns all values of a named claim.
func (p *Principal) Claims(name string) []string {
	return p.claims[name]
}

// HasClaim reports whether a named claim was ever set.
func (p *Principal) HasClaim(name string) bool {
	_, ok := p.claims[name]
	return ok
}

// ClaimNames returns every claim name that has been set, in no particular
// order.
func (p *Principal) ClaimNames() []string {
	names := make([]string, 0, len(p.claims))
	for name := range p.claims {
		names = append(names, name)
	}
	return names
}

// SetHostProperties stashes an opaque, host-defined byte blob alongside the
// principal (the "host-properties blob" of the data model).
func (p *Principal) SetHostProperties(b []byte) { p.hostProperties = b }

// HostProperties returns the opaque host-properties blob, if any.
func (p *Principal) HostProperties() []byte { return p.hostProperties }

// Seal freezes the principal; subsequent SetClaim calls panic. Token
// emission requires a sealed principal.
func (p *Principal) Seal() *Principal {
	p.sealed = true
	return p
}

// Sealed reports whether Seal has been called.
func (p *Principal) Sealed() bool { return p.sealed }

// Expired reports whether now is at or after ExpiresAt.
func (p *Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// HasAudience reports whether aud appears in either Audiences or
// Presenters — the two claim sets OAuth2/OIDC callers are typically
// checked against when confirming entitlement to inspect or revoke a
// token.
func (p *Principal) HasAudience(aud string) bool {
	for _, a := range p.Audiences {
		if a == aud {
			return true
		}
	}
	for _, a := range p.Presenters {
		if a == aud {
			return true
		}
	}
	return false
}

// HasScope reports whether scope is included among the principal's scopes.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Transaction is a single request's mutable context. It is owned
// exclusively by one goroutine for its entire lifetime and must never be
// retained by a handler after that handler returns, nor shared across
// requests.
type Transaction struct {
	ctx context.Context

	IssuerURL string
	Endpoint  EndpointKind
	Request   message.Request
	Response  message.Response

	Logger *slog.Logger

	Bag Bag

	// Principal is populated once token validation succeeds for the
	// current request; handlers downstream of validation consume it.
	Principal *Principal

	// Method is the host-surface HTTP method, populated by the host's
	// extract_request adapter (spec §6's host contract). The core never
	// reads HTTP itself; it only inspects this field.
	Method string

	// BasicUser/BasicPass/HasBasicAuth carry an HTTP Basic-auth header the
	// host parsed during extraction, used by the token/introspection/
	// revocation endpoints to populate client_id/client_secret when a
	// Basic header is present instead of form fields (spec §4.4.1
	// Extract step).
	BasicUser    string
	BasicPass    string
	HasBasicAuth bool

	// Authorization is the raw Authorization header value, if any, as
	// the host's extractor saw it — consumed by the resource package's
	// bearer-extraction stage ahead of a protected endpoint's handlers.
	Authorization string
}

// New returns a Transaction bound to ctx, with an empty Response ready to
// be built incrementally.
func New(ctx context.Context, issuerURL string, kind EndpointKind, req message.Request, logger *slog.Logger) *Transaction {
	return &Transaction{
		ctx:       ctx,
		IssuerURL: issuerURL,
		Endpoint:  kind,
		Request:   req,
		Response:  message.NewResponse(),
		Logger:    logger,
	}
}

// Context returns the transaction's cancellation context.
func (t *Transaction) Context() context.Context { return t.ctx }

// Cancelled reports whether the transaction's context has been cancelled.
func (t *Transaction) Cancelled() bool {
	return t.ctx != nil && t.ctx.Err() != nil
}

