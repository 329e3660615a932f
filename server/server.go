package server

import (
	"context"
	"log/slog"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/message"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/transaction"
)

// RequestExtractor is the host's extract_request adapter (spec §6): it
// populates a request Message from whatever the host's request surface
// looks like (an *http.Request, a test fixture, ...), plus any Basic
// auth credentials the host already parsed and the raw Authorization
// header value (consumed by the resource package's bearer-extraction
// stage ahead of the userinfo endpoint's own handlers). The core never
// reads HTTP itself — grounded on the teacher's pattern of each handler
// in server/handlers.go calling r.ParseForm() itself, generalized here
// into a single seam the host implements once.
type RequestExtractor interface {
	Extract(ctx context.Context, host any) (msg *message.Message, method string, basicUser, basicPass string, hasBasicAuth bool, authorization string, err error)
}

// ResponseApplier is the host's apply_response adapter (spec §6): it
// writes an HTTP status and the Response's fields back onto whatever
// the host's response surface looks like.
type ResponseApplier interface {
	Apply(ctx context.Context, host any, status int, resp message.Response) error
}

// Config configures a Server, grounded on the teacher's server/server.go
// Config struct narrowed to this core's concerns (issuer, stores,
// protection, metrics) plus the Options already built up in options.go.
type Config struct {
	Options      *Options
	Validator    *protection.Validator
	KeyRing      *protection.KeyRing
	Applications store.ApplicationStore
	Authorizations store.AuthorizationStore
	Tokens       store.TokenStore
	Scopes       store.ScopeStore
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Server wires every endpoint's Registry/Dispatcher pair together behind
// one entry point, matching the teacher's server/server.go role as the
// single object a host constructs and then dispatches every wire
// request through.
type Server struct {
	cfg Config

	token         *TokenEndpoint
	revocation    *RevocationEndpoint
	introspection *IntrospectionEndpoint
	authorization *AuthorizationEndpoint
	device        *DeviceEndpoint
	verification  *VerificationEndpoint
	userinfo      *UserinfoEndpoint
	logout        *LogoutEndpoint
	discovery     *DiscoveryEndpoint
	jwks          *JWKSEndpoint
}

// New assembles a Server from cfg. Every endpoint is wired from the same
// shared Options/Validator/store set, matching spec §5's "option
// snapshots are immutable and shared by reference" design note.
func New(cfg Config) *Server {
	verificationURI := cfg.Options.IssuerURL + DefaultVerificationPath
	return &Server{
		cfg:           cfg,
		token:         NewTokenEndpoint(cfg.Options, cfg.Validator, cfg.Applications, cfg.Authorizations, cfg.Tokens, cfg.Scopes),
		revocation:    NewRevocationEndpoint(cfg.Options, cfg.Validator, cfg.Tokens),
		introspection: NewIntrospectionEndpoint(cfg.Validator),
		authorization: NewAuthorizationEndpoint(),
		device:        NewDeviceEndpoint(cfg.Options, cfg.Validator, cfg.Tokens, verificationURI),
		verification:  NewVerificationEndpoint(cfg.Tokens, cfg.Applications),
		userinfo:      NewUserinfoEndpoint(cfg.Validator),
		logout:        NewLogoutEndpoint(),
		discovery:     NewDiscoveryEndpoint(cfg.Options),
		jwks:          NewJWKSEndpoint(cfg.KeyRing),
	}
}

func (s *Server) endpointFor(kind transaction.EndpointKind) *Endpoint {
	switch kind {
	case transaction.EndpointToken:
		return s.token.Endpoint
	case transaction.EndpointRevocation:
		return s.revocation.Endpoint
	case transaction.EndpointIntrospection:
		return s.introspection.Endpoint
	case transaction.EndpointAuthorization:
		return s.authorization.Endpoint
	case transaction.EndpointDevice:
		return s.device.Endpoint
	case transaction.EndpointVerification:
		return s.verification.Endpoint
	case transaction.EndpointUserinfo:
		return s.userinfo.Endpoint
	case transaction.EndpointLogout:
		return s.logout.Endpoint
	case transaction.EndpointConfiguration:
		return s.discovery.Endpoint
	case transaction.EndpointCryptography:
		return s.jwks.Endpoint
	default:
		return nil
	}
}

// Handle runs one host request through the endpoint identified by kind:
// extract, process through that endpoint's dispatcher, map the outcome
// to an HTTP status, and apply the response — the full Extract/
// Validate/Handle/Apply cycle spec §4.2 and §6 describe, with the host
// adapter pair doing the only I/O. The returned Outcome lets the host
// distinguish a normal document (Handled), an error document
// (Rejected), and a pass-through (Skipped, spec §4.4.4's authorization/
// logout hand-off) without inspecting the response body.
func (s *Server) Handle(ctx context.Context, kind transaction.EndpointKind, extractor RequestExtractor, applier ResponseApplier, hostRequest, hostResponse any) (dispatch.Outcome, error) {
	endpoint := s.endpointFor(kind)
	if endpoint == nil {
		resp := message.NewResponse()
		resp.SetError(ErrServerError, "", "")
		return dispatch.OutcomeRejected, applier.Apply(ctx, hostResponse, StatusFor(ErrServerError), resp)
	}

	msg, method, basicUser, basicPass, hasBasicAuth, authorization, err := extractor.Extract(ctx, hostRequest)
	if err != nil {
		resp := message.NewResponse()
		resp.SetError(ErrInvalidRequest, err.Error(), "")
		return dispatch.OutcomeRejected, applier.Apply(ctx, hostResponse, StatusFor(ErrInvalidRequest), resp)
	}

	tx := transaction.New(ctx, s.cfg.Options.IssuerURL, kind, message.NewRequest(msg), s.cfg.Logger)
	tx.Method = method
	tx.BasicUser = basicUser
	tx.BasicPass = basicPass
	tx.HasBasicAuth = hasBasicAuth
	tx.Authorization = authorization

	process := endpoint.Process
	if s.cfg.Metrics != nil {
		process = s.cfg.Metrics.Instrument(endpoint, nil)
	}
	outcome := process(ctx, tx)

	status := 200
	if outcome == dispatch.OutcomeRejected {
		status = StatusFor(tx.Response.Error())
	}
	return outcome, applier.Apply(ctx, hostResponse, status, tx.Response)
}
