package message

// Well-known parameter names shared across endpoints.
const (
	NameGrantType          = "grant_type"
	NameCode               = "code"
	NameRedirectURI        = "redirect_uri"
	NameScope              = "scope"
	NameState              = "state"
	NameCodeVerifier       = "code_verifier"
	NameCodeChallenge      = "code_challenge"
	NameCodeChallengeMeth  = "code_challenge_method"
	NameClientID           = "client_id"
	NameClientSecret       = "client_secret"
	NameUsername           = "username"
	NamePassword           = "password"
	NameRefreshToken       = "refresh_token"
	NameAccessToken        = "access_token"
	NameIDToken            = "id_token"
	NameTokenType          = "token_type"
	NameExpiresIn          = "expires_in"
	NameToken              = "token"
	NameTokenTypeHint      = "token_type_hint"
	NameDeviceCode         = "device_code"
	NameUserCode           = "user_code"
	NameResponseType       = "response_type"
	NameNonce              = "nonce"
	NameError              = "error"
	NameErrorDescription   = "error_description"
	NameErrorURI           = "error_uri"
	NameIssuer             = "iss"
	NameActive             = "active"
	NamePostLogoutRedirect = "post_logout_redirect_uri"
)

// Request wraps a Message received from the host, exposing typed,
// named accessors for the well-known request fields.
type Request struct {
	*Message
}

// NewRequest wraps an existing Message as a Request.
func NewRequest(m *Message) Request { return Request{Message: m} }

func (r Request) GrantType() string       { return r.Get(NameGrantType).StringValue() }
func (r Request) Code() string            { return r.Get(NameCode).StringValue() }
func (r Request) RedirectURI() string     { return r.Get(NameRedirectURI).StringValue() }
func (r Request) State() string           { return r.Get(NameState).StringValue() }
func (r Request) CodeVerifier() string    { return r.Get(NameCodeVerifier).StringValue() }
func (r Request) ClientID() string        { return r.Get(NameClientID).StringValue() }
func (r Request) ClientSecret() string    { return r.Get(NameClientSecret).StringValue() }
func (r Request) Username() string        { return r.Get(NameUsername).StringValue() }
func (r Request) Password() string        { return r.Get(NamePassword).StringValue() }
func (r Request) RefreshToken() string    { return r.Get(NameRefreshToken).StringValue() }
func (r Request) Token() string           { return r.Get(NameToken).StringValue() }
func (r Request) TokenTypeHint() string   { return r.Get(NameTokenTypeHint).StringValue() }
func (r Request) DeviceCode() string      { return r.Get(NameDeviceCode).StringValue() }
func (r Request) UserCode() string        { return r.Get(NameUserCode).StringValue() }
func (r Request) ResponseType() string    { return r.Get(NameResponseType).StringValue() }
func (r Request) Nonce() string           { return r.Get(NameNonce).StringValue() }
func (r Request) CodeChallenge() string   { return r.Get(NameCodeChallenge).StringValue() }
func (r Request) CodeChallengeMethod() string {
	return r.Get(NameCodeChallengeMeth).StringValue()
}

// Scopes splits the space-delimited "scope" parameter per RFC 6749 §3.3.
func (r Request) Scopes() []string {
	return splitScope(r.Get(NameScope).StringValue())
}

func splitScope(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Response wraps a Message being built incrementally for the client,
// exposing typed, named accessors/setters for the well-known fields.
type Response struct {
	*Message
}

// NewResponse returns an empty Response.
func NewResponse() Response { return Response{Message: New()} }

func (r Response) SetAccessToken(v string)  { r.SetString(NameAccessToken, v) }
func (r Response) SetRefreshToken(v string) { r.SetString(NameRefreshToken, v) }
func (r Response) SetIDToken(v string)      { r.SetString(NameIDToken, v) }
func (r Response) SetTokenType(v string)    { r.SetString(NameTokenType, v) }
func (r Response) SetExpiresIn(seconds int64) {
	_ = r.Set(NameExpiresIn, Integer(seconds))
}
func (r Response) SetScope(scopes []string) {
	_ = r.Set(NameScope, String(joinScope(scopes)))
}
func (r Response) SetError(code, description, uri string) {
	r.SetString(NameError, code)
	if description != "" {
		r.SetString(NameErrorDescription, description)
	}
	if uri != "" {
		r.SetString(NameErrorURI, uri)
	}
}
func (r Response) SetActive(active bool) { _ = r.Set(NameActive, Bool(active)) }
func (r Response) SetIssuer(v string)    { r.SetString(NameIssuer, v) }

func (r Response) Error() string            { return r.Get(NameError).StringValue() }
func (r Response) ErrorDescription() string { return r.Get(NameErrorDescription).StringValue() }
func (r Response) IsError() bool            { return r.Has(NameError) }

func joinScope(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
