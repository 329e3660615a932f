package protection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/authframe/authframe/transaction"
)

// jwtClaims is the on-the-wire shape of the JWT format: the principal's
// claims verbatim, plus iat/exp/jti, plus a private "typ" distinguishing
// the token kind — matching the teacher's newAccessToken/newIDToken shape
// in server/oauth2.go, generalized from two hand-built claim sets to one
// shared encoder covering all seven token kinds.
type jwtClaims struct {
	Subject             string              `json:"sub,omitempty"`
	Audiences           []string            `json:"aud,omitempty"`
	Presenters          []string            `json:"azp,omitempty"`
	Resources           []string            `json:"resources,omitempty"`
	Scope               string              `json:"scope,omitempty"`
	IssuedAt             int64              `json:"iat,omitempty"`
	Expiry               int64              `json:"exp,omitempty"`
	JTI                   string             `json:"jti,omitempty"`
	Type                  string             `json:"typ,omitempty"`
	AuthorizationID       string             `json:"authorization_id,omitempty"`
	RedirectURI           string             `json:"redirect_uri,omitempty"`
	CodeChallenge         string             `json:"code_challenge,omitempty"`
	CodeChallengeMethod   string             `json:"code_challenge_method,omitempty"`
	Nonce                 string             `json:"nonce,omitempty"`
	Extra                 map[string][]string `json:"extra,omitempty"`
}

// ErrUnexpectedTokenKind is returned when a JWT's "typ" claim is outside
// the caller's acceptable-kind set.
var ErrUnexpectedTokenKind = errors.New("protection: unexpected token kind")

// JWTFormat protects and validates tokens using standards-compliant
// signed (and optionally encrypted) JWTs. Signing keys come from a
// rotating KeyRing (keyring.go); an optional second ring supplies
// encryption keys, nested the way OIDC nests a signed JWT inside a JWE.
type JWTFormat struct {
	SigningKeys    *KeyRing
	EncryptionKeys *KeyRing // nil disables encryption
}

// NewJWTFormat returns a JWTFormat signing with signingKeys. Pass a
// non-nil encryptionKeys to additionally encrypt every minted token.
func NewJWTFormat(signingKeys, encryptionKeys *KeyRing) *JWTFormat {
	return &JWTFormat{SigningKeys: signingKeys, EncryptionKeys: encryptionKeys}
}

// Protect signs (and optionally encrypts) principal as a JWT tagged with
// purpose.Kind in its "typ" claim.
func (f *JWTFormat) Protect(principal *transaction.Principal, purpose Purpose) (string, error) {
	signingKey := f.SigningKeys.SigningKey()
	if signingKey == nil {
		return "", fmt.Errorf("protection: no signing key available")
	}

	claims := jwtClaims{
		Subject:             principal.Subject,
		Audiences:           principal.Audiences,
		Presenters:          principal.Presenters,
		Resources:           principal.Resources,
		Scope:               joinSpace(principal.Scopes),
		IssuedAt:            zeroableUnix(principal.CreatedAt),
		Expiry:              zeroableUnix(principal.ExpiresAt),
		JTI:                 principal.TokenID,
		Type:                string(purpose.Kind),
		AuthorizationID:     principal.AuthorizationID,
		RedirectURI:         principal.RedirectURI,
		CodeChallenge:       principal.CodeChallenge,
		CodeChallengeMethod: string(principal.CodeChallengeMethod),
		Nonce:               principal.Nonce,
	}
	if names := principal.ClaimNames(); len(names) > 0 {
		claims.Extra = make(map[string][]string, len(names))
		for _, n := range names {
			claims.Extra[n] = principal.Claims(n)
		}
	}
	if claims.JTI == "" {
		claims.JTI = uuid.NewString()
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	alg, err := signatureAlgorithm(signingKey)
	if err != nil {
		return "", err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: signingKey}, (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", signingKey.KeyID))
	if err != nil {
		return "", err
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", err
	}

	if f.EncryptionKeys == nil {
		return compact, nil
	}
	encKey := f.EncryptionKeys.SigningKey()
	if encKey == nil {
		return "", fmt.Errorf("protection: no encryption key available")
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: encKey.Public()}, (&jose.EncrypterOptions{}).WithContentType("JWT").WithHeader("kid", encKey.KeyID))
	if err != nil {
		return "", err
	}
	jwe, err := encrypter.Encrypt([]byte(compact))
	if err != nil {
		return "", err
	}
	return jwe.CompactSerialize()
}

// Validate verifies (decrypting first if needed) token and returns the
// Principal it carries, tagged with the decoded kind. Kind acceptance is
// the caller's responsibility (protection.Validator enforces it); Validate
// only checks the signature and iat/exp.
func (f *JWTFormat) Validate(token string) (*transaction.Principal, error) {
	compact := token
	if looksEncrypted(token) {
		jwe, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{jose.RSA_OAEP_256}, []jose.ContentEncryption{jose.A256GCM})
		if err != nil {
			return nil, ErrInvalidToken
		}
		if f.EncryptionKeys == nil {
			return nil, ErrInvalidToken
		}
		decKey := f.EncryptionKeys.SigningKey()
		if decKey == nil {
			return nil, ErrInvalidToken
		}
		plaintext, err := jwe.Decrypt(decKey)
		if err != nil {
			return nil, ErrInvalidToken
		}
		compact = string(plaintext)
	}

	jws, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var payload []byte
	verified := false
	for _, key := range f.SigningKeys.VerificationKeys() {
		if p, err := jws.Verify(key); err == nil {
			payload = p
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrInvalidToken
	}

	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	now := time.Now()
	if claims.Expiry != 0 && !now.Before(time.Unix(claims.Expiry, 0)) {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt != 0 && now.Before(time.Unix(claims.IssuedAt, 0)) {
		return nil, ErrInvalidToken
	}

	p := transaction.NewPrincipal(transaction.TokenKind(claims.Type))
	p.Subject = claims.Subject
	p.Audiences = claims.Audiences
	p.Presenters = claims.Presenters
	p.Resources = claims.Resources
	p.Scopes = splitSpace(claims.Scope)
	p.TokenID = claims.JTI
	p.AuthorizationID = claims.AuthorizationID
	p.RedirectURI = claims.RedirectURI
	p.CodeChallenge = claims.CodeChallenge
	p.CodeChallengeMethod = transaction.PKCEMethod(claims.CodeChallengeMethod)
	p.Nonce = claims.Nonce
	p.CreatedAt = unixOrZero(claims.IssuedAt)
	p.ExpiresAt = unixOrZero(claims.Expiry)
	for name, values := range claims.Extra {
		p.SetClaim(name, values...)
	}
	return p, nil
}

func looksEncrypted(token string) bool {
	// A compact JWE has five dot-separated segments; a compact JWS has
	// three. Sniff the segment count rather than attempting both parses.
	dots := 0
	for _, c := range token {
		if c == '.' {
			dots++
		}
	}
	return dots == 4
}

func signatureAlgorithm(key *jose.JSONWebKey) (jose.SignatureAlgorithm, error) {
	switch key.Algorithm {
	case "RS256", "RS384", "RS512", "ES256", "ES384", "ES512":
		return jose.SignatureAlgorithm(key.Algorithm), nil
	case "":
		return jose.RS256, nil
	default:
		return "", fmt.Errorf("protection: unsupported signing algorithm %q", key.Algorithm)
	}
}

func joinSpace(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func splitSpace(s string) []string {
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
