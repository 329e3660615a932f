package protection

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/authframe/authframe/transaction"
)

// OpaquePrefix is the fixed 5-character marker identifying the
// purpose-tagged opaque format cheaply, without attempting decryption.
const OpaquePrefix = "CfDJ8"

// ErrInvalidToken is returned for any opaque-format failure: malformed
// base64, wrong prefix, AEAD authentication failure, or a payload that
// doesn't decode to a well-formed Principal. The format deliberately does
// not distinguish these cases to a caller, since doing so would leak an
// oracle about why decryption failed.
var ErrInvalidToken = errors.New("protection: invalid token")

// HasOpaquePrefix reports whether token looks like an opaque-format token,
// without attempting to decrypt it.
func HasOpaquePrefix(token string) bool {
	return strings.HasPrefix(token, OpaquePrefix)
}

// OpaqueFormat protects and validates tokens using the purpose-tagged
// symmetric-encryption format: the principal is serialized to a compact
// binary stream (wire.go) and sealed with a key derived per Purpose
// (purpose.go), so a token minted for one purpose can never be opened
// under another.
type OpaqueFormat struct {
	master []byte
}

// NewOpaqueFormat returns an OpaqueFormat deriving all of its per-purpose
// keys from master via HKDF. master should be at least 32 bytes of secret
// entropy; callers typically obtain it from the same key-management seam
// backing the JWT format's signing key.
func NewOpaqueFormat(master []byte) *OpaqueFormat {
	cp := make([]byte, len(master))
	copy(cp, master)
	return &OpaqueFormat{master: cp}
}

// Protect serializes and encrypts principal under purpose, returning the
// base64url ciphertext with the CfDJ8 marker prepended.
func (f *OpaqueFormat) Protect(principal *transaction.Principal, purpose Purpose) (string, error) {
	key, err := purpose.deriveKey(f.master)
	if err != nil {
		return "", err
	}
	plaintext := encodePrincipal(principal)
	ciphertext, err := seal(plaintext, key)
	if err != nil {
		return "", err
	}
	return OpaquePrefix + base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Unprotect decrypts and deserializes token, returning the Principal it
// protects. The caller must supply the exact Purpose the token was
// minted under — a mismatched Form or Kind fails AEAD authentication,
// not just a semantic check, because each differs in its derived key.
func (f *OpaqueFormat) Unprotect(token string, purpose Purpose) (*transaction.Principal, error) {
	if !HasOpaquePrefix(token) {
		return nil, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, OpaquePrefix))
	if err != nil {
		return nil, ErrInvalidToken
	}
	key, err := purpose.deriveKey(f.master)
	if err != nil {
		return nil, ErrInvalidToken
	}
	plaintext, err := open(raw, key)
	if err != nil {
		return nil, ErrInvalidToken
	}
	p, err := decodePrincipal(plaintext)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return p, nil
}
