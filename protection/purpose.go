package protection

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/authframe/authframe/transaction"
)

// Form distinguishes an inline (self-contained) opaque token from a
// reference token whose payload is resolved from the store.
type Form string

const (
	FormInline    Form = "inline"
	FormReference Form = "reference"
)

// Purpose is the ordered tuple of short strings that uniquely determines
// the derived key for the opaque format: (role, token kind, form). Two
// purposes that differ in any element derive unrelated keys, which is what
// guarantees a token minted for one kind can never be decrypted as another
// (spec §4.3, §8).
type Purpose struct {
	Role string // "server", "client", "validation"
	Kind transaction.TokenKind
	Form Form
}

// vector renders the purpose as the ordered byte sequence fed to HKDF's
// info parameter.
func (p Purpose) vector() []byte {
	return []byte("authframe-token-protection:" + p.Role + ":" + string(p.Kind) + ":" + string(p.Form))
}

// deriveKey derives a 256-bit AES key from master for this purpose using
// HKDF-SHA256. Distinct purposes always yield distinct, unrelated keys.
func (p Purpose) deriveKey(master []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, p.vector())
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
