package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/authframe/authframe/transaction"
)

// verifyPKCE checks verifier against challenge under method, per spec
// §4.4.1 step 11 and the boundary behaviors in spec §8: S256 compares
// BASE64URL(SHA256(verifier)) to challenge; plain compares the verifier
// directly. Unknown methods never match.
func verifyPKCE(method transaction.PKCEMethod, verifier, challenge string) bool {
	switch method {
	case transaction.PKCES256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case transaction.PKCEPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
