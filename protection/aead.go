package protection

import (
	pkgcrypto "github.com/authframe/authframe/pkg/crypto"
)

// seal encrypts plaintext under key using AES-256-GCM, via the same
// nonce||ciphertext||tag layout pkg/crypto.Encrypt has always used.
func seal(plaintext, key []byte) ([]byte, error) {
	return pkgcrypto.Encrypt(plaintext, key)
}

// open is seal's inverse.
func open(ciphertext, key []byte) ([]byte, error) {
	return pkgcrypto.Decrypt(ciphertext, key)
}
