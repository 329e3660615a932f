package protection

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrAlreadyRotated is returned when another writer rotated the ring first
// — generalized from the teacher's signer/storage rotation strategy, which
// guarded a single RSA signing key the same way against racing instances.
var ErrAlreadyRotated = errors.New("protection: keys already rotated by another instance")

// RotationStrategy describes how often a KeyRing mints new keys and how
// long a retired signing key stays around purely for verification, mirrorin
// the teacher's signer/storage.RotationStrategy but generalized from one
// RSA key to a ring that may hold several simultaneously (so in-flight
// tokens signed by a just-retired key keep validating).
type RotationStrategy struct {
	RotationFrequency time.Duration
	ValidFor          time.Duration
	NewKey            func() (*rsa.PrivateKey, error)
}

// StaticRotationStrategy never rotates — useful for tests and for hosts
// that manage their own external key material.
func StaticRotationStrategy(key *rsa.PrivateKey) RotationStrategy {
	const century = time.Hour * 8760 * 100
	return RotationStrategy{
		RotationFrequency: century,
		ValidFor:          century,
		NewKey:            func() (*rsa.PrivateKey, error) { return key, nil },
	}
}

// DefaultRotationStrategy rotates every rotationFrequency, retaining
// retired public keys for validFor so tokens they signed keep verifying.
func DefaultRotationStrategy(rotationFrequency, validFor time.Duration) RotationStrategy {
	return RotationStrategy{
		RotationFrequency: rotationFrequency,
		ValidFor:          validFor,
		NewKey:            func() (*rsa.PrivateKey, error) { return rsa.GenerateKey(rand.Reader, 2048) },
	}
}

type verificationKey struct {
	public *jose.JSONWebKey
	expiry time.Time
}

// KeyRing holds the signing and encryption key material the Protection
// layer uses for the JWT format, shared read-only by every transaction and
// replaced atomically on rotation (spec §5, "Key rings are shared read-only;
// rotation replaces the ring atomically").
type KeyRing struct {
	mu sync.RWMutex

	signingKey     *jose.JSONWebKey // current private signing key
	signingKeyPub  *jose.JSONWebKey
	verificationKeys []verificationKey

	strategy     RotationStrategy
	nextRotation time.Time
	now          func() time.Time
}

// NewKeyRing returns a ring with no keys yet; call RotateKey (or let the
// caller schedule it) to mint the first signing key.
func NewKeyRing(strategy RotationStrategy) *KeyRing {
	return &KeyRing{strategy: strategy, now: time.Now}
}

// SigningKey returns the current private signing key, or nil if none has
// been minted yet.
func (k *KeyRing) SigningKey() *jose.JSONWebKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.signingKey
}

// VerificationKeys returns every public key that may currently validate a
// signature: the current signing key's public half plus any not-yet-expired
// retired keys.
func (k *KeyRing) VerificationKeys() []*jose.JSONWebKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []*jose.JSONWebKey
	if k.signingKeyPub != nil {
		out = append(out, k.signingKeyPub)
	}
	now := k.now()
	for _, vk := range k.verificationKeys {
		if now.Before(vk.expiry) {
			out = append(out, vk.public)
		}
	}
	return out
}

// JSONWebKeySet returns the public key set as published at the JWKS
// endpoint.
func (k *KeyRing) JSONWebKeySet() jose.JSONWebKeySet {
	keys := k.VerificationKeys()
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, len(keys))}
	for i, key := range keys {
		set.Keys[i] = *key
	}
	return set
}

// NeedsRotation reports whether the ring's next-rotation instant has
// passed.
func (k *KeyRing) NeedsRotation() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return !k.now().Before(k.nextRotation)
}

// RotateKey mints a new signing key, demotes the previous one to
// verification-only, and drops any verification key that's fully expired —
// the same shape as the teacher's signer/storage.RotateKey, generalized
// from a single-slot swap to ring append/prune.
func (k *KeyRing) RotateKey() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Before(k.nextRotation) && !k.nextRotation.IsZero() {
		return nil
	}

	key, err := k.strategy.NewKey()
	if err != nil {
		return fmt.Errorf("protection: generate signing key: %w", err)
	}
	b := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("protection: generate key id: %w", err)
	}
	keyID := hex.EncodeToString(b)

	priv := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: "RS256", Use: "sig"}
	pub := &jose.JSONWebKey{Key: key.Public(), KeyID: keyID, Algorithm: "RS256", Use: "sig"}

	pruned := k.verificationKeys[:0]
	for _, vk := range k.verificationKeys {
		if now.Before(vk.expiry) {
			pruned = append(pruned, vk)
		}
	}
	k.verificationKeys = pruned

	if k.signingKeyPub != nil {
		k.verificationKeys = append(k.verificationKeys, verificationKey{
			public: k.signingKeyPub,
			expiry: now.Add(k.strategy.ValidFor),
		})
	}

	k.signingKey = priv
	k.signingKeyPub = pub
	k.nextRotation = now.Add(k.strategy.RotationFrequency)
	return nil
}
