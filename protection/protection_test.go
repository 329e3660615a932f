package protection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authframe/authframe/transaction"
)

func testMaster() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestOpaqueRoundTripPreservesClaims(t *testing.T) {
	f := NewOpaqueFormat(testMaster())
	p := transaction.NewPrincipal(transaction.TokenKindAccess)
	p.Subject = "user-1"
	p.Audiences = []string{"api-a"}
	p.Presenters = []string{"client-1"}
	p.Scopes = []string{"openid", "profile"}
	p.TokenID = "tok-1"
	p.CreatedAt = time.Now().Truncate(time.Second)
	p.ExpiresAt = p.CreatedAt.Add(time.Hour)
	p.SetClaim("family_name", "Doe")
	p.SetClaim("roles", "admin", "user")

	purpose := Purpose{Role: "server", Kind: transaction.TokenKindAccess, Form: FormInline}
	token, err := f.Protect(p, purpose)
	require.NoError(t, err)
	assert.True(t, HasOpaquePrefix(token))

	back, err := f.Unprotect(token, purpose)
	require.NoError(t, err)

	assert.Equal(t, p.Subject, back.Subject)
	assert.Equal(t, p.Audiences, back.Audiences)
	assert.Equal(t, p.Presenters, back.Presenters)
	assert.Equal(t, p.Scopes, back.Scopes)
	assert.Equal(t, p.TokenID, back.TokenID)
	assert.Equal(t, p.CreatedAt.Unix(), back.CreatedAt.Unix())
	assert.Equal(t, p.ExpiresAt.Unix(), back.ExpiresAt.Unix())
	assert.Equal(t, []string{"Doe"}, back.Claims("family_name"))
	assert.Equal(t, []string{"admin", "user"}, back.Claims("roles"))
}

func TestOpaqueDistinctPurposesAreNotInterchangeable(t *testing.T) {
	f := NewOpaqueFormat(testMaster())
	p := transaction.NewPrincipal(transaction.TokenKindAccess)
	p.Subject = "user-1"

	accessPurpose := Purpose{Role: "server", Kind: transaction.TokenKindAccess, Form: FormInline}
	refreshPurpose := Purpose{Role: "server", Kind: transaction.TokenKindRefresh, Form: FormInline}

	token, err := f.Protect(p, accessPurpose)
	require.NoError(t, err)

	_, err = f.Unprotect(token, refreshPurpose)
	assert.ErrorIs(t, err, ErrInvalidToken, "a token minted for one kind must not validate under another")

	referencePurpose := Purpose{Role: "server", Kind: transaction.TokenKindAccess, Form: FormReference}
	_, err = f.Unprotect(token, referencePurpose)
	assert.ErrorIs(t, err, ErrInvalidToken, "inline and reference forms must derive unrelated keys")
}

func TestOpaquePrefixDetectedWithoutDecryption(t *testing.T) {
	assert.True(t, HasOpaquePrefix("CfDJ8abcdef"))
	assert.False(t, HasOpaquePrefix("eyJhbGciOiJSUzI1NiJ9.x.y"))
}

type memoryReferenceStore struct {
	payloads map[string]string
}

func (m *memoryReferenceStore) ResolvePayload(ctx context.Context, reference string) (string, bool, error) {
	p, ok := m.payloads[reference]
	return p, ok, nil
}

func TestValidatorReferenceIndirection(t *testing.T) {
	opaque := NewOpaqueFormat(testMaster())
	p := transaction.NewPrincipal(transaction.TokenKindAccess)
	p.Subject = "user-1"
	p.ExpiresAt = time.Now().Add(time.Hour)

	purpose := Purpose{Role: "server", Kind: transaction.TokenKindAccess, Form: FormReference}
	payload, err := opaque.Protect(p, purpose)
	require.NoError(t, err)

	refStore := &memoryReferenceStore{payloads: map[string]string{"ref-123": payload}}
	v := &Validator{Opaque: opaque, Role: "server", References: refStore}

	back, err := v.Validate(context.Background(), "ref-123", []transaction.TokenKind{transaction.TokenKindAccess}, "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", back.Subject)
	assert.Equal(t, transaction.TokenKindAccess, back.TokenKind)
}

func TestValidatorRejectsKindOutsideAcceptableSet(t *testing.T) {
	opaque := NewOpaqueFormat(testMaster())
	p := transaction.NewPrincipal(transaction.TokenKindRefresh)
	purpose := Purpose{Role: "server", Kind: transaction.TokenKindRefresh, Form: FormInline}
	token, err := opaque.Protect(p, purpose)
	require.NoError(t, err)

	v := &Validator{Opaque: opaque, Role: "server"}
	_, err = v.Validate(context.Background(), token, []transaction.TokenKind{transaction.TokenKindAccess}, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCandidatesHintOrdering(t *testing.T) {
	order := candidates(nil, transaction.TokenKindRefresh)
	require.NotEmpty(t, order)
	assert.Equal(t, transaction.TokenKindRefresh, order[0])
	assert.Equal(t, transaction.TokenKindAccess, order[1])
}

func TestCandidatesSingleAcceptableKindOnly(t *testing.T) {
	order := candidates([]transaction.TokenKind{transaction.TokenKindDeviceCode}, transaction.TokenKindAccess)
	assert.Equal(t, []transaction.TokenKind{transaction.TokenKindDeviceCode}, order)
}

func TestKeyRingRotationDemotesPreviousKeyToVerificationOnly(t *testing.T) {
	ring := NewKeyRing(DefaultRotationStrategy(time.Hour, 24*time.Hour))
	require.NoError(t, ring.RotateKey())
	firstKeyID := ring.SigningKey().KeyID

	ring.nextRotation = time.Time{} // force another rotation
	require.NoError(t, ring.RotateKey())
	secondKeyID := ring.SigningKey().KeyID

	assert.NotEqual(t, firstKeyID, secondKeyID)

	ids := make(map[string]bool)
	for _, k := range ring.VerificationKeys() {
		ids[k.KeyID] = true
	}
	assert.True(t, ids[firstKeyID], "the retired signing key must still verify")
	assert.True(t, ids[secondKeyID])
}

func TestJWTFormatRoundTrip(t *testing.T) {
	ring := NewKeyRing(DefaultRotationStrategy(time.Hour, 24*time.Hour))
	require.NoError(t, ring.RotateKey())
	format := NewJWTFormat(ring, nil)

	p := transaction.NewPrincipal(transaction.TokenKindIdentity)
	p.Subject = "user-42"
	p.Audiences = []string{"client-1"}
	p.Scopes = []string{"openid"}
	p.CreatedAt = time.Now().Truncate(time.Second)
	p.ExpiresAt = p.CreatedAt.Add(time.Minute * 10)

	purpose := Purpose{Role: "server", Kind: transaction.TokenKindIdentity, Form: FormInline}
	token, err := format.Protect(p, purpose)
	require.NoError(t, err)

	back, err := format.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", back.Subject)
	assert.Equal(t, transaction.TokenKindIdentity, back.TokenKind)
}
