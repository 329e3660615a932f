package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/protection"
)

func TestDiscoveryEndpointAdvertisesEveryEndpointPath(t *testing.T) {
	opts := NewOptions("https://issuer.example")
	e := NewDiscoveryEndpoint(opts)
	tx := newTokenTx(formRequest(map[string]string{}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)

	assert.Equal(t, "https://issuer.example", tx.Response.Get("issuer").StringValue())
	assert.Equal(t, "https://issuer.example"+DefaultTokenPath, tx.Response.Get("token_endpoint").StringValue())
	assert.Equal(t, "https://issuer.example"+DefaultAuthorizationPath, tx.Response.Get("authorization_endpoint").StringValue())
	assert.Equal(t, "https://issuer.example"+DefaultJWKSPath, tx.Response.Get("jwks_uri").StringValue())
	assert.Equal(t, "https://issuer.example"+DefaultDevicePath, tx.Response.Get("device_authorization_endpoint").StringValue())

	grantTypes := tx.Response.Get("grant_types_supported").StringsValue()
	assert.Contains(t, grantTypes, GrantDeviceCode)
	assert.Contains(t, grantTypes, GrantAuthorizationCode)
}

func TestDiscoveryEndpointHonorsConfiguredGrantTypeAllowlist(t *testing.T) {
	opts := NewOptions("https://issuer.example")
	opts.PermittedGrantTypes = []string{GrantClientCredentials}
	e := NewDiscoveryEndpoint(opts)
	tx := newTokenTx(formRequest(map[string]string{}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)
	assert.Equal(t, []string{GrantClientCredentials}, tx.Response.Get("grant_types_supported").StringsValue())
}

func TestJWKSEndpointServesCurrentSigningKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ring := protection.NewKeyRing(protection.StaticRotationStrategy(key))
	require.NoError(t, ring.RotateKey())

	e := NewJWKSEndpoint(ring)
	tx := newTokenTx(formRequest(map[string]string{}))

	outcome := e.Process(context.Background(), tx)
	require.Equal(t, dispatch.OutcomeHandled, outcome)

	raw := tx.Response.Get("keys").RawValue()
	require.NotEmpty(t, raw)
	var keys []jose.JSONWebKey
	require.NoError(t, json.Unmarshal(raw, &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, ring.SigningKey().KeyID, keys[0].KeyID)
}

func TestJWKSEndpointKeepsRetiredKeyForVerification(t *testing.T) {
	// A negative rotation frequency forces every RotateKey call past its
	// own next-rotation instant immediately, producing two live keys
	// without reaching into the ring's unexported scheduling state.
	ring := protection.NewKeyRing(protection.DefaultRotationStrategy(-time.Hour, 24*time.Hour))
	require.NoError(t, ring.RotateKey())
	firstKeyID := ring.SigningKey().KeyID
	require.NoError(t, ring.RotateKey())
	secondKeyID := ring.SigningKey().KeyID
	require.NotEqual(t, firstKeyID, secondKeyID)

	e := NewJWKSEndpoint(ring)
	tx := newTokenTx(formRequest(map[string]string{}))
	require.Equal(t, dispatch.OutcomeHandled, e.Process(context.Background(), tx))

	raw := tx.Response.Get("keys").RawValue()
	var keys []jose.JSONWebKey
	require.NoError(t, json.Unmarshal(raw, &keys))
	require.Len(t, keys, 2)

	ids := map[string]bool{keys[0].KeyID: true, keys[1].KeyID: true}
	assert.True(t, ids[firstKeyID])
	assert.True(t, ids[secondKeyID])
}
