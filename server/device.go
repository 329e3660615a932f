package server

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/protection"
	"github.com/authframe/authframe/store"
	"github.com/authframe/authframe/transaction"
)

// DeviceEndpoint implements the device authorization request (RFC 8628
// §3.1), grounded on the teacher's server/deviceflowhandlers.go. It mints
// a device_code/user_code pair backed by one store record, so the token
// endpoint's device_code grant (validated the same way as
// authorization_code, per spec §4.4.1 step 10) can find it by id and the
// verification endpoint by its user_code reference.
type DeviceEndpoint struct {
	*Endpoint
	Options     *Options
	Validator   *protection.Validator
	Tokens      store.TokenStore
	VerificationURI string
	Now         func() time.Time
}

func NewDeviceEndpoint(opts *Options, validator *protection.Validator, tokens store.TokenStore, verificationURI string) *DeviceEndpoint {
	e := &DeviceEndpoint{Options: opts, Endpoint: newEndpoint(), Validator: validator, Tokens: tokens, VerificationURI: verificationURI, Now: time.Now}
	e.Registry().Register(dispatch.Descriptor{Context: dispatch.ContextHandleRequest, Handler: e.issue})
	return e
}

func (e *DeviceEndpoint) issue(ctx context.Context, tx *transaction.Transaction) dispatch.Result {
	clientID := tx.Request.ClientID()
	if clientID == "" {
		return dispatch.RejectParameter("client_id")
	}

	now := e.Now()
	expiresAt := now.Add(15 * time.Minute)

	deviceCode := transaction.NewPrincipal(transaction.TokenKindDeviceCode)
	deviceCode.Presenters = []string{clientID}
	deviceCode.Scopes = tx.Request.Scopes()
	deviceCode.CreatedAt = now
	deviceCode.ExpiresAt = expiresAt

	userCode := formatUserCode(randomCode(8))

	if e.Tokens != nil {
		// ReferenceID carries the human-entered user_code so the
		// verification endpoint can look this record up by it; Status
		// stays TokenInactive (pending) until verification completes.
		// The record must exist, with its id known, before the principal
		// is sealed: validateTokenPrincipal looks the record up by
		// principal.TokenID during polling, so the two ids must match.
		record := &store.Token{Kind: string(transaction.TokenKindDeviceCode), ReferenceID: userCode, Status: store.TokenInactive, CreatedAt: now, ExpiresAt: expiresAt, ApplicationID: clientID}
		if err := e.Tokens.Create(ctx, record); err != nil {
			return dispatch.Reject(ErrServerError, "", "")
		}
		deviceCode.TokenID = record.ID
	}

	deviceCodeToken, err := e.Validator.Emit(deviceCode.Seal(), protection.Purpose{Role: "server", Kind: transaction.TokenKindDeviceCode, Form: protection.FormInline})
	if err != nil {
		return dispatch.Reject(ErrServerError, "", "")
	}

	tx.Response.SetString("device_code", deviceCodeToken)
	tx.Response.SetString("user_code", userCode)
	tx.Response.SetString("verification_uri", e.VerificationURI)
	tx.Response.SetString("verification_uri_complete", e.VerificationURI+"?user_code="+userCode)
	tx.Response.SetExpiresIn(int64(expiresAt.Sub(now).Seconds()))
	return dispatch.Handled()
}

// randomCode returns n cryptographically random bytes, base32-encoded
// (RFC 4648 standard alphabet, trimmed of padding), matching the teacher's
// general preference for crypto/rand-backed id generation throughout
// pkg/crypto and storage/memory.
func randomCode(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return strings.TrimRight(base32.StdEncoding.EncodeToString(b), "=")
}

// formatUserCode groups a raw code into the "XXXX-XXXX" shape RFC 8628
// recommends for ease of manual entry.
func formatUserCode(raw string) string {
	raw = strings.ToUpper(raw)
	if len(raw) < 8 {
		return raw
	}
	return raw[:4] + "-" + raw[4:8]
}
