package protection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/authframe/authframe/transaction"
)

// wireVersion tags the binary principal encoding so a future format change
// can be detected rather than silently misparsed.
const wireVersion byte = 1

var errMalformedWire = errors.New("protection: malformed opaque payload")

type wireWriter struct{ buf bytes.Buffer }

func (w *wireWriter) string(s string) {
	binary.Write(&w.buf, binary.BigEndian, uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *wireWriter) strings(ss []string) {
	binary.Write(&w.buf, binary.BigEndian, uint32(len(ss)))
	for _, s := range ss {
		w.string(s)
	}
}

func (w *wireWriter) bytes(b []byte) {
	binary.Write(&w.buf, binary.BigEndian, uint32(len(b)))
	w.buf.Write(b)
}

func (w *wireWriter) int64(v int64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

type wireReader struct {
	buf *bytes.Reader
}

func (r *wireReader) string() (string, error) {
	var n uint32
	if err := binary.Read(r.buf, binary.BigEndian, &n); err != nil {
		return "", errMalformedWire
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil && n > 0 {
		return "", errMalformedWire
	}
	return string(b), nil
}

func (r *wireReader) strings() ([]string, error) {
	var n uint32
	if err := binary.Read(r.buf, binary.BigEndian, &n); err != nil {
		return nil, errMalformedWire
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *wireReader) bytesVal() ([]byte, error) {
	var n uint32
	if err := binary.Read(r.buf, binary.BigEndian, &n); err != nil {
		return nil, errMalformedWire
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.buf.Read(b); err != nil {
			return nil, errMalformedWire
		}
	}
	return b, nil
}

func (r *wireReader) int64Val() (int64, error) {
	var v int64
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, errMalformedWire
	}
	return v, nil
}

// encodePrincipal renders a Principal to the compact binary stream the
// opaque format protects: version tag, identity count (always 1 — this
// module models one claims identity per principal), the identity's claims,
// then scheme-level properties (the top-level token metadata plus the
// host-properties blob).
func encodePrincipal(p *transaction.Principal) []byte {
	w := &wireWriter{}
	w.buf.WriteByte(wireVersion)
	w.buf.WriteByte(1) // identity count

	names := p.ClaimNames()
	binary.Write(&w.buf, binary.BigEndian, uint32(len(names)))
	for _, name := range names {
		w.string(name)
		w.strings(p.Claims(name))
	}

	w.string(p.Subject)
	w.strings(p.Audiences)
	w.strings(p.Presenters)
	w.strings(p.Resources)
	w.strings(p.Scopes)
	w.string(p.TokenID)
	w.string(p.AuthorizationID)
	w.string(string(p.TokenKind))
	w.int64(zeroableUnix(p.CreatedAt))
	w.int64(zeroableUnix(p.ExpiresAt))
	w.string(p.RedirectURI)
	w.string(p.CodeChallenge)
	w.string(string(p.CodeChallengeMethod))
	w.string(p.Nonce)
	w.bytes(p.HostProperties())

	return w.buf.Bytes()
}

func zeroableUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

// decodePrincipal is encodePrincipal's inverse.
func decodePrincipal(data []byte) (*transaction.Principal, error) {
	r := &wireReader{buf: bytes.NewReader(data)}

	version, err := r.buf.ReadByte()
	if err != nil {
		return nil, errMalformedWire
	}
	if version != wireVersion {
		return nil, errMalformedWire
	}
	identityCount, err := r.buf.ReadByte()
	if err != nil || identityCount != 1 {
		return nil, errMalformedWire
	}

	var claimCount uint32
	if err := binary.Read(r.buf, binary.BigEndian, &claimCount); err != nil {
		return nil, errMalformedWire
	}
	p := transaction.NewPrincipal("")
	for i := uint32(0); i < claimCount; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		values, err := r.strings()
		if err != nil {
			return nil, err
		}
		p.SetClaim(name, values...)
	}

	if p.Subject, err = r.string(); err != nil {
		return nil, err
	}
	if p.Audiences, err = r.strings(); err != nil {
		return nil, err
	}
	if p.Presenters, err = r.strings(); err != nil {
		return nil, err
	}
	if p.Resources, err = r.strings(); err != nil {
		return nil, err
	}
	if p.Scopes, err = r.strings(); err != nil {
		return nil, err
	}
	if p.TokenID, err = r.string(); err != nil {
		return nil, err
	}
	if p.AuthorizationID, err = r.string(); err != nil {
		return nil, err
	}
	kind, err := r.string()
	if err != nil {
		return nil, err
	}
	p.TokenKind = transaction.TokenKind(kind)
	createdUnix, err := r.int64Val()
	if err != nil {
		return nil, err
	}
	expiresUnix, err := r.int64Val()
	if err != nil {
		return nil, err
	}
	p.CreatedAt = unixOrZero(createdUnix)
	p.ExpiresAt = unixOrZero(expiresUnix)
	if p.RedirectURI, err = r.string(); err != nil {
		return nil, err
	}
	if p.CodeChallenge, err = r.string(); err != nil {
		return nil, err
	}
	method, err := r.string()
	if err != nil {
		return nil, err
	}
	p.CodeChallengeMethod = transaction.PKCEMethod(method)
	if p.Nonce, err = r.string(); err != nil {
		return nil, err
	}
	hostProps, err := r.bytesVal()
	if err != nil {
		return nil, err
	}
	p.SetHostProperties(hostProps)

	return p, nil
}
