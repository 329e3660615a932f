// Package memory is a reference, in-process implementation of the
// store interfaces, suitable for tests and the sample CLI host. It is not
// a production backend: writes are held in plain Go maps guarded by a
// single mutex, with no persistence across process restarts.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authframe/authframe/store"
)

// Config configures a memory store. Logger defaults to slog.Default if nil.
type Config struct {
	Logger *slog.Logger
}

// Store holds every record kind behind one mutex, mirroring the teacher's
// storage/memory package's single-lock memStorage shape generalized from
// one struct of maps to the four entities this core's store contracts
// name.
type Store struct {
	logger *slog.Logger

	mu             sync.Mutex
	applications   map[string]*store.Application
	clientIndex    map[string]string // client id -> application id
	authorizations map[string]*store.Authorization
	tokens         map[string]*store.Token
	referenceIndex map[string]string // reference id -> token id
	scopes         map[string]*store.Scope
}

// Open returns a ready-to-use Store.
func Open(c Config) *Store {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:         logger,
		applications:   make(map[string]*store.Application),
		clientIndex:    make(map[string]string),
		authorizations: make(map[string]*store.Authorization),
		tokens:         make(map[string]*store.Token),
		referenceIndex: make(map[string]string),
		scopes:         make(map[string]*store.Scope),
	}
}

// tx runs fn under the store's lock, the same single-critical-section
// pattern the teacher's storage/memory.memStorage.tx helper uses.
func (s *Store) tx(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func copyApplication(a *store.Application) *store.Application {
	cp := *a
	cp.RedirectURIs = append([]string(nil), a.RedirectURIs...)
	cp.PostLogoutURIs = append([]string(nil), a.PostLogoutURIs...)
	cp.PermittedEndpoints = append([]string(nil), a.PermittedEndpoints...)
	cp.PermittedGrantTypes = append([]string(nil), a.PermittedGrantTypes...)
	cp.PermittedScopes = append([]string(nil), a.PermittedScopes...)
	return &cp
}

func copyToken(t *store.Token) *store.Token {
	cp := *t
	cp.Payload = append([]byte(nil), t.Payload...)
	return &cp
}

func copyAuthorization(a *store.Authorization) *store.Authorization {
	cp := *a
	cp.Scopes = append([]string(nil), a.Scopes...)
	return &cp
}

// Applications returns the store's ApplicationStore view.
func (s *Store) Applications() store.ApplicationStore { return applicationStore{s} }

// Authorizations returns the store's AuthorizationStore view.
func (s *Store) Authorizations() store.AuthorizationStore { return authorizationStore{s} }

// Tokens returns the store's TokenStore view.
func (s *Store) Tokens() store.TokenStore { return tokenStore{s} }

// Scopes returns the store's ScopeStore view.
func (s *Store) Scopes() store.ScopeStore { return scopeStore{s} }

type applicationStore struct{ s *Store }

func (a applicationStore) FindByID(ctx context.Context, id string) (*store.Application, error) {
	var out *store.Application
	var err error
	a.s.tx(func() {
		app, ok := a.s.applications[id]
		if !ok {
			err = store.ErrNotFound
			return
		}
		out = copyApplication(app)
	})
	return out, err
}

func (a applicationStore) FindByClientID(ctx context.Context, clientID string) (*store.Application, error) {
	var out *store.Application
	var err error
	a.s.tx(func() {
		id, ok := a.s.clientIndex[clientID]
		if !ok {
			err = store.ErrNotFound
			return
		}
		out = copyApplication(a.s.applications[id])
	})
	return out, err
}

func (a applicationStore) Create(ctx context.Context, app *store.Application) error {
	var err error
	a.s.tx(func() {
		if app.ID == "" {
			app.ID = uuid.NewString()
		}
		if _, exists := a.s.applications[app.ID]; exists {
			err = store.ErrAlreadyExists
			return
		}
		app.ChangeToken = uuid.NewString()
		a.s.applications[app.ID] = copyApplication(app)
		if app.ClientID != "" {
			a.s.clientIndex[app.ClientID] = app.ID
		}
	})
	return err
}

func (a applicationStore) Update(ctx context.Context, app *store.Application) error {
	var err error
	a.s.tx(func() {
		current, ok := a.s.applications[app.ID]
		if !ok {
			err = store.ErrNotFound
			return
		}
		if app.ChangeToken != "" && app.ChangeToken != current.ChangeToken {
			err = store.ErrConcurrencyConflict
			return
		}
		app.ChangeToken = uuid.NewString()
		a.s.applications[app.ID] = copyApplication(app)
		if app.ClientID != "" {
			a.s.clientIndex[app.ClientID] = app.ID
		}
	})
	return err
}

func (a applicationStore) Delete(ctx context.Context, id string) error {
	var err error
	a.s.tx(func() {
		app, ok := a.s.applications[id]
		if !ok {
			err = store.ErrNotFound
			return
		}
		delete(a.s.applications, id)
		delete(a.s.clientIndex, app.ClientID)
	})
	return err
}

type authorizationStore struct{ s *Store }

func (a authorizationStore) FindByID(ctx context.Context, id string) (*store.Authorization, error) {
	var out *store.Authorization
	var err error
	a.s.tx(func() {
		auth, ok := a.s.authorizations[id]
		if !ok {
			err = store.ErrNotFound
			return
		}
		out = copyAuthorization(auth)
	})
	return out, err
}

func (a authorizationStore) Create(ctx context.Context, auth *store.Authorization) error {
	var err error
	a.s.tx(func() {
		if auth.ID == "" {
			auth.ID = uuid.NewString()
		}
		if _, exists := a.s.authorizations[auth.ID]; exists {
			err = store.ErrAlreadyExists
			return
		}
		auth.ChangeToken = uuid.NewString()
		a.s.authorizations[auth.ID] = copyAuthorization(auth)
	})
	return err
}

func (a authorizationStore) Update(ctx context.Context, auth *store.Authorization) error {
	var err error
	a.s.tx(func() {
		current, ok := a.s.authorizations[auth.ID]
		if !ok {
			err = store.ErrNotFound
			return
		}
		if auth.ChangeToken != "" && auth.ChangeToken != current.ChangeToken {
			err = store.ErrConcurrencyConflict
			return
		}
		auth.ChangeToken = uuid.NewString()
		a.s.authorizations[auth.ID] = copyAuthorization(auth)
	})
	return err
}

func (a authorizationStore) TryRevoke(ctx context.Context, id string) (bool, error) {
	var ok bool
	var err error
	a.s.tx(func() {
		auth, exists := a.s.authorizations[id]
		if !exists {
			err = store.ErrNotFound
			return
		}
		if auth.Status != store.AuthorizationValid {
			ok = false
			return
		}
		auth.Status = store.AuthorizationRevoked
		auth.ChangeToken = uuid.NewString()
		ok = true
	})
	return ok, err
}

type tokenStore struct{ s *Store }

func (t tokenStore) FindByID(ctx context.Context, id string) (*store.Token, error) {
	var out *store.Token
	var err error
	t.s.tx(func() {
		tok, ok := t.s.tokens[id]
		if !ok {
			err = store.ErrNotFound
			return
		}
		out = copyToken(tok)
	})
	return out, err
}

func (t tokenStore) FindByReferenceID(ctx context.Context, referenceID string) (*store.Token, error) {
	var out *store.Token
	var err error
	t.s.tx(func() {
		id, ok := t.s.referenceIndex[referenceID]
		if !ok {
			err = store.ErrNotFound
			return
		}
		out = copyToken(t.s.tokens[id])
	})
	return out, err
}

func (t tokenStore) FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*store.Token, error) {
	var out []*store.Token
	t.s.tx(func() {
		for _, tok := range t.s.tokens {
			if tok.AuthorizationID == authorizationID {
				out = append(out, copyToken(tok))
			}
		}
	})
	return out, nil
}

func (t tokenStore) Create(ctx context.Context, tok *store.Token) error {
	var err error
	t.s.tx(func() {
		if tok.ID == "" {
			tok.ID = uuid.NewString()
		}
		if _, exists := t.s.tokens[tok.ID]; exists {
			err = store.ErrAlreadyExists
			return
		}
		tok.ChangeToken = uuid.NewString()
		t.s.tokens[tok.ID] = copyToken(tok)
		if tok.ReferenceID != "" {
			t.s.referenceIndex[tok.ReferenceID] = tok.ID
		}
	})
	return err
}

func (t tokenStore) Update(ctx context.Context, tok *store.Token) error {
	var err error
	t.s.tx(func() {
		current, ok := t.s.tokens[tok.ID]
		if !ok {
			err = store.ErrNotFound
			return
		}
		if tok.ChangeToken != "" && tok.ChangeToken != current.ChangeToken {
			err = store.ErrConcurrencyConflict
			return
		}
		tok.ChangeToken = uuid.NewString()
		t.s.tokens[tok.ID] = copyToken(tok)
		if tok.ReferenceID != "" {
			t.s.referenceIndex[tok.ReferenceID] = tok.ID
		}
	})
	return err
}

func (t tokenStore) TryRedeem(ctx context.Context, id string, redeemedAt time.Time) (bool, error) {
	var ok bool
	var err error
	t.s.tx(func() {
		tok, exists := t.s.tokens[id]
		if !exists {
			err = store.ErrNotFound
			return
		}
		if tok.Status != store.TokenValid {
			ok = false
			return
		}
		tok.Status = store.TokenRedeemed
		tok.RedeemedAt = redeemedAt
		tok.ChangeToken = uuid.NewString()
		ok = true
	})
	return ok, err
}

func (t tokenStore) TryRevoke(ctx context.Context, id string) (bool, error) {
	var ok bool
	var err error
	t.s.tx(func() {
		tok, exists := t.s.tokens[id]
		if !exists {
			err = store.ErrNotFound
			return
		}
		if tok.Status != store.TokenValid {
			ok = false
			return
		}
		tok.Status = store.TokenRevoked
		tok.ChangeToken = uuid.NewString()
		ok = true
	})
	return ok, err
}

type scopeStore struct{ s *Store }

func (sc scopeStore) FindByName(ctx context.Context, name string) (*store.Scope, error) {
	var out *store.Scope
	var err error
	sc.s.tx(func() {
		scp, ok := sc.s.scopes[name]
		if !ok {
			err = store.ErrNotFound
			return
		}
		cp := *scp
		out = &cp
	})
	return out, err
}

func (sc scopeStore) Create(ctx context.Context, scope *store.Scope) error {
	var err error
	sc.s.tx(func() {
		if _, exists := sc.s.scopes[scope.Name]; exists {
			err = store.ErrAlreadyExists
			return
		}
		cp := *scope
		sc.s.scopes[scope.Name] = &cp
	})
	return err
}

// References returns a protection.ReferenceStore view over the token
// table, resolving a reference id to its stored payload the same way
// tokenStore.FindByReferenceID already does, so a host wiring this
// store into protection.Validator gets reference-token indirection
// (spec §4.3) without a separate backend.
func (s *Store) References() referenceStore { return referenceStore{s} }

type referenceStore struct{ s *Store }

func (r referenceStore) ResolvePayload(ctx context.Context, reference string) (string, bool, error) {
	var payload string
	var ok bool
	r.s.tx(func() {
		id, found := r.s.referenceIndex[reference]
		if !found {
			return
		}
		tok, found := r.s.tokens[id]
		if !found {
			return
		}
		payload = string(tok.Payload)
		ok = true
	})
	return payload, ok, nil
}
