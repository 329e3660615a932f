package store

import (
	"container/list"
	"context"
	"sync"
)

// CachingApplicationStore wraps an ApplicationStore with an in-memory,
// LRU-approximate cache keyed by both record id and client id, evicted by
// the per-entity ChangeToken a write returns (spec §4.5's caching rule).
// Entries are never served past their change-token signal: every write
// path (Create/Update/Delete) on this wrapper evicts the record it
// touched (Delete before delegating, Create/Update once the inner write
// succeeds), so a read after a successful write through this instance
// goes to the inner store.
type CachingApplicationStore struct {
	inner ApplicationStore
	limit int

	mu      sync.Mutex
	order   *list.List // front = most recently used
	byID    map[string]*list.Element
	byClientID map[string]*list.Element
}

type cacheEntry struct {
	app  *Application
	elem *list.Element
}

// NewCachingApplicationStore wraps inner with a cache holding at most
// limit entries.
func NewCachingApplicationStore(inner ApplicationStore, limit int) *CachingApplicationStore {
	if limit <= 0 {
		limit = 256
	}
	return &CachingApplicationStore{
		inner:      inner,
		limit:      limit,
		order:      list.New(),
		byID:       make(map[string]*list.Element),
		byClientID: make(map[string]*list.Element),
	}
}

func (c *CachingApplicationStore) FindByID(ctx context.Context, id string) (*Application, error) {
	if app, ok := c.lookup(c.byID, id); ok {
		return app, nil
	}
	app, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.insert(app)
	return app, nil
}

func (c *CachingApplicationStore) FindByClientID(ctx context.Context, clientID string) (*Application, error) {
	if app, ok := c.lookup(c.byClientID, clientID); ok {
		return app, nil
	}
	app, err := c.inner.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	c.insert(app)
	return app, nil
}

func (c *CachingApplicationStore) Create(ctx context.Context, app *Application) error {
	if err := c.inner.Create(ctx, app); err != nil {
		return err
	}
	c.evict(app.ID, app.ClientID)
	return nil
}

func (c *CachingApplicationStore) Update(ctx context.Context, app *Application) error {
	if err := c.inner.Update(ctx, app); err != nil {
		return err
	}
	c.evict(app.ID, app.ClientID)
	return nil
}

func (c *CachingApplicationStore) Delete(ctx context.Context, id string) error {
	// The client id isn't known without a read; look the entry up by id.
	// Its client-id index entry shares the same list element, so
	// removeElementLocked drops both.
	c.mu.Lock()
	if elem, ok := c.byID[id]; ok {
		c.removeElementLocked(elem)
	}
	c.mu.Unlock()
	return c.inner.Delete(ctx, id)
}

func (c *CachingApplicationStore) lookup(index map[string]*list.Element, key string) (*Application, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := index[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).app, true
}

func (c *CachingApplicationStore) insert(app *Application) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byID[app.ID]; ok {
		c.removeElementLocked(elem)
	}
	entry := &cacheEntry{app: app}
	elem := c.order.PushFront(entry)
	entry.elem = elem
	c.byID[app.ID] = elem
	if app.ClientID != "" {
		c.byClientID[app.ClientID] = elem
	}

	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElementLocked(oldest)
	}
}

func (c *CachingApplicationStore) evict(id, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.byID[id]; ok {
		c.removeElementLocked(elem)
		return
	}
	if clientID != "" {
		if elem, ok := c.byClientID[clientID]; ok {
			c.removeElementLocked(elem)
		}
	}
}

func (c *CachingApplicationStore) removeElementLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.byID, entry.app.ID)
	if entry.app.ClientID != "" {
		delete(c.byClientID, entry.app.ClientID)
	}
	c.order.Remove(elem)
}
