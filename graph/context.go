// Package graph provides an in-memory object-graph context: objects grouped
// by entity, pending inserts, updates and deletes tracked until the next
// save, and a confinement declaration consumed by the save coordinator.
//
// A context confined to an owner queue must only be touched from work
// running on that queue (see Perform and PerformAndWait). Unconfined
// contexts are guarded by an internal lock but leave ordering to the caller.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/persistence/owner"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/store"
)

// Option configures a Context.
type Option func(*Context)

// WithQueue confines the context to q. t must be save.MainQueue or
// save.PrivateQueue; save.Unconfined ignores q.
func WithQueue(t save.ConcurrencyType, q *owner.Queue) Option {
	return func(c *Context) {
		c.concurrency = t
		c.queue = q
	}
}

// WithCodec overrides the default ProtoCodec.
func WithCodec(codec Codec) Option {
	return func(c *Context) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// Context holds objects loaded from or destined for a store.
type Context struct {
	id          string
	concurrency save.ConcurrencyType
	queue       *owner.Queue
	store       store.Store
	codec       Codec

	mu       sync.RWMutex
	objects  map[string]Object
	inserted map[string]bool
	updated  map[string]bool
	deleted  map[string]Object
}

// New creates an empty Context backed by st. Without WithQueue the context
// is unconfined.
func New(st store.Store, opts ...Option) (*Context, error) {
	if st == nil {
		return nil, fmt.Errorf("graph: store is required")
	}

	c := &Context{
		id:       uuid.Must(uuid.NewV7()).String(),
		store:    st,
		codec:    ProtoCodec{},
		objects:  make(map[string]Object),
		inserted: make(map[string]bool),
		updated:  make(map[string]bool),
		deleted:  make(map[string]Object),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.concurrency == save.Unconfined {
		c.queue = nil
	} else if c.queue == nil {
		return nil, fmt.Errorf("graph: %s context: %w", c.concurrency, ErrNoQueue)
	}

	return c, nil
}

// ID returns the unique context identifier.
func (c *Context) ID() string {
	return c.id
}

func (c *Context) ConcurrencyType() save.ConcurrencyType {
	return c.concurrency
}

// Scheduler returns the owner queue, or nil for unconfined contexts.
func (c *Context) Scheduler() save.Scheduler {
	if c.queue == nil {
		return nil
	}
	return c.queue
}

// Queue returns the owner queue, or nil for unconfined contexts.
func (c *Context) Queue() *owner.Queue {
	return c.queue
}

// Codec returns the attribute codec used for stored values.
func (c *Context) Codec() Codec {
	return c.codec
}

// Perform runs work on the context's owner without waiting. Unconfined
// contexts run it inline.
func (c *Context) Perform(ctx context.Context, work func(context.Context)) error {
	if c.queue == nil {
		work(ctx)
		return nil
	}
	return c.queue.Perform(ctx, work)
}

// PerformAndWait runs work on the context's owner and waits for it.
// Unconfined contexts run it inline.
func (c *Context) PerformAndWait(ctx context.Context, work func(context.Context)) error {
	if c.queue == nil {
		work(ctx)
		return nil
	}
	return c.queue.PerformAndWait(ctx, work)
}

// Insert adds a new object with a fresh UUIDv7 identifier.
func (c *Context) Insert(entity string, attrs map[string]any) (Object, error) {
	if !validEntity(entity) {
		return Object{}, fmt.Errorf("%w: %q", ErrInvalidEntity, entity)
	}
	if err := validateAttributes(attrs); err != nil {
		return Object{}, err
	}

	obj := Object{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Entity:     entity,
		Attributes: attrs,
	}.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects[obj.ID] = obj
	c.inserted[obj.ID] = true
	return obj.clone(), nil
}

// Update merges attrs into an existing object.
func (c *Context) Update(id string, attrs map[string]any) error {
	if err := validateAttributes(attrs); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	obj = obj.clone()
	for k, v := range attrs {
		obj.Attributes[k] = copyValue(v)
	}
	c.objects[id] = obj

	if !c.inserted[id] {
		c.updated[id] = true
	}
	return nil
}

// Delete removes an object. Deleting an object inserted since the last save
// simply forgets it.
func (c *Context) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	delete(c.objects, id)
	delete(c.updated, id)

	if c.inserted[id] {
		delete(c.inserted, id)
		return nil
	}
	c.deleted[id] = obj
	return nil
}

// Object returns a copy of the object with the given ID.
func (c *Context) Object(id string) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[id]
	if !ok {
		return Object{}, false
	}
	return obj.clone(), true
}

// Objects returns copies of all objects of an entity ordered by ID, which
// for UUIDv7 identifiers is creation order.
func (c *Context) Objects(entity string) []Object {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var objs []Object
	for _, obj := range c.objects {
		if obj.Entity == entity {
			objs = append(objs, obj.clone())
		}
	}
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].ID < objs[j].ID
	})
	return objs
}

// HasChanges reports whether any mutation is pending.
func (c *Context) HasChanges() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.inserted)+len(c.updated)+len(c.deleted) > 0
}

// Changes returns the pending mutation counts.
func (c *Context) Changes() Changes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Changes{
		Inserted: len(c.inserted),
		Updated:  len(c.updated),
		Deleted:  len(c.deleted),
	}
}

// Save commits every pending mutation to the store as one change set. On
// failure nothing is committed and the pending mutations are kept, so a later
// save tries them again.
func (c *Context) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, err := c.changeSet()
	if err != nil {
		return fmt.Errorf("graph: context %s: %w", c.id, err)
	}
	if cs.Empty() {
		return nil
	}

	if err := c.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("graph: context %s: %w", c.id, err)
	}

	clear(c.inserted)
	clear(c.updated)
	clear(c.deleted)
	return nil
}

func (c *Context) changeSet() (store.ChangeSet, error) {
	var cs store.ChangeSet

	for _, id := range sortedKeys(c.inserted, c.updated) {
		obj := c.objects[id]
		data, err := c.codec.Encode(obj.Attributes)
		if err != nil {
			return store.ChangeSet{}, fmt.Errorf("encode %s: %w", obj.Key(), err)
		}
		cs.Save = append(cs.Save, store.Entry{Key: obj.Key(), Value: data})
	}

	for _, obj := range c.deleted {
		cs.Delete = append(cs.Delete, obj.Key())
	}
	sort.Strings(cs.Delete)

	return cs, nil
}

// Fetch registers every stored object of entity that the context does not
// already track. Fetched objects are not pending. It returns how many objects
// were added.
func (c *Context) Fetch(ctx context.Context, entity string) (int, error) {
	keys, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("graph: fetch %s: %w", entity, err)
	}

	c.mu.RLock()
	var toLoad []string
	for _, key := range keys {
		ent, id, ok := splitKey(key)
		if !ok || ent != entity {
			continue
		}
		_, known := c.objects[id]
		_, removed := c.deleted[id]
		if !known && !removed {
			toLoad = append(toLoad, key)
		}
	}
	c.mu.RUnlock()

	if len(toLoad) == 0 {
		return 0, nil
	}

	entries, err := c.load(ctx, toLoad)
	if err != nil {
		return 0, fmt.Errorf("graph: fetch %s: %w", entity, err)
	}

	fetched := make([]Object, 0, len(entries))
	for _, e := range entries {
		ent, id, _ := splitKey(e.Key)
		attrs, err := c.codec.Decode(e.Value)
		if err != nil {
			return 0, fmt.Errorf("graph: fetch %s: %w", e.Key, err)
		}
		fetched = append(fetched, Object{ID: id, Entity: ent, Attributes: attrs})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, obj := range fetched {
		if _, known := c.objects[obj.ID]; known {
			continue
		}
		if _, removed := c.deleted[obj.ID]; removed {
			continue
		}
		c.objects[obj.ID] = obj
		added++
	}
	return added, nil
}

// load reads keys in one call. When some of them disappeared since they were
// listed, it falls back to reading them one by one and skips the missing ones.
func (c *Context) load(ctx context.Context, keys []string) ([]store.Entry, error) {
	entries, err := c.store.Load(ctx, keys...)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}

	var found []store.Entry
	for _, key := range keys {
		loaded, err := c.store.Load(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, loaded...)
	}
	return found, nil
}

func sortedKeys(sets ...map[string]bool) []string {
	var keys []string
	for _, set := range sets {
		for key := range set {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
