package store

import (
	"context"
	"sort"
	"sync"

	"github.com/secretwords/game-services/internal/gamesvc/models"
)

// Doc is any document the store can hold, keyed by its id.
type Doc interface {
	DocID() string
}

// Change describes one mutation to a collection. Doc is nil for
// deletions.
type Change[T Doc] struct {
	ID      string
	Doc     T
	Deleted bool
}

type subscription[T Doc] struct {
	ids map[string]struct{} // nil matches every document
	fn  func(Change[T])
}

// Collection is keyed storage for one document type. Every operation
// is atomic per document; subscribers receive a callback on each
// create, update or delete to a matching id until canceled.
//
// Callbacks run on their own goroutine and may race with the
// completion of the mutation that triggered them. Observers are
// expected to re-read current state rather than trust callback order.
type Collection[T Doc] struct {
	name    string
	mu      sync.RWMutex
	docs    map[string]T
	subs    map[int]*subscription[T]
	nextSub int
	repl    *Replicator
}

func NewCollection[T Doc](name string) *Collection[T] {
	return &Collection[T]{
		name: name,
		docs: make(map[string]T),
		subs: make(map[int]*subscription[T]),
	}
}

func (c *Collection[T]) Name() string { return c.name }

// Get returns the document, or the zero value with a nil error when
// the id is absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[id], nil
}

// List returns every document, ordered by id.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	c.mu.RLock()
	docs := make([]T, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	c.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID() < docs[j].DocID() })
	return docs, nil
}

// Put stores the full next value of a document, last writer wins.
// There is no merge; the caller computes the complete document.
func (c *Collection[T]) Put(ctx context.Context, doc T) error {
	id := doc.DocID()

	c.mu.Lock()
	c.docs[id] = doc
	fns := c.matching(id)
	repl := c.repl
	c.mu.Unlock()

	if repl != nil {
		repl.enqueue(c.name, id, doc, false)
	}
	notify(fns, Change[T]{ID: id, Doc: doc})
	return nil
}

// Delete removes a document; absent ids are a no-op.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.docs[id]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.docs, id)
	fns := c.matching(id)
	repl := c.repl
	c.mu.Unlock()

	if repl != nil {
		repl.enqueue(c.name, id, nil, true)
	}
	notify(fns, Change[T]{ID: id, Deleted: true})
	return nil
}

// Subscribe registers interest in a set of document ids. The returned
// cancel func stops delivery; it is safe to call more than once.
func (c *Collection[T]) Subscribe(ids []string, fn func(Change[T])) func() {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	return c.subscribe(&subscription[T]{ids: idSet, fn: fn})
}

// SubscribeAll registers interest in every document of the collection.
func (c *Collection[T]) SubscribeAll(fn func(Change[T])) func() {
	return c.subscribe(&subscription[T]{fn: fn})
}

func (c *Collection[T]) subscribe(sub *subscription[T]) func() {
	c.mu.Lock()
	key := c.nextSub
	c.nextSub++
	c.subs[key] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, key)
			c.mu.Unlock()
		})
	}
}

// matching collects subscriber callbacks for an id. Callers hold c.mu.
func (c *Collection[T]) matching(id string) []func(Change[T]) {
	var fns []func(Change[T])
	for _, sub := range c.subs {
		if sub.ids == nil {
			fns = append(fns, sub.fn)
			continue
		}
		if _, ok := sub.ids[id]; ok {
			fns = append(fns, sub.fn)
		}
	}
	return fns
}

func notify[T Doc](fns []func(Change[T]), change Change[T]) {
	for _, fn := range fns {
		go fn(change)
	}
}

// Store bundles the four entity collections. The game engine is the
// only writer; the view composer and notifier are read-only observers.
type Store struct {
	Games    *Collection[*models.Game]
	Tiles    *Collection[*models.Tile]
	Users    *Collection[*models.User]
	Sessions *Collection[*models.Session]
}

func New() *Store {
	return &Store{
		Games:    NewCollection[*models.Game]("games"),
		Tiles:    NewCollection[*models.Tile]("tiles"),
		Users:    NewCollection[*models.User]("users"),
		Sessions: NewCollection[*models.Session]("sessions"),
	}
}

// SetReplicator attaches remote replication to every collection.
// Local writes are never blocked by the remote; see Replicator.
func (s *Store) SetReplicator(r *Replicator) {
	s.Games.repl = r
	s.Tiles.repl = r
	s.Users.repl = r
	s.Sessions.repl = r
}
