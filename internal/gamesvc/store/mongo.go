package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/secretwords/game-services/internal/gamesvc/models"
)

// ConnectRemote opens the remote replication database from
// MONGODB_URI. The remote endpoint is required configuration for a
// replicated deployment; callers treat an error here as fatal.
func ConnectRemote() (*mongo.Database, context.CancelFunc, error) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		return nil, nil, fmt.Errorf("MONGODB_URI is required")
	}

	uri, err := url.Parse(mongoURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse MongoDB URI: %w", err)
	}
	dbName := strings.TrimPrefix(uri.Path, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(dbName), cancel, nil
}

type replOp struct {
	collection string
	id         string
	doc        any
	deleted    bool
}

// Replicator pushes local mutations to a remote store of the same
// shape. Replication is eventually consistent: writes are queued and
// applied in order with retry and capped exponential backoff, and a
// transiently unreachable remote never blocks a local write. Each
// document is replaced whole, last writer wins.
type Replicator struct {
	db *mongo.Database

	mu    sync.Mutex
	cond  *sync.Cond
	queue []replOp
	done  bool
}

func NewReplicator(db *mongo.Database) *Replicator {
	r := &Replicator{db: db}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the push loop.
func (r *Replicator) Start() {
	go r.run()
}

// Stop ends the push loop after the current attempt. Queued ops that
// were not yet applied are dropped; recovery is re-running the
// operations, not replaying a partial queue.
func (r *Replicator) Stop() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *Replicator) enqueue(collection, id string, doc any, deleted bool) {
	r.mu.Lock()
	r.queue = append(r.queue, replOp{collection: collection, id: id, doc: doc, deleted: deleted})
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *Replicator) run() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.done {
			r.cond.Wait()
		}
		if r.done {
			r.mu.Unlock()
			return
		}
		op := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		backoff := 250 * time.Millisecond
		for {
			err := r.apply(op)
			if err == nil {
				break
			}
			log.Warnf("replication of %s/%s failed, retrying in %s: %v", op.collection, op.id, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			r.mu.Lock()
			stopped := r.done
			r.mu.Unlock()
			if stopped {
				return
			}
		}
	}
}

func (r *Replicator) apply(op replOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll := r.db.Collection(op.collection)
	if op.deleted {
		_, err := coll.DeleteOne(ctx, bson.M{"_id": op.id})
		return err
	}
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": op.id}, op.doc, options.Replace().SetUpsert(true))
	return err
}

// PullRemote loads the remote collections into the local store. It is
// run once at startup before the engine accepts operations.
func (s *Store) PullRemote(ctx context.Context, db *mongo.Database) error {
	var games []*models.Game
	if err := pullAll(ctx, db, s.Games.Name(), &games); err != nil {
		return err
	}
	for _, g := range games {
		if err := s.Games.Put(ctx, g); err != nil {
			return err
		}
	}

	var tiles []*models.Tile
	if err := pullAll(ctx, db, s.Tiles.Name(), &tiles); err != nil {
		return err
	}
	for _, t := range tiles {
		if err := s.Tiles.Put(ctx, t); err != nil {
			return err
		}
	}

	var users []*models.User
	if err := pullAll(ctx, db, s.Users.Name(), &users); err != nil {
		return err
	}
	for _, u := range users {
		if err := s.Users.Put(ctx, u); err != nil {
			return err
		}
	}

	var sessions []*models.Session
	if err := pullAll(ctx, db, s.Sessions.Name(), &sessions); err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.Sessions.Put(ctx, sess); err != nil {
			return err
		}
	}

	return nil
}

func pullAll[T any](ctx context.Context, db *mongo.Database, name string, out *[]T) error {
	cursor, err := db.Collection(name).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to read remote %s: %w", name, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode remote %s: %w", name, err)
	}
	return nil
}
