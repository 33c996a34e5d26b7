package notify

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/secretwords/game-services/internal/comm"
	"github.com/secretwords/game-services/internal/gamesvc/board"
	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/store"
	"github.com/secretwords/game-services/internal/gamesvc/view"
)

// Watcher observes store mutations on behalf of one client and pushes
// fresh snapshots. It subscribes to the games collection broadly, the
// client's own user and session documents, and the current game's
// document, players and tiles. The players/tiles subscriptions are
// torn down and re-established only when the current game id actually
// changes, not on every mutation.
//
// Store callbacks may race with the operation that triggered them;
// the watcher always recomputes from current state, so observing its
// own write is harmless.
type Watcher struct {
	userId   string
	store    *store.Store
	composer *view.Composer
	send     func(op comm.Op, data any)

	mu          sync.Mutex
	initialized bool
	closed      bool
	cancels     map[string]func()
	lastGameId  string
}

func NewWatcher(userId string, s *store.Store, composer *view.Composer, send func(op comm.Op, data any)) *Watcher {
	return &Watcher{
		userId:   userId,
		store:    s,
		composer: composer,
		send:     send,
		cancels:  make(map[string]func()),
	}
}

// Initialize registers the standing subscriptions and pushes the
// first snapshot. Initializing twice is a programmer error and is
// surfaced, not swallowed.
func (w *Watcher) Initialize(ctx context.Context) error {
	w.mu.Lock()
	if w.initialized {
		w.mu.Unlock()
		return fmt.Errorf("watcher for %s double initialized", w.userId)
	}
	w.initialized = true

	w.cancels["games"] = w.store.Games.SubscribeAll(func(change store.Change[*models.Game]) {
		w.push(comm.OpGameChanged, change.Doc)
	})
	w.cancels["user"] = w.store.Users.Subscribe([]string{w.userId}, func(change store.Change[*models.User]) {
		w.push(comm.OpUserChanged, change.Doc)
	})
	w.cancels["session"] = w.store.Sessions.Subscribe([]string{w.userId}, func(store.Change[*models.Session]) {
		w.Refresh(ctx)
	})
	w.mu.Unlock()

	return w.Refresh(ctx)
}

// Refresh recomputes the client's snapshot, reconciles the
// current-game subscriptions and pushes the new state.
func (w *Watcher) Refresh(ctx context.Context) error {
	snap, err := w.composer.Snapshot(ctx, w.userId)
	if err != nil {
		log.Errorf("Error composing snapshot for %s: %s", w.userId, err)
		return err
	}
	w.syncGameSubs(ctx, snap.CurrentGame)
	w.push(comm.OpUpdateState, snap)
	return nil
}

func (w *Watcher) syncGameSubs(ctx context.Context, game *models.Game) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	gameId := ""
	if game != nil {
		gameId = game.ID
	}
	if gameId == w.lastGameId {
		return
	}
	w.lastGameId = gameId

	for _, key := range []string{"currentGame", "currentGamePlayers", "currentGameTiles"} {
		if cancel := w.cancels[key]; cancel != nil {
			cancel()
			delete(w.cancels, key)
		}
	}
	if game == nil {
		return
	}

	refresh := func() { w.Refresh(ctx) }
	w.cancels["currentGame"] = w.store.Games.Subscribe([]string{game.ID}, func(store.Change[*models.Game]) {
		refresh()
	})
	w.cancels["currentGamePlayers"] = w.store.Users.Subscribe(game.PlayerIDs, func(store.Change[*models.User]) {
		refresh()
	})
	tileIds := make([]string, 0, board.Size)
	for _, pos := range board.Positions(game.ID) {
		tileIds = append(tileIds, pos.ID)
	}
	w.cancels["currentGameTiles"] = w.store.Tiles.Subscribe(tileIds, func(store.Change[*models.Tile]) {
		refresh()
	})
}

func (w *Watcher) push(op comm.Op, data any) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.send(op, data)
	}
}

// Close cancels every subscription. The watcher cannot be reused.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for key, cancel := range w.cancels {
		cancel()
		delete(w.cancels, key)
	}
}
