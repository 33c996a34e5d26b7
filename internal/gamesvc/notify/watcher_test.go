package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/secretwords/game-services/internal/comm"
	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/store"
	"github.com/secretwords/game-services/internal/gamesvc/view"
)

type push struct {
	op   comm.Op
	data any
}

type recorder struct {
	mu     sync.Mutex
	pushes []push
}

func (r *recorder) send(op comm.Op, data any) {
	r.mu.Lock()
	r.pushes = append(r.pushes, push{op: op, data: data})
	r.mu.Unlock()
}

func (r *recorder) count(op comm.Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pushes {
		if p.op == op {
			n++
		}
	}
	return n
}

func (r *recorder) last(op comm.Op) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.pushes) - 1; i >= 0; i-- {
		if r.pushes[i].op == op {
			return r.pushes[i].data
		}
	}
	return nil
}

func newTestWatcher(t *testing.T) (*Watcher, *store.Store, *recorder) {
	t.Helper()
	st := store.New()
	rec := &recorder{}
	w := NewWatcher("u1", st, view.NewComposer(st), rec.send)
	return w, st, rec
}

func TestInitializePushesSnapshot(t *testing.T) {
	w, _, rec := newTestWatcher(t)
	defer w.Close()

	require.NoError(t, w.Initialize(context.Background()))
	require.Equal(t, 1, rec.count(comm.OpUpdateState))

	snap, ok := rec.last(comm.OpUpdateState).(*view.Snapshot)
	require.True(t, ok)
	require.True(t, snap.Initialized)
}

func TestDoubleInitializeSurfaced(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	defer w.Close()

	require.NoError(t, w.Initialize(context.Background()))
	require.Error(t, w.Initialize(context.Background()))
}

func TestGameMutationsFanOut(t *testing.T) {
	w, st, rec := newTestWatcher(t)
	defer w.Close()
	ctx := context.Background()
	require.NoError(t, w.Initialize(ctx))

	require.NoError(t, st.Games.Put(ctx, &models.Game{ID: "g1", Name: "Test"}))
	require.Eventually(t, func() bool {
		return rec.count(comm.OpGameChanged) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOwnUserChangeFansOut(t *testing.T) {
	w, st, rec := newTestWatcher(t)
	defer w.Close()
	ctx := context.Background()
	require.NoError(t, w.Initialize(ctx))

	require.NoError(t, st.Users.Put(ctx, &models.User{ID: "u1", Name: "Ada"}))
	require.Eventually(t, func() bool {
		return rec.count(comm.OpUserChanged) == 1
	}, time.Second, 5*time.Millisecond)

	// someone else's user document is not ours to watch
	require.NoError(t, st.Users.Put(ctx, &models.User{ID: "u2", Name: "Grace"}))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, rec.count(comm.OpUserChanged))
}

func TestSessionChangeRefreshesSnapshot(t *testing.T) {
	w, st, rec := newTestWatcher(t)
	defer w.Close()
	ctx := context.Background()

	require.NoError(t, st.Games.Put(ctx, &models.Game{ID: "g1", Name: "Test", PlayerIDs: []string{"u1"}}))
	require.NoError(t, w.Initialize(ctx))

	require.NoError(t, st.Sessions.Put(ctx, &models.Session{ID: "u1", CurrentGameID: "g1"}))
	require.Eventually(t, func() bool {
		snap, ok := rec.last(comm.OpUpdateState).(*view.Snapshot)
		return ok && snap.CurrentGame != nil && snap.CurrentGame.ID == "g1"
	}, time.Second, 5*time.Millisecond)
}

func TestTileChangeRefreshesCurrentGame(t *testing.T) {
	w, st, rec := newTestWatcher(t)
	defer w.Close()
	ctx := context.Background()

	require.NoError(t, st.Games.Put(ctx, &models.Game{ID: "g1", Name: "Test", PlayerIDs: []string{"u1"}}))
	require.NoError(t, st.Sessions.Put(ctx, &models.Session{ID: "u1", CurrentGameID: "g1"}))
	require.NoError(t, w.Initialize(ctx))
	before := rec.count(comm.OpUpdateState)

	tileId := models.TileID("g1", 2, 3)
	require.NoError(t, st.Tiles.Put(ctx, &models.Tile{ID: tileId, GameID: "g1", X: 2, Y: 3, Word: "w", Team: models.TeamRed}))
	require.Eventually(t, func() bool {
		return rec.count(comm.OpUpdateState) > before
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsPushes(t *testing.T) {
	w, st, rec := newTestWatcher(t)
	ctx := context.Background()
	require.NoError(t, w.Initialize(ctx))
	w.Close()

	before := rec.count(comm.OpGameChanged)
	require.NoError(t, st.Games.Put(ctx, &models.Game{ID: "g1"}))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, rec.count(comm.OpGameChanged))
}

func TestProberRespondKeepsActive(t *testing.T) {
	var mu sync.Mutex
	var marks []bool
	pinged := make(chan struct{}, 16)

	p := NewProber(20*time.Millisecond, 40*time.Millisecond,
		func() {
			select {
			case pinged <- struct{}{}:
			default:
			}
		},
		func(alive bool) {
			mu.Lock()
			marks = append(marks, alive)
			mu.Unlock()
		})
	p.Start()
	defer p.Stop()

	<-pinged
	p.Respond()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(marks) >= 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.True(t, marks[0])
	mu.Unlock()
}

func TestProberTimeoutMarksInactive(t *testing.T) {
	var mu sync.Mutex
	var marks []bool

	p := NewProber(20*time.Millisecond, 30*time.Millisecond,
		func() {},
		func(alive bool) {
			mu.Lock()
			marks = append(marks, alive)
			mu.Unlock()
		})
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(marks) >= 1 && !marks[0]
	}, time.Second, 5*time.Millisecond)
}
