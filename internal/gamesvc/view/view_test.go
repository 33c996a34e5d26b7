package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/store"
)

func active() *time.Time {
	now := time.Now()
	return &now
}

func seed(t *testing.T, st *store.Store) *models.Game {
	t.Helper()
	ctx := context.Background()

	game := &models.Game{
		ID:        "g1",
		Name:      "Test",
		CreatorID: "a",
		State:     models.GameStarted,
		Turn:      models.TeamRed,
		PlayerIDs: []string{"a", "b", "c"},
		RedIDs:    []string{"a"},
		BlueIDs:   []string{"b"},
	}
	require.NoError(t, st.Games.Put(ctx, game))

	require.NoError(t, st.Users.Put(ctx, &models.User{ID: "a", Name: "Ada", ActiveTime: active()}))
	require.NoError(t, st.Users.Put(ctx, &models.User{ID: "b", Name: "Grace", ActiveTime: active()}))
	require.NoError(t, st.Users.Put(ctx, &models.User{ID: "c", Name: "Edsger"})) // inactive

	require.NoError(t, st.Sessions.Put(ctx, &models.Session{ID: "a", CurrentGameID: "g1"}))

	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			team := models.TeamNone
			switch {
			case x == 0 && y == 0:
				team = models.TeamDeath
			case x == 1:
				team = models.TeamRed
			case x == 2:
				team = models.TeamBlue
			}
			require.NoError(t, st.Tiles.Put(ctx, &models.Tile{
				ID:     models.TileID("g1", x, y),
				GameID: "g1",
				X:      x,
				Y:      y,
				Word:   models.TileID("w", x, y),
				Team:   team,
			}))
		}
	}
	return game
}

func TestSnapshotWithCurrentGame(t *testing.T) {
	st := store.New()
	seed(t, st)
	composer := NewComposer(st)

	snap, err := composer.Snapshot(context.Background(), "a")
	require.NoError(t, err)

	require.True(t, snap.Initialized)
	require.Len(t, snap.Games, 1)
	require.Equal(t, "Ada", snap.CurrentUser.Name)
	require.NotNil(t, snap.CurrentGame)
	require.Equal(t, "g1", snap.CurrentGame.ID)
	require.Equal(t, models.TeamRed, snap.CurrentTeam)
	require.Len(t, snap.CurrentGameTiles, 25)
	require.Len(t, snap.CurrentPlayers, 3)
	require.Equal(t, models.TeamNone, snap.Winner)
}

func TestSnapshotWithoutSession(t *testing.T) {
	st := store.New()
	seed(t, st)
	composer := NewComposer(st)

	snap, err := composer.Snapshot(context.Background(), "b")
	require.NoError(t, err)
	require.Nil(t, snap.CurrentGame)
	require.Equal(t, models.TeamNone, snap.CurrentTeam)
	require.Len(t, snap.Games, 1)
}

func TestSnapshotDanglingSession(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	seed(t, st)
	require.NoError(t, st.Sessions.Put(ctx, &models.Session{ID: "a", CurrentGameID: "gone"}))
	composer := NewComposer(st)

	snap, err := composer.Snapshot(ctx, "a")
	require.NoError(t, err)
	require.Nil(t, snap.CurrentGame, "deleted game leaves no current game")
}

func TestVideoChatTopology(t *testing.T) {
	st := store.New()
	seed(t, st)
	composer := NewComposer(st)

	snap, err := composer.Snapshot(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, snap.VideoChat)

	// only active peers, never the caller
	require.Equal(t, []string{"b"}, snap.VideoChat.PeerIDs)

	// the lexically lower id initiates
	require.True(t, snap.VideoChat.InitiatorMap["b"], "a < b, so a initiates")
}

func TestSnapshotWinnerDerived(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	seed(t, st)
	death, err := st.Tiles.Get(ctx, models.TileID("g1", 0, 0))
	require.NoError(t, err)
	revealed := *death
	revealed.GuessedBy = models.TeamRed
	require.NoError(t, st.Tiles.Put(ctx, &revealed))

	snap, err := NewComposer(st).Snapshot(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.TeamBlue, snap.Winner, "red revealed the death tile")
}
