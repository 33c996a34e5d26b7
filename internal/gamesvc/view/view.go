package view

import (
	"context"

	"github.com/secretwords/game-services/internal/gamesvc/board"
	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/store"
)

// VideoChatInfo is the derived peer topology for one user: the active
// players sharing their current game, and who initiates each pair.
// The lexically lower user id initiates, so both sides never offer at
// the same time.
type VideoChatInfo struct {
	UserID       string          `json:"userId"`
	PeerIDs      []string        `json:"peerIds"`
	InitiatorMap map[string]bool `json:"initiatorMap"`
}

// Snapshot is the read-only view of state personalized to one user.
type Snapshot struct {
	Initialized      bool                    `json:"initialized"`
	Games            []*models.Game          `json:"games"`
	CurrentUser      *models.User            `json:"currentUser,omitempty"`
	CurrentTeam      models.Team             `json:"currentTeam,omitempty"`
	CurrentGame      *models.Game            `json:"currentGame,omitempty"`
	CurrentPlayers   map[string]*models.User `json:"currentPlayers,omitempty"`
	CurrentGameTiles []*models.Tile          `json:"currentGameTiles,omitempty"`
	Winner           models.Team             `json:"winner,omitempty"`
	VideoChat        *VideoChatInfo          `json:"videoChatInfo,omitempty"`
}

// Composer derives snapshots from the store. It never writes.
type Composer struct {
	store *store.Store
}

func NewComposer(s *store.Store) *Composer {
	return &Composer{store: s}
}

// Snapshot composes the full view for one user: the game list, their
// own user and session, the current game with tiles and roster, their
// derived team, the derived winner and the video-chat topology.
func (c *Composer) Snapshot(ctx context.Context, userId string) (*Snapshot, error) {
	games, err := c.store.Games.List(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.store.Users.Get(ctx, userId)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Initialized: true,
		Games:       games,
		CurrentUser: user,
		CurrentTeam: models.TeamNone,
		Winner:      models.TeamNone,
	}

	session, err := c.store.Sessions.Get(ctx, userId)
	if err != nil {
		return nil, err
	}
	if session == nil || session.CurrentGameID == "" {
		return snap, nil
	}

	game, err := c.store.Games.Get(ctx, session.CurrentGameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		// session points at a deleted game; the view simply has no
		// current game until the next hide/show
		return snap, nil
	}
	snap.CurrentGame = game
	snap.CurrentTeam = game.TeamOf(userId)

	for _, pos := range board.Positions(game.ID) {
		tile, err := c.store.Tiles.Get(ctx, pos.ID)
		if err != nil {
			return nil, err
		}
		if tile != nil {
			snap.CurrentGameTiles = append(snap.CurrentGameTiles, tile)
		}
	}
	snap.Winner = models.Winner(snap.CurrentGameTiles)

	snap.CurrentPlayers = make(map[string]*models.User, len(game.PlayerIDs))
	for _, id := range game.PlayerIDs {
		player, err := c.store.Users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if player != nil {
			snap.CurrentPlayers[id] = player
		}
	}

	snap.VideoChat = videoChat(userId, game.PlayerIDs, snap.CurrentPlayers)
	return snap, nil
}

// videoChat lists the caller's active peers. A peer is active when it
// has a liveness timestamp and is not the caller.
func videoChat(userId string, playerIds []string, players map[string]*models.User) *VideoChatInfo {
	info := &VideoChatInfo{
		UserID:       userId,
		PeerIDs:      []string{},
		InitiatorMap: make(map[string]bool),
	}
	for _, id := range playerIds {
		peer := players[id]
		if peer == nil || peer.ID == userId || peer.ActiveTime == nil {
			continue
		}
		info.PeerIDs = append(info.PeerIDs, peer.ID)
		info.InitiatorMap[peer.ID] = userId < peer.ID
	}
	return info
}
