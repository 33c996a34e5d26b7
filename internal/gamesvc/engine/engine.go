package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/secretwords/game-services/internal/gamesvc/board"
	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/store"
)

// Engine applies game operations against the store. It is the only
// writer of the four collections and always computes the full next
// value of a document before a put, so last-writer-wins replication
// needs no merge.
//
// One Engine instance is created at startup and passed to every
// caller; it holds no package-level state.
type Engine struct {
	store *store.Store
	alloc *board.Allocator
}

func New(s *store.Store, alloc *board.Allocator) *Engine {
	return &Engine{store: s, alloc: alloc}
}

// Store exposes the underlying collections to read-only observers.
func (e *Engine) Store() *store.Store { return e.store }

// CreateUser upserts the user and a fresh session with no current
// game.
func (e *Engine) CreateUser(ctx context.Context, userId, name string) error {
	if err := e.store.Sessions.Put(ctx, &models.Session{ID: userId}); err != nil {
		return err
	}
	return e.store.Users.Put(ctx, &models.User{ID: userId, Name: name})
}

// CreateGame allocates a fresh board: one game document in state New
// plus its 25 tiles, with a randomly chosen starting team.
func (e *Engine) CreateGame(ctx context.Context, name, creatorId string) (*models.Game, error) {
	gameId := uuid.New().String()
	turn := models.TeamBlue
	if rand.Float64() > 0.5 {
		turn = models.TeamRed
	}

	cells := e.alloc.Board(turn)
	for _, cell := range cells {
		tile := &models.Tile{
			ID:     models.TileID(gameId, cell.X, cell.Y),
			GameID: gameId,
			X:      cell.X,
			Y:      cell.Y,
			Word:   cell.Word,
			Team:   cell.Team,
		}
		if err := e.store.Tiles.Put(ctx, tile); err != nil {
			return nil, err
		}
	}

	game := &models.Game{
		ID:        gameId,
		CreatorID: creatorId,
		Name:      name,
		State:     models.GameNew,
		PlayerIDs: []string{},
		BlueIDs:   []string{},
		RedIDs:    []string{},
		Turn:      turn,
	}
	if err := e.store.Games.Put(ctx, game); err != nil {
		return nil, err
	}
	return game, nil
}

// DeleteGame removes a game and its tiles. Only the creator may
// delete; anyone else is a silent no-op, so a caller cannot probe for
// a game's existence.
func (e *Engine) DeleteGame(ctx context.Context, gameId, userId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil || game.CreatorID != userId {
		return nil
	}
	for _, pos := range board.Positions(gameId) {
		if err := e.store.Tiles.Delete(ctx, pos.ID); err != nil {
			return err
		}
	}
	return e.store.Games.Delete(ctx, gameId)
}

// JoinGame appends the user to the player list if absent and points
// their session at the game. Joining twice is idempotent.
func (e *Engine) JoinGame(ctx context.Context, gameId, userId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	if !game.HasPlayer(userId) {
		next := *game
		next.PlayerIDs = append(append([]string{}, game.PlayerIDs...), userId)
		if err := e.store.Games.Put(ctx, &next); err != nil {
			return err
		}
	}
	return e.ShowGame(ctx, gameId, userId)
}

// ShowGame points the user's session at a game; a no-op when already
// there.
func (e *Engine) ShowGame(ctx context.Context, gameId, userId string) error {
	session, err := e.store.Sessions.Get(ctx, userId)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", userId)
	}
	if session.CurrentGameID == gameId {
		return nil
	}
	return e.store.Sessions.Put(ctx, &models.Session{ID: userId, CurrentGameID: gameId})
}

// HideGame clears the session's current game. A missing session or an
// already-clear pointer is a no-op.
func (e *Engine) HideGame(ctx context.Context, userId string) error {
	session, err := e.store.Sessions.Get(ctx, userId)
	if err != nil {
		return err
	}
	if session == nil || session.CurrentGameID == "" {
		return nil
	}
	return e.store.Sessions.Put(ctx, &models.Session{ID: userId})
}

// ChangeTeam moves a player between rosters and keeps the hinter
// invariant: the hinter of a non-empty team is always a member of
// that team. Joining an empty team makes the player its hinter;
// a departing hinter hands the role to the last-remaining member.
func (e *Engine) ChangeTeam(ctx context.Context, gameId, userId string, team models.Team) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}

	next := *game
	next.RedIDs = removeID(game.RedIDs, userId)
	next.BlueIDs = removeID(game.BlueIDs, userId)
	switch team {
	case models.TeamRed:
		next.RedIDs = append(next.RedIDs, userId)
	case models.TeamBlue:
		next.BlueIDs = append(next.BlueIDs, userId)
	}

	next.RedHinter = fixHinter(next.RedHinter, next.RedIDs, userId, team == models.TeamRed)
	next.BlueHinter = fixHinter(next.BlueHinter, next.BlueIDs, userId, team == models.TeamBlue)

	return e.store.Games.Put(ctx, &next)
}

// MakeHinter assigns the hinter role to a current member of the team;
// otherwise a no-op.
func (e *Engine) MakeHinter(ctx context.Context, gameId, userId string, team models.Team) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	if game.TeamOf(userId) != team {
		return nil
	}

	next := *game
	switch team {
	case models.TeamRed:
		next.RedHinter = userId
	case models.TeamBlue:
		next.BlueHinter = userId
	default:
		return nil
	}
	return e.store.Games.Put(ctx, &next)
}

// StartGame transitions New to Started. Roster completeness is the
// caller's concern; the engine does not gate on it.
func (e *Engine) StartGame(ctx context.Context, gameId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	if game.State != models.GameNew {
		return nil
	}
	next := *game
	next.State = models.GameStarted
	return e.store.Games.Put(ctx, &next)
}

// RerollBoard re-runs the allocator against the existing tile ids,
// overwriting words and teams in place with the current turn as the
// starting team. Only meaningful before the game starts.
func (e *Engine) RerollBoard(ctx context.Context, gameId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}

	cells := e.alloc.Board(game.Turn)
	for _, cell := range cells {
		id := models.TileID(gameId, cell.X, cell.Y)
		prev, err := e.store.Tiles.Get(ctx, id)
		if err != nil {
			return err
		}
		tile := &models.Tile{
			ID:     id,
			GameID: gameId,
			X:      cell.X,
			Y:      cell.Y,
			Word:   cell.Word,
			Team:   cell.Team,
		}
		if prev != nil {
			// reveal state is append-only, even across rerolls
			tile.GuessedBy = prev.GuessedBy
		}
		if err := e.store.Tiles.Put(ctx, tile); err != nil {
			return err
		}
	}
	return nil
}

// SetGuessCount opens the guessing phase. The stored count is one
// more than requested: the extra guess covers the hinter's implicit
// free correct guess before the count starts to decrement.
func (e *Engine) SetGuessCount(ctx context.Context, gameId string, count int) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	next := *game
	next.GuessesRemaining = count + 1
	next.IsGuessing = true
	return e.store.Games.Put(ctx, &next)
}

// GuessTile reveals a tile for the caller's team. Reveal is
// append-only. A wrong-team tile or the last remaining guess passes
// the turn; a win condition finishes the game. Guessing an
// already-revealed tile is a complete no-op: the original reveal
// stands and neither the turn nor the remaining count moves.
func (e *Engine) GuessTile(ctx context.Context, gameId, userId, tileId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	team := game.TeamOf(userId)
	if team == models.TeamNone {
		return nil
	}
	tile, err := e.store.Tiles.Get(ctx, tileId)
	if err != nil {
		return err
	}
	if tile == nil || tile.Revealed() {
		return nil
	}

	guessed := *tile
	guessed.GuessedBy = team
	if err := e.store.Tiles.Put(ctx, &guessed); err != nil {
		return err
	}

	tiles, err := e.gameTiles(ctx, gameId)
	if err != nil {
		return err
	}

	next := *game
	switch {
	case models.Winner(tiles) != models.TeamNone:
		next.State = models.GameFinished
	case tile.Team != team || game.GuessesRemaining <= 1:
		next.Turn = game.Turn.Opponent()
		next.IsGuessing = false
	default:
		next.GuessesRemaining = game.GuessesRemaining - 1
	}
	return e.store.Games.Put(ctx, &next)
}

// FinishGuessing is the explicit early turn pass: the turn always
// flips, whatever the remaining count.
func (e *Engine) FinishGuessing(ctx context.Context, gameId string) error {
	game, err := e.store.Games.Get(ctx, gameId)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game %s not found", gameId)
	}
	next := *game
	next.Turn = game.Turn.Opponent()
	next.IsGuessing = false
	return e.store.Games.Put(ctx, &next)
}

// SetActive stamps the user's liveness. A missing user is a no-op.
func (e *Engine) SetActive(ctx context.Context, userId string) error {
	user, err := e.store.Users.Get(ctx, userId)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	now := time.Now()
	next := *user
	next.ActiveTime = &now
	return e.store.Users.Put(ctx, &next)
}

// SetInactive clears the user's liveness, removing them from every
// peer topology. A missing user is a no-op.
func (e *Engine) SetInactive(ctx context.Context, userId string) error {
	user, err := e.store.Users.Get(ctx, userId)
	if err != nil {
		return err
	}
	if user == nil || user.ActiveTime == nil {
		return nil
	}
	next := *user
	next.ActiveTime = nil
	return e.store.Users.Put(ctx, &next)
}

func (e *Engine) gameTiles(ctx context.Context, gameId string) ([]*models.Tile, error) {
	var tiles []*models.Tile
	for _, pos := range board.Positions(gameId) {
		tile, err := e.store.Tiles.Get(ctx, pos.ID)
		if err != nil {
			return nil, err
		}
		if tile != nil {
			tiles = append(tiles, tile)
		}
	}
	return tiles, nil
}

func removeID(ids []string, userId string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userId {
			out = append(out, id)
		}
	}
	return out
}

// fixHinter re-establishes the hinter invariant for one team after a
// roster move.
func fixHinter(hinter string, ids []string, moved string, joined bool) string {
	if joined && len(ids) == 1 {
		return moved
	}
	if hinter == "" {
		return ""
	}
	for _, id := range ids {
		if id == hinter {
			return hinter
		}
	}
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}
