package models

import (
	"fmt"
	"time"
)

// Team is the affiliation of a tile or a player.
type Team string

const (
	TeamNone  Team = "None"
	TeamBlue  Team = "Blue"
	TeamRed   Team = "Red"
	TeamDeath Team = "Death"
)

// Opponent returns the opposing playable team. Only Red and Blue
// have opponents.
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	}
	return TeamNone
}

type GameState string

const (
	GameNew      GameState = "New"
	GameStarted  GameState = "Started"
	GameFinished GameState = "Finished"
)

// Game represents one board and its rosters. The engine is the only
// writer; it always computes the full next value before a put.
type Game struct {
	ID               string    `json:"_id" bson:"_id"`
	CreatorID        string    `json:"creatorId" bson:"creator_id"`
	Name             string    `json:"name" bson:"name"`
	PlayerIDs        []string  `json:"playerIds" bson:"player_ids"`
	BlueIDs          []string  `json:"blueIds" bson:"blue_ids"`
	RedIDs           []string  `json:"redIds" bson:"red_ids"`
	BlueHinter       string    `json:"blueHinter,omitempty" bson:"blue_hinter,omitempty"`
	RedHinter        string    `json:"redHinter,omitempty" bson:"red_hinter,omitempty"`
	State            GameState `json:"state" bson:"state"`
	IsGuessing       bool      `json:"isGuessing" bson:"is_guessing"`
	GuessesRemaining int       `json:"guessesRemaining" bson:"guesses_remaining"`
	Turn             Team      `json:"turn" bson:"turn"`
}

func (g *Game) DocID() string { return g.ID }

// HasPlayer reports roster membership in the ordered player list.
func (g *Game) HasPlayer(userId string) bool {
	for _, id := range g.PlayerIDs {
		if id == userId {
			return true
		}
	}
	return false
}

// TeamOf resolves a user's team from the red/blue id lists.
func (g *Game) TeamOf(userId string) Team {
	for _, id := range g.RedIDs {
		if id == userId {
			return TeamRed
		}
	}
	for _, id := range g.BlueIDs {
		if id == userId {
			return TeamBlue
		}
	}
	return TeamNone
}

// Hinter returns the hinter id for a playable team, "" when unset.
func (g *Game) Hinter(team Team) string {
	switch team {
	case TeamRed:
		return g.RedHinter
	case TeamBlue:
		return g.BlueHinter
	}
	return ""
}

// Tile is a single board cell. Its id is derived from the game id and
// the cell coordinate, so a board's 25 keys are known without a query.
type Tile struct {
	ID        string `json:"_id" bson:"_id"`
	GameID    string `json:"gameId" bson:"game_id"`
	X         int    `json:"x" bson:"x"`
	Y         int    `json:"y" bson:"y"`
	Word      string `json:"word" bson:"word"`
	Team      Team   `json:"team" bson:"team"`
	GuessedBy Team   `json:"guessedBy,omitempty" bson:"guessed_by,omitempty"`
}

func (t *Tile) DocID() string { return t.ID }

// Revealed reports whether any team has guessed this tile. Reveal is
// append-only: GuessedBy is never cleared once set.
func (t *Tile) Revealed() bool { return t.GuessedBy != "" }

// TileID derives the document key for a board coordinate.
func TileID(gameId string, x, y int) string {
	return fmt.Sprintf("%s:%d-%d", gameId, x, y)
}

// User identity is a bare opaque token supplied by the caller.
// A nil ActiveTime means the user is inactive.
type User struct {
	ID         string     `json:"_id" bson:"_id"`
	Name       string     `json:"name" bson:"name"`
	ActiveTime *time.Time `json:"activeTime,omitempty" bson:"active_time,omitempty"`
}

func (u *User) DocID() string { return u.ID }

// Session tracks which game a user is currently focused on. Its id is
// the owning user's id.
type Session struct {
	ID            string `json:"_id" bson:"_id"`
	CurrentGameID string `json:"currentGameId,omitempty" bson:"current_game_id,omitempty"`
}

func (s *Session) DocID() string { return s.ID }
