package comm

import (
	"encoding/json"
)

// Op enumerates the operation kinds exchanged between clients and the
// game service.
type Op string

const (
	OpUnknown        Op = "Unknown"
	OpInitialize     Op = "Initialize"
	OpCreateUser     Op = "Create User"
	OpCreateGame     Op = "Create Game"
	OpDeleteGame     Op = "Delete Game"
	OpJoinGame       Op = "Join Game"
	OpShowGame       Op = "Show Game"
	OpHideGame       Op = "Hide Game"
	OpChangeTeam     Op = "Change Team"
	OpMakeHinter     Op = "Make Hinter"
	OpStartGame      Op = "Start Game"
	OpRerollBoard    Op = "Reroll Board"
	OpSetGuessCount  Op = "Set Guess Count"
	OpGuessTile      Op = "Guess Tile"
	OpFinishGuessing Op = "Finish Guessing"
	OpBecomeInactive Op = "Become Inactive"
	OpActiveRespond  Op = "Active Respond"

	// OpDisconnect is internal to the services: the socket service
	// reports a closed socket so the engine can drop its watcher.
	OpDisconnect Op = "Disconnect"

	// engine -> client
	OpUpdateState Op = "Update State"
	OpGameChanged Op = "Game Changed"
	OpUserChanged Op = "User Changed"
	OpActivePing  Op = "Active Ping"
)

// GameMessage is a client operation: an opaque user token, the
// operation kind and an op-specific payload. SocketId routes the
// message on the shared bus between the socket and game services.
type GameMessage struct {
	UserID   string          `json:"userId"`
	Op       Op              `json:"op"`
	Data     json.RawMessage `json:"data,omitempty"`
	SocketID string          `json:"socketid"`
}

// AppMessage is an engine notification pushed back to one client.
type AppMessage struct {
	Op       Op              `json:"op"`
	Data     json.RawMessage `json:"data"`
	SocketID string          `json:"socketid"`
}

// Payloads for the op-specific data field.

type CreateUserData struct {
	Name string `json:"name"`
}

type CreateGameData struct {
	Name string `json:"name"`
}

type GameRefData struct {
	GameID string `json:"gameId"`
}

type ChangeTeamData struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Team     string `json:"team"`
}

type SetGuessCountData struct {
	GameID string `json:"gameId"`
	Count  int    `json:"count"`
}

type GuessTileData struct {
	GameID string `json:"gameId"`
	TileID string `json:"tileId"`
}
