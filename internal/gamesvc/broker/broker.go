package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/secretwords/game-services/internal/comm"
	"github.com/secretwords/game-services/internal/gamesvc/engine"
	"github.com/secretwords/game-services/internal/gamesvc/models"
	"github.com/secretwords/game-services/internal/gamesvc/notify"
	"github.com/secretwords/game-services/internal/gamesvc/view"
)

const (
	// TopicOperations carries client operations from the socket
	// service; TopicNotify carries notifications back.
	TopicOperations = "socket.service"
	TopicNotify     = "game.service"
)

// client is the per-socket engine state: one watcher pushing
// snapshots and one prober driving the presence protocol.
type client struct {
	userId  string
	watcher *notify.Watcher
	prober  *notify.Prober
}

// Broker routes operation messages from the bus to the engine and
// owns the per-client watchers. It is created at startup and torn
// down at shutdown; there is no package-level registry.
type Broker struct {
	Conn     *nats.Conn
	Engine   *engine.Engine
	Composer *view.Composer

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

func NewBroker(nc *nats.Conn, eng *engine.Engine, composer *view.Composer) *Broker {
	return &Broker{
		Conn:          nc,
		Engine:        eng,
		Composer:      composer,
		ProbeInterval: notify.DefaultProbeInterval,
		ProbeTimeout:  notify.DefaultProbeTimeout,
		clients:       make(map[string]*client),
	}
}

// SubscribeOperations consumes operation messages from the socket
// service.
func (b *Broker) SubscribeOperations() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(TopicOperations, b.handleMessage)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// handleMessage routes one operation. Each op key maps to exactly one
// handler.
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.GameMessage{}
	if err := json.Unmarshal(msgNat.Data, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Op {
	case comm.OpInitialize:
		b.handleInitialize(ctx, msg)
	case comm.OpCreateUser:
		var data comm.CreateUserData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.CreateUser(ctx, msg.UserID, data.Name); err != nil {
			log.Errorf("Error [Engine.CreateUser] %s", err)
		}
	case comm.OpCreateGame:
		var data comm.CreateGameData
		if !b.decode(msg, &data) {
			return
		}
		if _, err := b.Engine.CreateGame(ctx, data.Name, msg.UserID); err != nil {
			log.Errorf("Error [Engine.CreateGame] %s", err)
		}
	case comm.OpDeleteGame:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.DeleteGame(ctx, data.GameID, msg.UserID); err != nil {
			log.Errorf("Error [Engine.DeleteGame] %s", err)
		}
	case comm.OpJoinGame:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.JoinGame(ctx, data.GameID, msg.UserID); err != nil {
			log.Errorf("Error [Engine.JoinGame] %s", err)
		}
	case comm.OpShowGame:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.ShowGame(ctx, data.GameID, msg.UserID); err != nil {
			log.Errorf("Error [Engine.ShowGame] %s", err)
		}
	case comm.OpHideGame:
		if err := b.Engine.HideGame(ctx, msg.UserID); err != nil {
			log.Errorf("Error [Engine.HideGame] %s", err)
		}
	case comm.OpChangeTeam:
		var data comm.ChangeTeamData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.ChangeTeam(ctx, data.GameID, data.PlayerID, models.Team(data.Team)); err != nil {
			log.Errorf("Error [Engine.ChangeTeam] %s", err)
		}
	case comm.OpMakeHinter:
		var data comm.ChangeTeamData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.MakeHinter(ctx, data.GameID, data.PlayerID, models.Team(data.Team)); err != nil {
			log.Errorf("Error [Engine.MakeHinter] %s", err)
		}
	case comm.OpStartGame:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.StartGame(ctx, data.GameID); err != nil {
			log.Errorf("Error [Engine.StartGame] %s", err)
		}
	case comm.OpRerollBoard:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.RerollBoard(ctx, data.GameID); err != nil {
			log.Errorf("Error [Engine.RerollBoard] %s", err)
		}
	case comm.OpSetGuessCount:
		var data comm.SetGuessCountData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.SetGuessCount(ctx, data.GameID, data.Count); err != nil {
			log.Errorf("Error [Engine.SetGuessCount] %s", err)
		}
	case comm.OpGuessTile:
		var data comm.GuessTileData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.GuessTile(ctx, data.GameID, msg.UserID, data.TileID); err != nil {
			log.Errorf("Error [Engine.GuessTile] %s", err)
		}
	case comm.OpFinishGuessing:
		var data comm.GameRefData
		if !b.decode(msg, &data) {
			return
		}
		if err := b.Engine.FinishGuessing(ctx, data.GameID); err != nil {
			log.Errorf("Error [Engine.FinishGuessing] %s", err)
		}
	case comm.OpBecomeInactive:
		if err := b.Engine.SetInactive(ctx, msg.UserID); err != nil {
			log.Errorf("Error [Engine.SetInactive] %s", err)
		}
	case comm.OpActiveRespond:
		b.mu.Lock()
		c := b.clients[msg.SocketID]
		b.mu.Unlock()
		if c != nil {
			c.prober.Respond()
		}
	case comm.OpDisconnect:
		b.dropClient(ctx, msg.SocketID)
	default:
		log.Error("Unknown message")
	}
}

// handleInitialize binds a socket to a user, starts its watcher and
// presence prober and pushes the first snapshot. A second initialize
// for the same socket is surfaced as an error.
func (b *Broker) handleInitialize(ctx context.Context, msg *comm.GameMessage) {
	userId := msg.UserID
	socketId := msg.SocketID
	send := func(op comm.Op, data any) {
		b.publish(op, data, socketId)
	}

	watcher := notify.NewWatcher(userId, b.Engine.Store(), b.Composer, send)
	prober := notify.NewProber(b.ProbeInterval, b.ProbeTimeout,
		func() { b.publish(comm.OpActivePing, nil, socketId) },
		func(alive bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			var err error
			if alive {
				err = b.Engine.SetActive(ctx, userId)
			} else {
				err = b.Engine.SetInactive(ctx, userId)
			}
			if err != nil {
				log.Errorf("Error updating liveness for %s: %s", userId, err)
			}
		})

	b.mu.Lock()
	if _, ok := b.clients[socketId]; ok {
		b.mu.Unlock()
		log.Errorf("Error: socket %s double initialized", socketId)
		return
	}
	b.clients[socketId] = &client{userId: userId, watcher: watcher, prober: prober}
	b.mu.Unlock()

	if err := watcher.Initialize(ctx); err != nil {
		log.Errorf("Error [Watcher.Initialize] %s", err)
		return
	}
	prober.Start()

	// the connection itself is proof of life
	if err := b.Engine.SetActive(ctx, userId); err != nil {
		log.Errorf("Error [Engine.SetActive] %s", err)
	}
}

// dropClient tears down a disconnected socket's watcher and prober
// and clears the user's liveness.
func (b *Broker) dropClient(ctx context.Context, socketId string) {
	b.mu.Lock()
	c := b.clients[socketId]
	delete(b.clients, socketId)
	b.mu.Unlock()
	if c == nil {
		return
	}
	c.prober.Stop()
	c.watcher.Close()
	if err := b.Engine.SetInactive(ctx, c.userId); err != nil {
		log.Errorf("Error [Engine.SetInactive] %s", err)
	}
}

// Close tears down every client.
func (b *Broker) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.mu.Lock()
	sockets := make([]string, 0, len(b.clients))
	for id := range b.clients {
		sockets = append(sockets, id)
	}
	b.mu.Unlock()

	for _, id := range sockets {
		b.dropClient(ctx, id)
	}
}

func (b *Broker) decode(msg *comm.GameMessage, out any) bool {
	if err := json.Unmarshal(msg.Data, out); err != nil {
		log.Errorf("Error decoding %s payload: %s", msg.Op, err)
		return false
	}
	return true
}

func (b *Broker) publish(op comm.Op, data any, socketId string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Errorf("unable to marshal %s payload for %s", op, socketId)
		return
	}

	msg := &comm.AppMessage{
		Op:       op,
		Data:     raw,
		SocketID: socketId,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	if err := b.Conn.Publish(TopicNotify, payload); err != nil {
		log.Errorf("Error publishing to topic %s: %s", TopicNotify, err)
	}
}
