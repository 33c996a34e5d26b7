package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/secretwords/game-services/internal/comm"
	"github.com/secretwords/game-services/internal/socketsvc/broker"
)

// Ws tracks live websocket connections by socket id and forwards
// client operations onto the bus. The game service owns all state;
// this layer is thin dispatch.
type Ws struct {
	connMap sync.Map // socketId -> *websocket.Conn
	Broker  *broker.Broker
}

func NewWs() *Ws {
	return &Ws{}
}

// SocketMessage forwards one client operation to the game service,
// stamped with the originating socket id.
func (s *Ws) SocketMessage(socketId string, message *comm.GameMessage) {
	if message.Op == comm.OpUnknown || message.Op == "" {
		log.Warnf("unknown event received from socket %s", socketId)
		return
	}

	message.SocketID = socketId

	bytes, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal GameMessage for NATS: %v", err)
		return
	}
	if err := s.Broker.Publish(broker.TopicOperations, bytes); err != nil {
		log.Errorf("Failed to publish to NATS topic %s: %v", broker.TopicOperations, err)
	}
}

// HandleDisconnect drops the connection and tells the game service to
// tear down the socket's watcher.
func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)

	msg := &comm.GameMessage{Op: comm.OpDisconnect, SocketID: socketId}
	bytes, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal disconnect for NATS: %v", err)
		return
	}
	if err := s.Broker.Publish(broker.TopicOperations, bytes); err != nil {
		log.Errorf("Failed to publish disconnect for socket %s: %v", socketId, err)
	}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, conn)
}

func (s *Ws) GetConnection(socketId string) (*websocket.Conn, bool) {
	conn, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return conn.(*websocket.Conn), true
}
