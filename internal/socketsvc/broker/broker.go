package broker

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/secretwords/game-services/internal/comm"
)

const (
	// TopicOperations carries client operations to the game service;
	// TopicNotify carries engine notifications back.
	TopicOperations = "socket.service"
	TopicNotify     = "game.service"
)

// Broker delivers engine notifications from the bus to the owning
// websocket connection.
type Broker struct {
	Conn          *nats.Conn
	GetConnection func(string) (*websocket.Conn, bool)

	writeMu sync.Mutex
}

func NewBroker(conn *nats.Conn, fncGetConnection func(string) (*websocket.Conn, bool)) *Broker {
	return &Broker{
		Conn:          conn,
		GetConnection: fncGetConnection,
	}
}

// Subscribe consumes notification messages from the game service.
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}
	return nil
}

func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.AppMessage{}
	if err := json.Unmarshal(msgNats.Data, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Op {
	case comm.OpUpdateState, comm.OpGameChanged, comm.OpUserChanged, comm.OpActivePing:
		b.sendMessage(message)
	default:
		log.Error("Unknown message")
	}
}

// sendMessage writes the notification to the owning web client.
// gorilla allows one concurrent writer per connection.
func (b *Broker) sendMessage(m *comm.AppMessage) {
	conn, ok := b.GetConnection(m.SocketID)
	if !ok {
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteJSON(m); err != nil {
		log.Println(err)
	}
}
