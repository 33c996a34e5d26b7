package signal

import (
	"github.com/nats-io/nats.go"
)

// Transport is the out-of-band pub/sub bus the coordinator signals
// over. It carries only negotiation payloads, never media.
type Transport interface {
	// Subscribe delivers every message on the channel to fn until the
	// returned cancel func is called.
	Subscribe(channel string, fn func(data []byte)) (func(), error)
	Publish(channel string, data []byte) error
}

// NatsTransport maps signaling channels onto NATS subjects under a
// common prefix.
type NatsTransport struct {
	Conn   *nats.Conn
	Prefix string
}

func NewNatsTransport(nc *nats.Conn) *NatsTransport {
	return &NatsTransport{Conn: nc, Prefix: "signal."}
}

func (t *NatsTransport) Subscribe(channel string, fn func(data []byte)) (func(), error) {
	sub, err := t.Conn.Subscribe(t.Prefix+channel, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = sub.Unsubscribe()
	}, nil
}

func (t *NatsTransport) Publish(channel string, data []byte) error {
	return t.Conn.Publish(t.Prefix+channel, data)
}
