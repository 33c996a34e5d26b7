package signal

import (
	"bytes"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// readyMarker announces that a side is subscribed and listening.
// Presence alone is not proof of listener readiness, so the marker is
// echoed back by the non-initiator.
var readyMarker = []byte("ready")

// State tracks one peer pair's handshake progress.
type State int

const (
	StateIdle State = iota
	StateAwaitingPeerReady
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPeerReady:
		return "awaiting-peer-ready"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Signaler is the local half of one peer link, typically a WebRTC
// peer connection. The coordinator forwards inbound negotiation
// payloads to it verbatim; outbound payloads it emits are published
// verbatim on the pair's channel.
type Signaler interface {
	// Start begins negotiation; the initiator side produces an offer.
	Start() error
	// Signal delivers one inbound payload (offer, answer or ICE
	// candidate).
	Signal(data []byte) error
	Close() error
}

// SignalerFactory builds the signaler for one pair. emit publishes an
// outbound payload, onConnect reports the link established, onClose
// reports transport-level close or negotiation failure.
type SignalerFactory func(peerId string, initiator bool, emit func(data []byte), onConnect func(), onClose func(err error)) (Signaler, error)

// Conn is the coordinator's per-pair state. At most one Conn exists
// per peer at a time.
type Conn struct {
	localId   string
	peerId    string
	initiator bool

	transport Transport
	factory   SignalerFactory
	onClosed  func(peerId string, err error)

	mu       sync.Mutex
	state    State
	signaler Signaler
	pending  [][]byte
	cancel   func()
}

// Peer returns the remote side's id.
func (c *Conn) Peer() string { return c.peerId }

// State returns the pair's current handshake state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// sendChannel names the pair's outbound channel, receiveChannel the
// inbound one. The asymmetric naming disambiguates direction on the
// shared bus.
func (c *Conn) sendChannel() string    { return c.localId + ":" + c.peerId }
func (c *Conn) receiveChannel() string { return c.peerId + ":" + c.localId }

// open subscribes to the pair's inbound channel and announces
// readiness. There is no timeout: the pair waits until the peer shows
// up or presence tears the pair down.
func (c *Conn) open() error {
	// state moves before the subscription exists so a message arriving
	// mid-subscribe can already start negotiation
	c.mu.Lock()
	c.state = StateAwaitingPeerReady
	c.mu.Unlock()

	cancel, err := c.transport.Subscribe(c.receiveChannel(), c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.receiveChannel(), err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.transport.Publish(c.sendChannel(), readyMarker); err != nil {
		return fmt.Errorf("failed to announce ready to %s: %w", c.peerId, err)
	}
	return nil
}

func (c *Conn) handleMessage(data []byte) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	if bytes.Equal(data, readyMarker) {
		negotiating := c.signaler != nil
		c.mu.Unlock()
		if negotiating {
			return
		}
		if c.initiator {
			c.startNegotiation()
			return
		}
		// the peer cannot know we are listening until we say so
		if err := c.transport.Publish(c.sendChannel(), readyMarker); err != nil {
			log.Errorf("Error echoing ready to %s: %s", c.peerId, err)
		}
		return
	}

	// a real signal before negotiation started: create the local
	// connection lazily and replay the payload
	if c.signaler == nil {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		c.startNegotiation()
		return
	}
	signaler := c.signaler
	c.mu.Unlock()

	if err := signaler.Signal(data); err != nil {
		log.Errorf("Error signaling peer %s: %s", c.peerId, err)
	}
}

func (c *Conn) startNegotiation() {
	// the factory call below runs unlocked, so StateNegotiating alone
	// marks the pair as taken: a concurrent delivery must queue into
	// pending rather than build a second signaler
	c.mu.Lock()
	if c.signaler != nil || c.state != StateAwaitingPeerReady {
		c.mu.Unlock()
		return
	}
	c.state = StateNegotiating
	c.mu.Unlock()

	emit := func(data []byte) {
		if err := c.transport.Publish(c.sendChannel(), data); err != nil {
			log.Errorf("Error publishing signal to %s: %s", c.peerId, err)
		}
	}
	onConnect := func() {
		c.mu.Lock()
		if c.state == StateNegotiating {
			c.state = StateConnected
		}
		c.mu.Unlock()
	}
	onClose := func(err error) {
		c.closeWith(err)
	}

	signaler, err := c.factory(c.peerId, c.initiator, emit, onConnect, onClose)
	if err != nil {
		c.closeWith(fmt.Errorf("failed to create signaler for %s: %w", c.peerId, err))
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		if cerr := signaler.Close(); cerr != nil {
			log.Warnf("error closing signaler for %s: %s", c.peerId, cerr)
		}
		return
	}
	c.signaler = signaler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.initiator {
		if err := signaler.Start(); err != nil {
			c.closeWith(fmt.Errorf("failed to start negotiation with %s: %w", c.peerId, err))
			return
		}
	}
	for _, data := range pending {
		if err := signaler.Signal(data); err != nil {
			log.Errorf("Error signaling peer %s: %s", c.peerId, err)
		}
	}
}

// closeWith tears the pair down and surfaces err to the caller's
// close callback. Re-establishment is the caller's responsibility,
// typically on the next presence change.
func (c *Conn) closeWith(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	signaler := c.signaler
	cancel := c.cancel
	c.signaler = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if signaler != nil {
		if cerr := signaler.Close(); cerr != nil {
			log.Warnf("error closing signaler for %s: %s", c.peerId, cerr)
		}
	}
	if c.onClosed != nil {
		c.onClosed(c.peerId, err)
	}
}

// Coordinator owns the per-peer connection registry for one local
// user. It is created once per process alongside the other service
// state and torn down at shutdown.
type Coordinator struct {
	localId   string
	transport Transport
	factory   SignalerFactory
	onClose   func(peerId string, err error)

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewCoordinator(localId string, transport Transport, factory SignalerFactory, onClose func(peerId string, err error)) *Coordinator {
	return &Coordinator{
		localId:   localId,
		transport: transport,
		factory:   factory,
		onClose:   onClose,
		conns:     make(map[string]*Conn),
	}
}

// Connect returns the pair's connection, starting the handshake when
// none exists. A request for an already-registered peer returns the
// existing connection; a second negotiation is never started.
func (c *Coordinator) Connect(peerId string, initiator bool) (*Conn, error) {
	c.mu.Lock()
	if conn, ok := c.conns[peerId]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	conn := &Conn{
		localId:   c.localId,
		peerId:    peerId,
		initiator: initiator,
		transport: c.transport,
		factory:   c.factory,
		onClosed:  c.dropConn,
	}
	c.conns[peerId] = conn
	c.mu.Unlock()

	if err := conn.open(); err != nil {
		conn.closeWith(err)
		return nil, err
	}
	return conn, nil
}

func (c *Coordinator) dropConn(peerId string, err error) {
	c.mu.Lock()
	delete(c.conns, peerId)
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose(peerId, err)
	}
}

// Sync reconciles the registry against a presence-derived peer
// topology: new peers get a connection, departed peers are torn down.
func (c *Coordinator) Sync(peerIds []string, initiatorMap map[string]bool) {
	want := make(map[string]struct{}, len(peerIds))
	for _, id := range peerIds {
		want[id] = struct{}{}
	}

	c.mu.Lock()
	var departed []*Conn
	for id, conn := range c.conns {
		if _, ok := want[id]; !ok {
			departed = append(departed, conn)
		}
	}
	c.mu.Unlock()

	for _, conn := range departed {
		conn.closeWith(nil)
	}
	for _, id := range peerIds {
		if _, err := c.Connect(id, initiatorMap[id]); err != nil {
			log.Errorf("Error connecting to peer %s: %s", id, err)
		}
	}
}

// Conn returns the registered connection for a peer, if any.
func (c *Coordinator) Conn(peerId string) (*Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[peerId]
	return conn, ok
}

// Close tears down every pair without surfacing an error.
func (c *Coordinator) Close() {
	c.mu.Lock()
	conns := make([]*Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.closeWith(nil)
	}
}
