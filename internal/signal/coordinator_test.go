package signal

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bus is an in-process Transport shared by every coordinator in a test.
type bus struct {
	mu     sync.Mutex
	nextId int
	subs   map[string]map[int]func(data []byte)
	log    []busMsg
}

type busMsg struct {
	channel string
	data    []byte
}

func newBus() *bus {
	return &bus{subs: make(map[string]map[int]func(data []byte))}
}

func (b *bus) Subscribe(channel string, fn func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]func(data []byte))
	}
	id := b.nextId
	b.nextId++
	b.subs[channel][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], id)
	}, nil
}

func (b *bus) Publish(channel string, data []byte) error {
	b.mu.Lock()
	b.log = append(b.log, busMsg{channel: channel, data: data})
	fns := make([]func(data []byte), 0, len(b.subs[channel]))
	for _, fn := range b.subs[channel] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
	return nil
}

func (b *bus) published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.log {
		if m.channel == channel {
			out = append(out, m.data)
		}
	}
	return out
}

// fakeSignaler performs a one-offer one-answer exchange in place of a
// real peer connection.
type fakeSignaler struct {
	mu        sync.Mutex
	initiator bool
	emit      func(data []byte)
	onConnect func()
	received  [][]byte
	started   bool
	closed    bool
}

func (f *fakeSignaler) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.emit([]byte("offer"))
	return nil
}

func (f *fakeSignaler) Signal(data []byte) error {
	f.mu.Lock()
	f.received = append(f.received, data)
	initiator := f.initiator
	f.mu.Unlock()

	switch string(data) {
	case "offer":
		if !initiator {
			f.emit([]byte("answer"))
			f.onConnect()
		}
	case "answer":
		if initiator {
			f.onConnect()
		}
	}
	return nil
}

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignaler) signals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.received))
	for _, d := range f.received {
		out = append(out, string(d))
	}
	return out
}

// signalerRegistry hands out fake signalers and remembers them per peer.
type signalerRegistry struct {
	mu      sync.Mutex
	created map[string]*fakeSignaler
}

func newRegistry() *signalerRegistry {
	return &signalerRegistry{created: make(map[string]*fakeSignaler)}
}

func (r *signalerRegistry) factory(peerId string, initiator bool, emit func(data []byte), onConnect func(), onClose func(err error)) (Signaler, error) {
	f := &fakeSignaler{initiator: initiator, emit: emit, onConnect: onConnect}
	r.mu.Lock()
	r.created[peerId] = f
	r.mu.Unlock()
	return f, nil
}

func (r *signalerRegistry) get(peerId string) *fakeSignaler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created[peerId]
}

func TestHandshakeConnectsBothSides(t *testing.T) {
	b := newBus()
	regA, regB := newRegistry(), newRegistry()

	// lower id initiates
	coordA := NewCoordinator("a", b, regA.factory, nil)
	coordB := NewCoordinator("b", b, regB.factory, nil)
	defer coordA.Close()
	defer coordB.Close()

	connA, err := coordA.Connect("b", true)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPeerReady, connA.State())

	connB, err := coordB.Connect("a", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return connA.State() == StateConnected && connB.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	// payloads crossed the bus verbatim
	assert.Equal(t, []string{"offer"}, regB.get("a").signals())
	assert.Equal(t, []string{"answer"}, regA.get("b").signals())
	assert.True(t, regA.get("b").started)
	assert.False(t, regB.get("a").started)
}

func TestConnectIsIdempotentPerPeer(t *testing.T) {
	b := newBus()
	reg := newRegistry()
	coord := NewCoordinator("a", b, reg.factory, nil)
	defer coord.Close()

	first, err := coord.Connect("b", true)
	require.NoError(t, err)
	second, err := coord.Connect("b", true)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// exactly one ready announcement on the pair's channel
	assert.Len(t, b.published("a:b"), 1)
}

func TestNonInitiatorEchoesReady(t *testing.T) {
	b := newBus()
	reg := newRegistry()
	coord := NewCoordinator("b", b, reg.factory, nil)
	defer coord.Close()

	_, err := coord.Connect("a", false)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("ready")}, b.published("b:a"))

	// peer arrives late and announces
	require.NoError(t, b.Publish("a:b", []byte("ready")))
	require.Equal(t, [][]byte{[]byte("ready"), []byte("ready")}, b.published("b:a"))
}

func TestInboundSignalCreatesSignalerLazily(t *testing.T) {
	b := newBus()
	reg := newRegistry()
	coord := NewCoordinator("b", b, reg.factory, nil)
	defer coord.Close()

	conn, err := coord.Connect("a", false)
	require.NoError(t, err)
	require.Nil(t, reg.get("a"))

	// an offer can overtake the ready echo on a real bus
	require.NoError(t, b.Publish("a:b", []byte("offer")))

	f := reg.get("a")
	require.NotNil(t, f)
	assert.Equal(t, []string{"offer"}, f.signals())
	assert.Equal(t, StateConnected, conn.State())
}

func TestCloseDeregistersAndClosesSignaler(t *testing.T) {
	b := newBus()
	regA, regB := newRegistry(), newRegistry()
	var mu sync.Mutex
	var closedPeers []string
	coordA := NewCoordinator("a", b, regA.factory, func(peerId string, err error) {
		mu.Lock()
		closedPeers = append(closedPeers, peerId)
		mu.Unlock()
	})
	coordB := NewCoordinator("b", b, regB.factory, nil)
	defer coordB.Close()

	connA, err := coordA.Connect("b", true)
	require.NoError(t, err)
	_, err = coordB.Connect("a", false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return connA.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	coordA.Close()

	assert.Equal(t, StateClosed, connA.State())
	assert.True(t, regA.get("b").isClosed())
	_, ok := coordA.Conn("b")
	assert.False(t, ok)
	mu.Lock()
	assert.Equal(t, []string{"b"}, closedPeers)
	mu.Unlock()
}

func TestSyncReconcilesTopology(t *testing.T) {
	b := newBus()
	reg := newRegistry()
	var mu sync.Mutex
	var closedPeers []string
	coord := NewCoordinator("b", b, reg.factory, func(peerId string, err error) {
		mu.Lock()
		closedPeers = append(closedPeers, peerId)
		mu.Unlock()
	})
	defer coord.Close()

	coord.Sync([]string{"a", "c"}, map[string]bool{"a": false, "c": true})
	connA, ok := coord.Conn("a")
	require.True(t, ok)
	_, ok = coord.Conn("c")
	require.True(t, ok)

	// a departs, c stays, d joins
	coord.Sync([]string{"c", "d"}, map[string]bool{"c": true, "d": false})

	_, ok = coord.Conn("a")
	assert.False(t, ok)
	assert.Equal(t, StateClosed, connA.State())
	_, ok = coord.Conn("d")
	assert.True(t, ok)
	mu.Lock()
	assert.Equal(t, []string{"a"}, closedPeers)
	mu.Unlock()
}

func TestSyncKeepsExistingConnection(t *testing.T) {
	b := newBus()
	reg := newRegistry()
	coord := NewCoordinator("b", b, reg.factory, nil)
	defer coord.Close()

	coord.Sync([]string{"c"}, map[string]bool{"c": true})
	first, ok := coord.Conn("c")
	require.True(t, ok)

	coord.Sync([]string{"c"}, map[string]bool{"c": true})
	second, ok := coord.Conn("c")
	require.True(t, ok)
	assert.Same(t, first, second)
}

func TestConcurrentDeliveryCreatesOneSignaler(t *testing.T) {
	b := newBus()
	var mu sync.Mutex
	created := 0
	var only *fakeSignaler
	factory := func(peerId string, initiator bool, emit func(data []byte), onConnect func(), onClose func(err error)) (Signaler, error) {
		f := &fakeSignaler{initiator: initiator, emit: emit, onConnect: onConnect}
		mu.Lock()
		created++
		only = f
		mu.Unlock()
		return f, nil
	}
	coord := NewCoordinator("a", b, factory, nil)
	defer coord.Close()

	conn, err := coord.Connect("b", true)
	require.NoError(t, err)

	// the peer's open-time ready, its echo and the answer can all land
	// on overlapping goroutines on a bus with no delivery order
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Publish("b:a", []byte("ready"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Publish("b:a", []byte("answer"))
	}()
	wg.Wait()

	mu.Lock()
	require.Equal(t, 1, created)
	f := only
	mu.Unlock()

	// the racing payload reached the single signaler, queued or direct
	assert.Equal(t, []string{"answer"}, f.signals())
	assert.Equal(t, StateConnected, conn.State())
}

func TestSignalerFailureSurfacesOnClose(t *testing.T) {
	b := newBus()
	boom := errors.New("ice failed")
	var mu sync.Mutex
	var gotErr error
	factory := func(peerId string, initiator bool, emit func(data []byte), onConnect func(), onClose func(err error)) (Signaler, error) {
		f := &fakeSignaler{initiator: initiator, emit: func([]byte) { onClose(boom) }, onConnect: onConnect}
		return f, nil
	}
	coord := NewCoordinator("a", b, factory, func(peerId string, err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})
	defer coord.Close()

	conn, err := coord.Connect("b", true)
	require.NoError(t, err)

	// peer readiness triggers negotiation, whose first emit blows up
	require.NoError(t, b.Publish("b:a", []byte("ready")))

	assert.Equal(t, StateClosed, conn.State())
	_, ok := coord.Conn("b")
	assert.False(t, ok)
	mu.Lock()
	assert.Same(t, boom, gotErr)
	mu.Unlock()
}
