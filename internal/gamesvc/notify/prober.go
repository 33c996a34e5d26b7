package notify

import (
	"sync"
	"time"
)

const (
	// DefaultProbeInterval is how often a liveness probe is emitted.
	DefaultProbeInterval = 10 * time.Second
	// DefaultProbeTimeout is how long the prober waits for a respond
	// before marking the user inactive.
	DefaultProbeTimeout = 500 * time.Millisecond
)

// Prober drives the presence protocol for one client: it emits a ping
// on an interval and expects a respond within the timeout window.
// A respond keeps the user's liveness timestamp fresh; a miss clears
// it, which removes the user from every peer topology.
type Prober struct {
	interval time.Duration
	timeout  time.Duration
	ping     func()
	active   func(alive bool)

	respond  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewProber(interval, timeout time.Duration, ping func(), active func(alive bool)) *Prober {
	return &Prober{
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		active:   active,
		respond:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (p *Prober) Start() {
	go p.run()
}

// Respond records a liveness reply from the client. Safe to call at
// any time; replies outside a probe window are dropped.
func (p *Prober) Respond() {
	select {
	case p.respond <- struct{}{}:
	default:
	}
}

func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Prober) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		// drop a stale reply from a previous window
		select {
		case <-p.respond:
		default:
		}

		p.ping()

		timer := time.NewTimer(p.timeout)
		select {
		case <-p.respond:
			timer.Stop()
			p.active(true)
		case <-timer.C:
			p.active(false)
		case <-p.stop:
			timer.Stop()
			return
		}
	}
}
