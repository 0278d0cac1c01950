package authclient

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vhorizon/authstate/session"
)

// Listener receives auth state changes. s is nil for EventSignedOut.
type Listener func(event session.Event, s *session.Session)

type notification struct {
	event   session.Event
	session *session.Session
}

// dispatcher delivers notifications to listeners from one goroutine, in emit order.
// The queue is unbounded so emit never blocks the request path.
type dispatcher struct {
	log *zap.Logger

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	queue     []notification
	closed    bool
	wake      chan struct{}
	stopped   chan struct{}
}

func newDispatcher(log *zap.Logger) *dispatcher {
	d := &dispatcher{
		log:       log,
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn Listener) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) emit(event session.Event, s *session.Session) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, notification{event: event, session: s.Clone()})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		n := d.queue[0]
		d.queue[0] = notification{}
		d.queue = d.queue[1:]
		targets := make([]Listener, 0, len(d.listeners))
		for _, fn := range d.listeners {
			targets = append(targets, fn)
		}
		d.mu.Unlock()

		for _, fn := range targets {
			d.deliver(fn, n)
		}
	}
}

func (d *dispatcher) deliver(fn Listener, n notification) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("auth listener panicked", zap.String("auth_event", n.event.String()), zap.Any("panic", r))
		}
	}()
	fn(n.event, n.session.Clone())
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}

// OnAuthStateChange registers fn for auth state changes and returns a function that
// unregisters it. Unregistering is idempotent.
func (c *Client) OnAuthStateChange(fn func(event session.Event, s *session.Session)) (unsubscribe func()) {
	return c.events.subscribe(fn)
}

func (c *Client) emit(event session.Event, s *session.Session) {
	c.log.Debug("auth state change", zap.String("auth_event", event.String()), zap.String("user_id", s.UserID()))
	c.events.emit(event, s)
}
