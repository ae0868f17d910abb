// Package messagebus carries the messages the engine systems exchange. Every
// message posted to the bus is fanned out to every registered mailbox;
// resources inside messages travel in one-shot payload containers so that
// exactly one subscriber ends up owning them.
package messagebus

import (
	"sync"

	"golang.org/x/exp/slog"
)

// Bus fans posted messages out to every mailbox. Run drives the fan-out and
// is meant to occupy its own goroutine; it returns after delivering a Stop
// message. Posting never blocks, the pending queue is unbounded.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []Message
	stopped   bool
	mailboxes []*Mailbox
}

// NewBus creates a bus with no mailboxes. Logger defaults to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	bus := &Bus{logger: logger}
	bus.cond = sync.NewCond(&bus.mu)
	return bus
}

// Mailbox registers a new mailbox on the bus. All mailboxes must be created
// before Run starts delivering; a mailbox added later misses earlier
// messages.
func (b *Bus) Mailbox() *Mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	mailbox := &Mailbox{bus: b}
	b.mailboxes = append(b.mailboxes, mailbox)
	return mailbox
}

// Name identifies the bus when run as a system.
func (b *Bus) Name() string {
	return "message-bus"
}

// Run delivers posted messages to every mailbox until a Stop message has been
// fanned out, then returns. Messages posted after the Stop are dropped.
func (b *Bus) Run() {
	b.logger.Debug("message bus running")

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		for len(b.pending) == 0 {
			b.cond.Wait()
		}

		message := b.pending[0]
		b.pending = b.pending[1:]

		for _, mailbox := range b.mailboxes {
			mailbox.deliver(message)
		}

		if message.Kind == MessageStop {
			b.stopped = true
			b.logger.Debug("message bus stopped")
			return
		}
	}
}

func (b *Bus) post(message Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		b.logger.Debug("dropping message posted after stop", slog.Any("message", message))
		return
	}
	b.pending = append(b.pending, message)
	b.cond.Signal()
}

// Mailbox is one system's receiving end on the bus. Delivery is buffered and
// unbounded; Check drains without blocking.
type Mailbox struct {
	bus *Bus

	mu          sync.Mutex
	queue       []Message
	shouldClose bool
}

func (m *Mailbox) deliver(message Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, message)
	if message.Kind == MessageStop {
		m.shouldClose = true
	}
}

// Post broadcasts a message to every mailbox on the bus, including this one.
func (m *Mailbox) Post(message Message) {
	m.bus.post(message)
}

// Check drains and returns the messages delivered since the previous Check.
// It never blocks; an empty result means nothing has arrived yet.
func (m *Mailbox) Check() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := m.queue
	m.queue = nil
	return messages
}

// ShouldClose reports whether a Stop message has been delivered to this
// mailbox. It latches: once true it stays true.
func (m *Mailbox) ShouldClose() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldClose
}
