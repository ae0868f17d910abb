package allocator

import (
	"sync"
	"sync/atomic"

	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
)

// ErrReleaseDisconnected is reported by Allocator.ProcessDeallocations once
// every sender on the release channel has closed: no resource handle that
// could still return an allocation exists anymore. During Cleanup this is the
// expected termination signal, not a failure.
var ErrReleaseDisconnected = errors.New("release channel disconnected")

// errReleaseEmpty is the internal "no allocation waiting right now" signal.
var errReleaseEmpty = errors.New("release channel empty")

// releaseState is the shared core of the release channel. The queue is
// unbounded so that destroying a resource handle never blocks, no matter
// which goroutine it happens on. Senders are reference counted: the channel
// reports disconnected only after the allocator's own sender and the sender
// clone held by every resource handle have all closed.
type releaseState struct {
	mu           sync.Mutex
	queue        []*memory.Allocation
	senders      int
	receiverGone bool
}

// releaseSender is one sending handle on the release channel. Every resource
// handle carries its own clone, bound at construction time, so destruction
// can post back to the originating allocator without holding a reference to
// the allocator itself.
type releaseSender struct {
	state  *releaseState
	closed atomic.Bool
}

// releaseReceiver is the single receiving end, owned by the allocator.
type releaseReceiver struct {
	state *releaseState
}

func newReleaseChannel() (*releaseSender, *releaseReceiver) {
	state := &releaseState{senders: 1}
	return &releaseSender{state: state}, &releaseReceiver{state: state}
}

// Clone registers a new sending handle. The channel does not disconnect
// until this handle is closed.
func (s *releaseSender) Clone() *releaseSender {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.senders++
	return &releaseSender{state: s.state}
}

// Send posts an allocation back to the receiving allocator. Fails only when
// the receiver itself is gone, which means the allocator was torn down while
// resource handles were still alive.
func (s *releaseSender) Send(allocation *memory.Allocation) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.receiverGone {
		return errors.New("release channel receiver is gone")
	}
	s.state.queue = append(s.state.queue, allocation)
	return nil
}

// Close drops this sending handle. Safe to call once per handle; the channel
// disconnects when the last handle closes.
func (s *releaseSender) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.senders--
}

// TryRecv takes the next returned allocation without blocking. Reports
// errReleaseEmpty when nothing is waiting and ErrReleaseDisconnected when
// nothing is waiting and no sender remains.
func (r *releaseReceiver) TryRecv() (*memory.Allocation, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if len(r.state.queue) > 0 {
		allocation := r.state.queue[0]
		r.state.queue = r.state.queue[1:]
		return allocation, nil
	}

	if r.state.senders == 0 {
		return nil, ErrReleaseDisconnected
	}
	return nil, errReleaseEmpty
}

// close marks the receiver as gone; subsequent sends fail. Called during
// allocator teardown, after the channel has drained.
func (r *releaseReceiver) close() {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.receiverGone = true
}
