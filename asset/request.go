package asset

import (
	"github.com/MyriadMinds/virtual-circus/allocator"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotReady means the producer has not delivered yet; poll again later.
	ErrNotReady = errors.New("requested resources are not ready yet")
	// ErrRequestBroken means the producer went away without delivering. The
	// request can never complete; retrying is pointless.
	ErrRequestBroken = errors.New("resource request lost its producer")
	// ErrAlreadyFinalized means the request's resources were already consumed
	// by an earlier Finalize.
	ErrAlreadyFinalized = errors.New("model request already finalized")
)

// ModelRequest tracks one model upload that has been dispatched but not yet
// confirmed. The buffer and image pipelines complete independently; Poll
// checks both without blocking, and once both have delivered, Finalize
// assembles the model exactly once.
type ModelRequest struct {
	source *ModelSource

	bufferCh chan []*allocator.Buffer
	imageCh  chan []*allocator.Image

	buffers      []*allocator.Buffer
	images       []*allocator.Image
	buffersReady bool
	imagesReady  bool

	broken    bool
	finalized bool
}

func newModelRequest(source *ModelSource) *ModelRequest {
	return &ModelRequest{
		source:   source,
		bufferCh: make(chan []*allocator.Buffer, 1),
		imageCh:  make(chan []*allocator.Image, 1),
	}
}

// completeBuffers delivers the uploaded buffers and closes the pipeline.
func (r *ModelRequest) completeBuffers(buffers []*allocator.Buffer) {
	r.bufferCh <- buffers
	close(r.bufferCh)
}

// completeImages delivers the uploaded images and closes the pipeline.
func (r *ModelRequest) completeImages(images []*allocator.Image) {
	r.imageCh <- images
	close(r.imageCh)
}

// fail closes both pipelines without delivering, so holders of the request
// observe ErrRequestBroken instead of polling forever. Only valid before any
// complete call.
func (r *ModelRequest) fail() {
	close(r.bufferCh)
	close(r.imageCh)
}

// Poll advances the request without blocking. Returns nil once both
// pipelines have delivered, ErrNotReady while either is still pending, and
// ErrRequestBroken once a producer is observed gone. Polling a pending
// request any number of times has no side effects.
func (r *ModelRequest) Poll() error {
	if r.broken {
		return errors.WithStack(ErrRequestBroken)
	}

	if !r.buffersReady {
		select {
		case buffers, ok := <-r.bufferCh:
			if !ok {
				r.broken = true
				return errors.WithStack(ErrRequestBroken)
			}
			r.buffers = buffers
			r.buffersReady = true
		default:
		}
	}

	if !r.imagesReady {
		select {
		case images, ok := <-r.imageCh:
			if !ok {
				r.broken = true
				return errors.WithStack(ErrRequestBroken)
			}
			r.images = images
			r.imagesReady = true
		default:
		}
	}

	if !r.buffersReady || !r.imagesReady {
		return errors.WithStack(ErrNotReady)
	}
	return nil
}

// Finalize consumes the delivered resources into a usable model. It succeeds
// at most once; the request is spent afterwards. Fails with ErrNotReady if
// any pipeline is still pending.
func (r *ModelRequest) Finalize() (*Model, error) {
	if r.finalized {
		return nil, errors.WithStack(ErrAlreadyFinalized)
	}
	if err := r.Poll(); err != nil {
		return nil, err
	}

	r.finalized = true
	model := &Model{
		Name:      r.source.Name,
		Scenes:    r.source.Scenes,
		Meshes:    r.source.Meshes,
		Views:     r.source.Views,
		Accessors: r.source.Accessors,
		Buffers:   r.buffers,
		Images:    r.images,
	}
	r.buffers = nil
	r.images = nil
	return model, nil
}
