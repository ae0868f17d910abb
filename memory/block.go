package memory

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// region is one contiguous range of a block, either free or backing a live
// allocation. Regions form an offset-ordered doubly-linked list covering the
// whole block; adjacent free regions are always merged.
type region struct {
	offset int
	size   int
	taken  bool
	handle AllocationHandle

	prev *region
	next *region
}

// block suballocates one gpu.DeviceMemory allocation with a first-fit
// free-list search.
type block struct {
	class  Class
	memory gpu.DeviceMemory
	size   int

	head      *region
	handleKey *swiss.Map[AllocationHandle, *region]

	freeBytes  int
	allocBytes int
	liveCount  int
}

func newBlock(class Class, memory gpu.DeviceMemory) *block {
	size := memory.Size()
	head := &region{offset: 0, size: size}

	return &block{
		class:     class,
		memory:    memory,
		size:      size,
		head:      head,
		handleKey: swiss.NewMap[AllocationHandle, *region](42),
		freeBytes: size,
	}
}

func alignUp(value int, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// allocate reserves size bytes at the given alignment and registers them
// under handle. Returns the offset of the reservation, or false if no free
// region can satisfy the request.
func (b *block) allocate(size int, alignment int, handle AllocationHandle) (int, bool) {
	// A zero-size request still needs a live region so its handle round-trips
	// through the release channel like any other.
	reserve := size
	if reserve == 0 {
		reserve = 1
	}

	for r := b.head; r != nil; r = r.next {
		if r.taken {
			continue
		}

		alignedOffset := alignUp(r.offset, alignment)
		padding := alignedOffset - r.offset
		if r.size < padding+reserve {
			continue
		}

		if padding > 0 {
			front := &region{offset: r.offset, size: padding, prev: r.prev, next: r}
			if r.prev != nil {
				r.prev.next = front
			} else {
				b.head = front
			}
			r.prev = front
			r.offset = alignedOffset
			r.size -= padding
		}

		if leftover := r.size - reserve; leftover > 0 {
			tail := &region{offset: r.offset + reserve, size: leftover, prev: r, next: r.next}
			if r.next != nil {
				r.next.prev = tail
			}
			r.next = tail
			r.size = reserve
		}

		r.taken = true
		r.handle = handle
		b.handleKey.Put(handle, r)
		b.freeBytes -= reserve
		b.allocBytes += reserve
		b.liveCount++
		return r.offset, true
	}

	return 0, false
}

// free releases the region registered under handle and merges it with any
// free neighbors.
func (b *block) free(handle AllocationHandle) error {
	r, ok := b.handleKey.Get(handle)
	if !ok {
		return errors.Newf("allocation handle %d is not live in this block", handle)
	}

	b.handleKey.Delete(handle)
	r.taken = false
	r.handle = NoAllocation
	b.freeBytes += r.size
	b.allocBytes -= r.size
	b.liveCount--

	if next := r.next; next != nil && !next.taken {
		r.size += next.size
		r.next = next.next
		if next.next != nil {
			next.next.prev = r
		}
	}
	if prev := r.prev; prev != nil && !prev.taken {
		prev.size += r.size
		prev.next = r.next
		if r.next != nil {
			r.next.prev = prev
		}
	}

	return nil
}

func (b *block) addDetailedStatistics(stats *DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += b.size

	for r := b.head; r != nil; r = r.next {
		if r.taken {
			stats.AddAllocation(r.size)
		} else {
			stats.AddFreeRegion(r.size)
		}
	}
}

func (b *block) destroy() {
	b.memory.Free()
	b.memory = nil
	b.head = nil
}
