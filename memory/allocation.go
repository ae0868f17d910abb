package memory

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
)

// Class selects which kind of device memory an allocation lives in.
type Class uint32

const (
	// ClassCPUVisible memory can be mapped and written directly by the host.
	ClassCPUVisible Class = iota
	// ClassGPUOnly memory is device-local and can only be filled through
	// transfer commands staged from CPU-visible memory.
	ClassGPUOnly
)

var classMapping = make(map[Class]string)

func (c Class) String() string {
	return classMapping[c]
}

func init() {
	classMapping[ClassCPUVisible] = "ClassCPUVisible"
	classMapping[ClassGPUOnly] = "ClassGPUOnly"
}

// AllocationHandle identifies a live suballocation within the engine.
type AllocationHandle uint64

// NoAllocation is the zero AllocationHandle; it never maps to a live
// suballocation.
const NoAllocation AllocationHandle = 0

// Allocation is the opaque record for one reserved region of device memory.
// It is produced by Engine.Allocate and must be returned to the same engine
// through Engine.Free exactly once. Resource handles move their Allocation
// into the deferred-release channel on destruction, so the record has to stay
// meaningful after the GPU object it once backed is gone.
type Allocation struct {
	handle AllocationHandle
	class  Class
	offset int
	size   int
	memory gpu.DeviceMemory
}

// Handle returns the engine-side identity of the allocation.
func (a *Allocation) Handle() AllocationHandle {
	return a.handle
}

// Class returns the memory class the allocation was made from.
func (a *Allocation) Class() Class {
	return a.class
}

// Offset returns the byte offset of the allocation within its backing block.
func (a *Allocation) Offset() int {
	return a.offset
}

// Size returns the byte size of the allocation.
func (a *Allocation) Size() int {
	return a.size
}

// Memory returns the device memory block backing the allocation, for binding
// buffers and images.
func (a *Allocation) Memory() gpu.DeviceMemory {
	return a.memory
}

// MappedBytes returns the host-visible view of the allocation. Only
// ClassCPUVisible allocations can be mapped.
func (a *Allocation) MappedBytes() ([]byte, error) {
	mapped := a.memory.MappedBytes()
	if mapped == nil {
		return nil, errors.Newf("allocation in %s cannot be mapped by the host", a.class)
	}
	return mapped[a.offset : a.offset+a.size], nil
}
