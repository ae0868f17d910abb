// Package memory implements the engine-side memory-allocation engine: a
// fixed-capacity suballocator over one device memory block per memory class.
// Allocation records handed out by the engine are opaque to their holders and
// must come back through Free exactly once, no matter which goroutine the
// owning resource was dropped on.
package memory

import (
	"math/bits"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

var (
	// ErrOutOfMemory is returned when no free region can satisfy an
	// allocation request.
	ErrOutOfMemory = errors.New("out of device memory")
	// ErrUnknownAllocation is returned when an allocation record is freed
	// that is not live in this engine - a double free or a record from a
	// different engine.
	ErrUnknownAllocation = errors.New("allocation is not live in this engine")
)

// DefaultHeapSize is the per-class block size used when EngineOptions does
// not override it.
const DefaultHeapSize = 256 * 1024 * 1024

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// Device performs the underlying block allocations. Required.
	Device gpu.Device
	// CPUVisibleHeapSize overrides the size of the host-mappable block.
	CPUVisibleHeapSize int
	// GPUOnlyHeapSize overrides the size of the device-local block.
	GPUOnlyHeapSize int
	// Logger receives engine debug output. Defaults to slog.Default().
	Logger *slog.Logger
	// UseMutex makes the engine safe for concurrent use. The engine is
	// normally owned and polled by a single goroutine, in which case the
	// lock cost can be skipped.
	UseMutex bool
}

// Engine is the memory-allocation engine. One Engine is owned by one
// allocator; it is not shared between subsystems.
type Engine struct {
	logger *slog.Logger
	device gpu.Device
	mutex  utils.OptionalMutex

	blocks     [2]*block
	nextHandle AllocationHandle
	destroyed  bool
}

func checkPow2(value int, name string) error {
	if value <= 0 || bits.OnesCount(uint(value)) != 1 {
		return errors.Newf("%s must be a power of two, got %d", name, value)
	}
	return nil
}

// NewEngine reserves one device memory block per memory class and prepares
// the engine for allocations.
func NewEngine(options EngineOptions) (*Engine, error) {
	if options.Device == nil {
		return nil, errors.New("EngineOptions.Device is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cpuVisibleSize := options.CPUVisibleHeapSize
	if cpuVisibleSize == 0 {
		cpuVisibleSize = DefaultHeapSize
	}
	gpuOnlySize := options.GPUOnlyHeapSize
	if gpuOnlySize == 0 {
		gpuOnlySize = DefaultHeapSize
	}

	engine := &Engine{
		logger: logger,
		device: options.Device,
		mutex:  utils.OptionalMutex{UseMutex: options.UseMutex},
	}

	cpuVisibleMemory, err := options.Device.AllocateMemory(cpuVisibleSize, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes of host-visible memory", cpuVisibleSize)
	}
	engine.blocks[ClassCPUVisible] = newBlock(ClassCPUVisible, cpuVisibleMemory)

	gpuOnlyMemory, err := options.Device.AllocateMemory(gpuOnlySize, false)
	if err != nil {
		cpuVisibleMemory.Free()
		return nil, errors.Wrapf(err, "failed to reserve %d bytes of device-local memory", gpuOnlySize)
	}
	engine.blocks[ClassGPUOnly] = newBlock(ClassGPUOnly, gpuOnlyMemory)

	logger.Debug("memory engine created",
		slog.Int("cpuVisibleBytes", cpuVisibleSize),
		slog.Int("gpuOnlyBytes", gpuOnlySize))

	return engine, nil
}

// Allocate reserves size bytes at the given alignment in the requested memory
// class. Returns ErrOutOfMemory when the class's block cannot satisfy the
// request.
func (e *Engine) Allocate(size int, alignment int, class Class) (*Allocation, error) {
	if size < 0 {
		return nil, errors.Newf("allocation size must be non-negative, got %d", size)
	}
	if err := checkPow2(alignment, "allocation alignment"); err != nil {
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.destroyed {
		return nil, errors.New("allocation requested from a destroyed engine")
	}

	e.nextHandle++
	handle := e.nextHandle

	block := e.blocks[class]
	offset, ok := block.allocate(size, alignment, handle)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfMemory, "%d bytes at alignment %d in %s", size, alignment, class)
	}

	return &Allocation{
		handle: handle,
		class:  class,
		offset: offset,
		size:   size,
		memory: block.memory,
	}, nil
}

// Free returns an allocation record to the engine. Each record must be freed
// exactly once; a second Free of the same record reports ErrUnknownAllocation.
func (e *Engine) Free(allocation *Allocation) error {
	if allocation == nil {
		return errors.New("attempted to free a nil allocation")
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.blocks[allocation.class].free(allocation.handle); err != nil {
		return errors.Mark(err, ErrUnknownAllocation)
	}
	return nil
}

// OutstandingAllocations reports the number of live suballocations across all
// memory classes.
func (e *Engine) OutstandingAllocations() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	count := 0
	for _, block := range e.blocks {
		count += block.liveCount
	}
	return count
}

// Statistics summarizes current usage.
func (e *Engine) Statistics() Statistics {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var stats Statistics
	for _, block := range e.blocks {
		stats.BlockCount++
		stats.BlockBytes += block.size
		stats.AllocationCount += block.liveCount
		stats.AllocationBytes += block.allocBytes
	}
	return stats
}

// DetailedStatistics walks the region lists for free-region data.
func (e *Engine) DetailedStatistics() DetailedStatistics {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var stats DetailedStatistics
	stats.Clear()
	for _, block := range e.blocks {
		block.addDetailedStatistics(&stats)
	}
	return stats
}

// WriteStatsJSON streams a diagnostic dump of per-class usage into the
// provided JSON writer.
func (e *Engine) WriteStatsJSON(writer *jwriter.Writer) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	root := writer.Object()
	for class, block := range e.blocks {
		classObject := root.Name(Class(class).String()).Object()
		classObject.Name("TotalBytes").Int(block.size)
		classObject.Name("FreeBytes").Int(block.freeBytes)
		classObject.Name("AllocationBytes").Int(block.allocBytes)
		classObject.Name("Allocations").Int(block.liveCount)
		classObject.End()
	}
	root.End()
}

// Destroy releases the engine's device memory blocks. Every allocation must
// have been freed first; tearing down the engine with allocations outstanding
// would leave dangling resource handles, so Destroy refuses.
func (e *Engine) Destroy() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.destroyed {
		return nil
	}

	outstanding := 0
	for _, block := range e.blocks {
		outstanding += block.liveCount
	}
	if outstanding > 0 {
		return errors.Newf("engine destroyed with %d allocations outstanding", outstanding)
	}

	for _, block := range e.blocks {
		block.destroy()
	}
	e.destroyed = true
	e.logger.Debug("memory engine destroyed")
	return nil
}
