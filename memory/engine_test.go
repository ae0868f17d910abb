package memory

import (
	"io"
	"testing"

	"github.com/MyriadMinds/virtual-circus/gpu/gputest"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func readyEngine(t *testing.T, cpuVisibleSize int, gpuOnlySize int) (*gputest.Device, *Engine) {
	t.Helper()

	device := gputest.NewDevice()
	engine, err := NewEngine(EngineOptions{
		Device:             device,
		CPUVisibleHeapSize: cpuVisibleSize,
		GPUOnlyHeapSize:    gpuOnlySize,
		Logger:             slog.New(slog.NewJSONHandler(io.Discard)),
	})
	require.NoError(t, err)

	return device, engine
}

func TestAllocateAndFree(t *testing.T) {
	device, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(1024, 16, ClassCPUVisible)
	require.NoError(t, err)
	require.Equal(t, 1024, allocation.Size())
	require.Equal(t, ClassCPUVisible, allocation.Class())
	require.Equal(t, 1, engine.OutstandingAllocations())

	mapped, err := allocation.MappedBytes()
	require.NoError(t, err)
	require.Len(t, mapped, 1024)
	mapped[0] = 0xAB
	mapped[1023] = 0xCD

	require.NoError(t, engine.Free(allocation))
	require.Equal(t, 0, engine.OutstandingAllocations())

	require.NoError(t, engine.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
}

func TestAllocationAlignment(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	first, err := engine.Allocate(10, 16, ClassCPUVisible)
	require.NoError(t, err)

	second, err := engine.Allocate(10, 256, ClassCPUVisible)
	require.NoError(t, err)
	require.Equal(t, 0, second.Offset()%256)

	require.NoError(t, engine.Free(first))
	require.NoError(t, engine.Free(second))
}

func TestAllocateRejectsBadArguments(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	_, err := engine.Allocate(-1, 16, ClassCPUVisible)
	require.Error(t, err)

	_, err = engine.Allocate(16, 3, ClassCPUVisible)
	require.Error(t, err)

	_, err = engine.Allocate(16, 0, ClassCPUVisible)
	require.Error(t, err)
}

func TestOutOfMemoryAndRecovery(t *testing.T) {
	_, engine := readyEngine(t, 1024, 1024)

	first, err := engine.Allocate(512, 16, ClassCPUVisible)
	require.NoError(t, err)
	second, err := engine.Allocate(512, 16, ClassCPUVisible)
	require.NoError(t, err)

	_, err = engine.Allocate(512, 16, ClassCPUVisible)
	require.ErrorIs(t, err, ErrOutOfMemory)

	// Freeing makes the same request satisfiable again.
	require.NoError(t, engine.Free(first))
	third, err := engine.Allocate(512, 16, ClassCPUVisible)
	require.NoError(t, err)

	require.NoError(t, engine.Free(second))
	require.NoError(t, engine.Free(third))
}

func TestFreeRegionsCoalesce(t *testing.T) {
	_, engine := readyEngine(t, 1024, 1024)

	first, err := engine.Allocate(256, 16, ClassCPUVisible)
	require.NoError(t, err)
	second, err := engine.Allocate(256, 16, ClassCPUVisible)
	require.NoError(t, err)
	third, err := engine.Allocate(512, 16, ClassCPUVisible)
	require.NoError(t, err)

	// Freeing out of order must merge neighbors back into one region big
	// enough for a full-heap allocation.
	require.NoError(t, engine.Free(third))
	require.NoError(t, engine.Free(first))
	require.NoError(t, engine.Free(second))

	whole, err := engine.Allocate(1024, 16, ClassCPUVisible)
	require.NoError(t, err)
	require.NoError(t, engine.Free(whole))
}

func TestDoubleFree(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(64, 16, ClassCPUVisible)
	require.NoError(t, err)

	require.NoError(t, engine.Free(allocation))
	require.ErrorIs(t, engine.Free(allocation), ErrUnknownAllocation)
}

func TestZeroSizeAllocation(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(0, 16, ClassCPUVisible)
	require.NoError(t, err)
	require.Equal(t, 0, allocation.Size())

	mapped, err := allocation.MappedBytes()
	require.NoError(t, err)
	require.Len(t, mapped, 0)

	require.NoError(t, engine.Free(allocation))
	require.Equal(t, 0, engine.OutstandingAllocations())
}

func TestGPUOnlyIsNotMappable(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(64, 16, ClassGPUOnly)
	require.NoError(t, err)

	_, err = allocation.MappedBytes()
	require.Error(t, err)

	require.NoError(t, engine.Free(allocation))
}

func TestStatistics(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	first, err := engine.Allocate(100, 16, ClassCPUVisible)
	require.NoError(t, err)
	second, err := engine.Allocate(200, 16, ClassGPUOnly)
	require.NoError(t, err)

	stats := engine.Statistics()
	require.Equal(t, 2, stats.BlockCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 8192, stats.BlockBytes)
	require.Equal(t, 300, stats.AllocationBytes)

	detailed := engine.DetailedStatistics()
	require.Equal(t, 2, detailed.AllocationCount)
	require.Equal(t, 100, detailed.AllocationSizeMin)
	require.Equal(t, 200, detailed.AllocationSizeMax)
	require.Equal(t, 2, detailed.FreeRegionCount)

	require.NoError(t, engine.Free(first))
	require.NoError(t, engine.Free(second))
}

func TestWriteStatsJSON(t *testing.T) {
	_, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(128, 16, ClassCPUVisible)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	engine.WriteStatsJSON(&writer)
	require.NoError(t, writer.Error())

	dump := string(writer.Bytes())
	require.Contains(t, dump, ClassCPUVisible.String())
	require.Contains(t, dump, ClassGPUOnly.String())
	require.Contains(t, dump, `"AllocationBytes":128`)

	require.NoError(t, engine.Free(allocation))
}

func TestDestroyRefusesOutstandingAllocations(t *testing.T) {
	device, engine := readyEngine(t, 4096, 4096)

	allocation, err := engine.Allocate(64, 16, ClassCPUVisible)
	require.NoError(t, err)

	require.Error(t, engine.Destroy())
	require.Equal(t, 2, device.LiveMemoryBlocks())

	require.NoError(t, engine.Free(allocation))
	require.NoError(t, engine.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
}
