package memory

import "math"

// Statistics summarizes the engine's memory usage.
type Statistics struct {
	// BlockCount is the number of device memory blocks held by the engine.
	BlockCount int
	// AllocationCount is the number of live suballocations.
	AllocationCount int
	// BlockBytes is the total byte size of the held device memory blocks.
	BlockBytes int
	// AllocationBytes is the number of block bytes reserved by live
	// suballocations.
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

// DetailedStatistics extends Statistics with free-region data gathered by
// walking the region lists. Collecting it is linear in the number of regions.
type DetailedStatistics struct {
	Statistics
	FreeRegionCount   int
	AllocationSizeMin int
	AllocationSizeMax int
	FreeRegionSizeMin int
	FreeRegionSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRegionCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeRegionSizeMin = math.MaxInt
	s.FreeRegionSizeMax = 0
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}
	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddFreeRegion(size int) {
	s.FreeRegionCount++

	if size < s.FreeRegionSizeMin {
		s.FreeRegionSizeMin = size
	}
	if size > s.FreeRegionSizeMax {
		s.FreeRegionSizeMax = size
	}
}
