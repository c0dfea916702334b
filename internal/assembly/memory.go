package assembly

import (
	"fmt"
	"os"
	"runtime/metrics"
)

// HeapSampler reports live heap usage for headroom checks.
type HeapSampler interface {
	HeapBytes() (uint64, error)
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// RuntimeHeap reads the Go runtime's live heap object bytes.
type RuntimeHeap struct{}

func (RuntimeHeap) HeapBytes() (uint64, error) {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0, fmt.Errorf("runtime metric %s unavailable", heapObjectsMetric)
	}
	return sample[0].Value.Uint64(), nil
}

// SizeLookup resolves a selected path to its size in bytes.
// *filetree.Index satisfies it.
type SizeLookup interface {
	Size(path string) (int64, bool)
}

// StatSizes resolves sizes from the filesystem. Directories report false.
type StatSizes struct{}

func (StatSizes) Size(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}
