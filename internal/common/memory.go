// Package common provides small process-level helpers shared by the
// pipeline and the CLI.
package common

import (
	"fmt"
	"runtime"
)

// MemoryStats is a point-in-time view of process memory.
type MemoryStats struct {
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	Goroutines int
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		HeapAlloc:  m.HeapAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Heap: %d KB, Sys: %d KB, GC: %d, Goroutines: %d",
		m.HeapAlloc/1024, m.Sys/1024, m.NumGC, m.Goroutines)
}
