// Package benchmark - Functionality for running benchmarks.
package benchmark

import (
	"time"

	"github.com/scenic-viber/viber/inference"
)

// PerformanceMetrics captures detailed performance data
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	Images          int           `json:"images"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	FramesPerSecond float64       `json:"frames_per_second"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
	// Session is the time spent inside the runtime session, when the
	// predictor reports it.
	Session *inference.Metrics `json:"session,omitempty"`
	NumCPU          int           `json:"num_cpu"`
	SegmentCount    int           `json:"segment_count"`
	Errors          int           `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}
