package benchmark

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/scenic-viber/viber/inference"
	"github.com/scenic-viber/viber/models/postprocess"
)

// ErrNoImages is returned when a scenario is run without any input image.
var ErrNoImages = errors.New("benchmark needs at least one image")

// Predictor is the part of the model wrapper exercised by a benchmark.
type Predictor interface {
	PredictImage(ctx context.Context, img image.Image) (*postprocess.Result, error)
}

// SessionMeter is implemented by predictors that can report the time spent
// inside the runtime session, apart from pre- and post-processing.
type SessionMeter interface {
	SessionMetrics() (inference.Metrics, bool)
	ResetSessionMetrics()
}

// Scenario describes one timed run.
type Scenario struct {
	Name       string `json:"name"`
	Backbone   string `json:"backbone"`
	Task       string `json:"task"`
	Iterations int    `json:"iterations"`
	WarmupRuns int    `json:"warmup_runs"`
}

// Run executes the scenario sequentially over imgs, cycling through them
// until Iterations predictions have been made. Warmup runs are not timed and
// their errors are ignored. Prediction errors are counted, not returned; only
// context cancellation aborts the run.
func Run(ctx context.Context, p Predictor, imgs []image.Image, sc Scenario) (*PerformanceMetrics, error) {
	if len(imgs) == 0 {
		return nil, ErrNoImages
	}
	if sc.Iterations <= 0 {
		sc.Iterations = len(imgs)
	}

	metrics := &PerformanceMetrics{
		Scenario:  sc,
		Timestamp: time.Now(),
		Images:    len(imgs),
		NumCPU:    runtime.NumCPU(),
	}

	for i := 0; i < sc.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, _ = p.PredictImage(ctx, imgs[i%len(imgs)])
	}

	meter, metered := p.(SessionMeter)
	if metered {
		meter.ResetSessionMetrics()
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	var measured time.Duration
	succeeded := 0
	for i := 0; i < sc.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := p.PredictImage(ctx, imgs[i%len(imgs)])
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.Errors++
			continue
		}

		succeeded++
		measured += elapsed
		metrics.SegmentCount += len(res.Segments)
		if metrics.MinDuration == 0 || elapsed < metrics.MinDuration {
			metrics.MinDuration = elapsed
		}
		if elapsed > metrics.MaxDuration {
			metrics.MaxDuration = elapsed
		}
	}

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.TotalDuration = measured
	if succeeded > 0 {
		metrics.AverageDuration = measured / time.Duration(succeeded)
	}
	if measured > 0 {
		metrics.FramesPerSecond = float64(succeeded) / measured.Seconds()
	}
	metrics.ErrorRate = float64(metrics.Errors) / float64(sc.Iterations)
	if metered {
		if session, ok := meter.SessionMetrics(); ok {
			metrics.Session = &session
		}
	}

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	return metrics, nil
}

// WriteJSON writes the metrics as indented JSON.
func (m *PerformanceMetrics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(m), "failed to encode benchmark results")
}
