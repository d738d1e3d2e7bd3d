package viewer

import (
	"log"
	"runtime"
	"time"

	"github.com/retrofx/slangport/scheduler"
)

// FrameProfiler tracks frame rate, scheduler pass timing, and memory
// statistics for performance monitoring. Outputs stats to the log at a
// configurable interval.
type FrameProfiler struct {
	frameCount     int
	passCount      int
	renderTime     time.Duration
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewFrameProfiler creates a new FrameProfiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *FrameProfiler: the newly created profiler instance
func NewFrameProfiler() *FrameProfiler {
	return &FrameProfiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
}

// Hook returns a stats consumer suitable for scheduler.WithFrameStatsHook, so
// the profiler observes every rendered frame.
//
// Returns:
//   - func(scheduler.FrameStats): the per-frame observer
func (p *FrameProfiler) Hook() func(scheduler.FrameStats) {
	return func(stats scheduler.FrameStats) {
		p.Observe(stats)
	}
}

// Observe records one rendered frame's statistics.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, scheduler time per frame, pass count, heap usage,
// allocation rate, GC count/pause times, total memory.
//
// Parameters:
//   - stats: the frame statistics reported by the scheduler
//
// Returns:
//   - bool: true if stats were logged this observation, false otherwise
func (p *FrameProfiler) Observe(stats scheduler.FrameStats) bool {
	p.frameCount++
	p.passCount = stats.Passes
	p.renderTime += stats.Elapsed

	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()
	renderMs := p.renderTime.Seconds() * 1000 / float64(p.frameCount)

	runtime.ReadMemStats(&p.memStats)
	// Alloc: bytes of allocated heap objects (live memory)
	// TotalAlloc: cumulative bytes allocated for heap objects (tracks churn)
	// Sys: total bytes of memory obtained from the OS (process footprint)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// GC pause stats (last pause and max pause since the previous report).
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	log.Printf("[Profiler] FPS: %.2f | Scheduler: %.3f ms/frame (%d passes) | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
		fps, renderMs, p.passCount, allocMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs, sysMB)

	p.frameCount = 0
	p.renderTime = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
