package engine

import (
	"context"
	"time"

	"github.com/cuemby/wexec/pkg/log"
	"github.com/cuemby/wexec/pkg/workerruntime"
	"github.com/rs/zerolog"
)

// LivenessMonitor periodically probes every resident StdioEventloop
// worker's subprocess and interrupts any whose process has died, so a
// crashed eventloop worker is recovered from its oplog rather than left
// stuck Running against a process that no longer exists.
type LivenessMonitor struct {
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
}

// NewLivenessMonitor creates a monitor over engine, polling at interval.
func NewLivenessMonitor(engine *Engine, interval time.Duration) *LivenessMonitor {
	return &LivenessMonitor{engine: engine, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the polling loop in a background goroutine.
func (m *LivenessMonitor) Start() {
	go m.run()
}

// Stop ends the polling loop.
func (m *LivenessMonitor) Stop() {
	close(m.stopCh)
}

func (m *LivenessMonitor) run() {
	logger := log.WithComponent("liveness")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(logger)
		case <-m.stopCh:
			return
		}
	}
}

func (m *LivenessMonitor) sweep(logger zerolog.Logger) {
	for _, workerId := range m.engine.cache.EnumWorkers() {
		rt, ok := m.engine.cache.Peek(workerId)
		if !ok {
			continue
		}
		wrt, ok := rt.(*workerruntime.Runtime)
		if !ok {
			continue
		}
		checker, ok := wrt.Liveness()
		if !ok {
			continue
		}
		result := checker.Check(context.Background())
		if result.Healthy {
			continue
		}
		logger.Warn().Str("worker", workerId.String()).Str("reason", result.Message).Msg("worker process died, interrupting for recovery")
		_ = m.engine.InterruptWorker(workerId, true)
	}
}
