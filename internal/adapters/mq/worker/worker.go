// Package worker consumes broker messages: decode, dedupe guard, process,
// then broadcast.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/internal/domain/dedupe"
	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// Default pool configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	metricsUpdateInterval   = 5 * time.Second
)

// ErrShutdownTimeout is returned when workers do not finish in time.
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Processor handles one decoded record.
type Processor interface {
	ProcessTelemetry(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error)
}

// Broadcaster receives processed records.
type Broadcaster interface {
	Publish(rec *model.TelemetryRecord)
}

// Pool runs workers over a shared message stream. Messages are processed
// concurrently with no per-vehicle ordering.
type Pool struct {
	source      queue.Source
	processor   Processor
	broadcaster Broadcaster
	deduper     dedupe.Deduper
	workers     int

	processedCount atomic.Int64
	lastRateUpdate time.Time

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool

	logger logger.Logger
}

// NewPool creates a pool reading from source and handing records to processor.
func NewPool(source queue.Source, processor Processor, opts ...Option) *Pool {
	p := &Pool{
		source:    source,
		processor: processor,
		workers:   runtime.NumCPU() * defaultWorkerMultiplier,
		logger:    logger.Default().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. It returns immediately; call Shutdown to stop.
// Cancelling ctx does not stop the workers, only Shutdown does.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.lastRateUpdate = time.Now()

	msgs := p.source.Messages(runCtx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx, p.logger.Named("worker-"+strconv.Itoa(i)), msgs)
	}
	go p.startMetricsUpdater(runCtx)

	metrics.UpdateWorkerActiveCount(p.workers)
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", p.workers))
}

func (p *Pool) run(ctx context.Context, log logger.Logger, msgs <-chan queue.Message) {
	defer p.wg.Done()
	for m := range msgs {
		// per-message failures are logged by Handle and never stop the loop
		_ = p.handle(ctx, log, m)
	}
}

// Handle runs the ingestion pipeline for a single message.
func (p *Pool) Handle(ctx context.Context, m queue.Message) error {
	return p.handle(ctx, p.logger, m)
}

func (p *Pool) handle(ctx context.Context, log logger.Logger, m queue.Message) error {
	start := time.Now()
	metrics.RecordMessageReceived()

	rec, err := model.DecodeTelemetry(m.Payload)
	if err != nil {
		metrics.RecordDecodeError()
		log.Warn(ctx, "dropping undecodable message",
			logger.String("topic", m.Topic),
			logger.Int("payload_size", len(m.Payload)),
			logger.Error(err))
		return err
	}

	var key string
	if p.deduper != nil && !rec.Timestamp.IsZero() {
		key = rec.Key()
		if p.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordDuplicateSkipped()
			log.Debug(ctx, "duplicate delivery skipped", logger.String("key", key))
			return nil
		}
	}

	out, err := p.processor.ProcessTelemetry(ctx, rec)
	if err != nil {
		if key != "" {
			p.deduper.Unrecord(ctx, key)
		}
		log.Error(ctx, "telemetry processing failed",
			logger.String("vehicle_id", rec.VehicleID),
			logger.Error(err))
		return fmt.Errorf("process telemetry: %w", err)
	}

	p.processedCount.Add(1)
	metrics.RecordProcessingLatency(float64(time.Since(start).Milliseconds()))
	if p.broadcaster != nil {
		p.broadcaster.Publish(out)
	}
	return nil
}

// startMetricsUpdater periodically reports throughput.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	now := time.Now()
	if elapsed := now.Sub(p.lastRateUpdate).Seconds(); elapsed > 0 {
		metrics.UpdateWorkerMessagesPerSecond(float64(p.processedCount.Swap(0)) / elapsed)
	}
	p.lastRateUpdate = now
}

// Shutdown closes the source and waits for in-flight messages. Buffered
// messages are drained before workers exit. If ctx ends first the workers
// are cancelled and ErrShutdownTimeout is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.source.Close(); err != nil {
		p.logger.Error(ctx, "error closing source", logger.Error(err))
	}
	if !p.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer func() {
		p.cancel()
		metrics.UpdateWorkerActiveCount(0)
	}()
	select {
	case <-done:
		p.logger.Info(ctx, "worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}
