// Package service provides the orchestrator: it owns the scoring and pricing
// engines, the broadcast hub and the ingestion workers, and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/riskpulse/internal/adapters/broadcast"
	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	workerpool "github.com/okian/riskpulse/internal/adapters/mq/worker"
	"github.com/okian/riskpulse/internal/adapters/repository"
	"github.com/okian/riskpulse/internal/domain/dedupe"
	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/internal/domain/pricing"
	"github.com/okian/riskpulse/internal/domain/scoring"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// ErrNoPublisher is returned by Enqueue when no broker publisher is configured.
var ErrNoPublisher = errors.New("no broker publisher configured")

// Service orchestrates telemetry processing and exposes the read side.
type Service struct {
	mu sync.RWMutex

	// Core components
	stores  *repository.Stores
	scorer  *scoring.Engine
	pricer  *pricing.Engine
	hub     *broadcast.Hub
	source  queue.Source
	sink    queue.Publisher
	deduper dedupe.Deduper
	pool    *workerpool.Pool

	// Configuration
	workerCount     int
	dedupeEnabled   bool
	dedupeSize      int
	broadcastBuffer int
	broadcastPolicy broadcast.Policy
	scoringOpts     []scoring.Option
	pricingOpts     []pricing.Option
	now             func() time.Time
	newID           func() string

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSource sets the broker the ingestion workers consume. Without a
// source Start runs no workers.
func WithSource(src queue.Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithPublisher sets the broker used by Enqueue.
func WithPublisher(p queue.Publisher) Option {
	return func(s *Service) {
		s.sink = p
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithDedupe toggles the delivery dedupe guard and sets its capacity.
func WithDedupe(enabled bool, size int) Option {
	return func(s *Service) {
		s.dedupeEnabled = enabled
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBroadcast sets the per-subscriber buffer and overflow policy.
func WithBroadcast(buffer int, policy broadcast.Policy) Option {
	return func(s *Service) {
		if buffer > 0 {
			s.broadcastBuffer = buffer
		}
		if policy.Valid() {
			s.broadcastPolicy = policy
		}
	}
}

// WithScoringOptions passes options through to the scoring engine.
func WithScoringOptions(opts ...scoring.Option) Option {
	return func(s *Service) {
		s.scoringOpts = append(s.scoringOpts, opts...)
	}
}

// WithPricingOptions passes options through to the pricing engine.
func WithPricingOptions(opts ...pricing.Option) Option {
	return func(s *Service) {
		s.pricingOpts = append(s.pricingOpts, opts...)
	}
}

// WithClock sets the time source for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the telemetry record id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over stores. The engines and the broadcast hub
// are ready immediately; ingestion workers run after Start.
func New(stores *repository.Stores, opts ...Option) *Service {
	s := &Service{
		stores:          stores,
		workerCount:     runtime.NumCPU() * 2,
		dedupeEnabled:   true,
		dedupeSize:      50000,
		broadcastBuffer: 256,
		broadcastPolicy: broadcast.DropOldest,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
		logger:          logger.Default().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scorer = scoring.NewEngine(stores.Events, s.scoringOpts...)
	s.pricer = pricing.NewEngine(stores.Contracts, s.pricingOpts...)
	s.hub = broadcast.NewHub(
		broadcast.WithBufferSize(s.broadcastBuffer),
		broadcast.WithPolicy(s.broadcastPolicy),
	)
	return s
}

// Start launches the ingestion workers when a source is configured.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.source != nil {
		opts := []workerpool.Option{
			workerpool.WithWorkers(s.workerCount),
			workerpool.WithBroadcaster(s.hub),
		}
		if s.dedupeEnabled {
			s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
			opts = append(opts, workerpool.WithDeduper(s.deduper))
		}
		s.pool = workerpool.NewPool(s.source, s, opts...)
		s.pool.Start(ctx)
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "risk service started",
		logger.String("backend", s.stores.Backend),
		logger.Bool("ingestion", s.source != nil),
		logger.Int("workers", s.workerCount),
		logger.Bool("dedupe", s.dedupeEnabled),
	)
	return nil
}

// Stop drains the ingestion workers and closes the broadcast hub. Stores
// are owned by the caller.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping risk service...")

	var err error
	if s.pool != nil {
		err = s.pool.Shutdown(ctx)
		s.pool = nil
	}
	s.hub.Close()

	s.started = false
	s.logger.Info(ctx, "risk service stopped")
	return err
}

// ProcessTelemetry scores rec, stores it and returns the enriched record.
// The timestamp is defaulted before scoring so that a risk event and its
// record share one key.
func (s *Service) ProcessTelemetry(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error) {
	const op = "service.ProcessTelemetry"
	if rec == nil {
		return nil, model.NewKind(op, model.ErrValidation)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	if _, err := s.scorer.AssessRisk(ctx, rec); err != nil {
		metrics.RecordProcessingError("scoring")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if rec.ID == "" {
		rec.ID = s.newID()
	}
	if err := s.stores.Telemetry.Insert(ctx, rec); err != nil {
		metrics.RecordProcessingError("persistence")
		return nil, model.WrapKind(op, model.ErrPersistence, err)
	}

	metrics.RecordTelemetryProcessed()
	return rec, nil
}

// AssessRisk scores rec without storing the record itself. A HIGH result
// still raises its risk event.
func (s *Service) AssessRisk(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error) {
	return s.scorer.AssessRisk(ctx, rec)
}

// Enqueue hands a raw payload to the configured broker.
func (s *Service) Enqueue(ctx context.Context, payload []byte) error {
	if s.sink == nil {
		return ErrNoPublisher
	}
	return s.sink.Publish(ctx, payload)
}

// LatestByVehicle returns the newest record for a vehicle.
func (s *Service) LatestByVehicle(ctx context.Context, vehicleID string) (*model.TelemetryRecord, error) {
	return s.stores.Telemetry.Latest(ctx, vehicleID)
}

// History pages through a vehicle's records, newest first.
func (s *Service) History(ctx context.Context, vehicleID string, page, size int) ([]*model.TelemetryRecord, error) {
	// page*size is the store offset and must not overflow
	if page < 0 || size <= 0 || page > math.MaxInt/size {
		return nil, model.NewKind("service.History", model.ErrValidation)
	}
	return s.stores.Telemetry.History(ctx, vehicleID, page, size)
}

// TimeRange returns a vehicle's records within [start, end], oldest first.
func (s *Service) TimeRange(ctx context.Context, vehicleID string, start, end time.Time) ([]*model.TelemetryRecord, error) {
	return s.stores.Telemetry.Range(ctx, vehicleID, start, end)
}

// CountByVehicle returns how many records a vehicle has.
func (s *Service) CountByVehicle(ctx context.Context, vehicleID string) (int64, error) {
	return s.stores.Telemetry.Count(ctx, vehicleID)
}

// TelemetryByID returns one stored record.
func (s *Service) TelemetryByID(ctx context.Context, id string) (*model.TelemetryRecord, error) {
	return s.stores.Telemetry.FindByID(ctx, id)
}

// RiskEventsByVehicle lists a vehicle's risk events, optionally of one type.
func (s *Service) RiskEventsByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) ([]*model.RiskEvent, error) {
	return s.stores.Events.ListByVehicle(ctx, vehicleID, typ)
}

// CreateContract stores a new insurance contract.
func (s *Service) CreateContract(ctx context.Context, c *model.InsuranceContract) (*model.InsuranceContract, error) {
	return s.pricer.CreateContract(ctx, c)
}

// UpdatePricing reprices a contract from rec. ok is false when the contract
// does not exist.
func (s *Service) UpdatePricing(ctx context.Context, contractID string, rec *model.TelemetryRecord) (*model.InsuranceContract, bool, error) {
	return s.pricer.UpdatePricing(ctx, contractID, rec)
}

// ContractsByVehicle lists a vehicle's contracts.
func (s *Service) ContractsByVehicle(ctx context.Context, vehicleID string) ([]*model.InsuranceContract, error) {
	return s.pricer.ContractsByVehicle(ctx, vehicleID)
}

// Subscribe registers a live subscriber for processed records.
func (s *Service) Subscribe(ctx context.Context) (<-chan *model.TelemetryRecord, func()) {
	return s.hub.Subscribe(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"backend":         s.stores.Backend,
		"ingestion":       s.source != nil,
		"workerCount":     s.workerCount,
		"dedupeEnabled":   s.dedupeEnabled,
		"subscribers":     s.hub.Subscribers(),
		"broadcastPolicy": string(s.broadcastPolicy),
	}
	if s.started {
		stats["uptimeSeconds"] = s.now().Sub(s.startedAt).Seconds()
	}
	if s.deduper != nil {
		stats["dedupeSize"] = s.deduper.Size()
	}
	if l, ok := s.source.(interface{ Len() int }); ok {
		stats["queueLength"] = l.Len()
	}
	if total, err := s.stores.Telemetry.CountAll(ctx); err == nil {
		stats["telemetryRecords"] = total
	} else {
		s.logger.Warn(ctx, "count telemetry failed", logger.Error(err))
	}
	return stats
}
