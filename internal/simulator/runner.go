// Package simulator drives a running service with a synthetic vehicle fleet
// and checks that what was stored matches what was sent.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
)

const (
	directoryPermission = 0o750
	maxThrottleRetries  = 20
	throttleBackoff     = 50 * time.Millisecond
	pollInterval        = 250 * time.Millisecond
)

type result int

const (
	resultAccepted result = iota
	resultDuplicate
	resultFailed
)

// Run generates the fleet, submits it, then verifies stored counts and risk
// events. A mismatch after the settle window is returned as ErrVerification.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("simulator")
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting telemetry simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("vehicles", cfg.Vehicles),
		logger.Int("readingsPerVehicle", cfg.ReadingsPerVehicle),
		logger.Int("workers", cfg.Workers),
		logger.String("mode", cfg.Mode),
		logger.Int64("seed", int64(cfg.Seed)),
		logger.Time("dataStart", cfg.Start))

	status, err := client.Get(ctx, "/healthz", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return stats, fmt.Errorf("service health check failed with status: %d", status)
	}

	fleet := Generate(cfg)
	stats.Generated = fleet.Size()
	for _, n := range fleet.HighRisk {
		stats.ExpectedEvents += n
	}

	if err := submit(ctx, client, cfg, fleet, stats); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}
	if cfg.OutputFile != "" {
		if err := saveFleet(cfg.OutputFile, fleet); err != nil {
			log.Warn(ctx, "failed to save readings", logger.Error(err))
		}
	}

	err = verify(ctx, client, cfg, fleet, stats)
	stats.Duration = time.Since(stats.StartTime)

	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed),
		logger.Int("expectedEvents", stats.ExpectedEvents),
		logger.Int("observedEvents", stats.ObservedEvents),
		logger.Int("countMismatch", stats.CountMismatch),
		logger.Int("eventMismatch", stats.EventMismatch),
		logger.Duration("duration", stats.Duration),
		logger.Float64("readingsPerSecond", perSecond))
	return stats, err
}

func submit(ctx context.Context, client *HTTPClient, cfg *Config, fleet *Fleet, stats *Stats) error {
	path := "/api/telemetry/publish"
	if cfg.Mode == ModeDirect {
		path = "/api/telemetry"
	}

	var accepted, duplicate, throttled, failed, submitted int64
	work := make(chan *model.TelemetryRecord, cfg.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range work {
				res, retries := submitOne(ctx, client, path, rec)
				atomic.AddInt64(&submitted, 1)
				atomic.AddInt64(&throttled, int64(retries))
				switch res {
				case resultAccepted:
					atomic.AddInt64(&accepted, 1)
				case resultDuplicate:
					atomic.AddInt64(&duplicate, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	// interleave vehicles so the broker sees a mixed stream
	go func() {
		defer close(work)
		for j := 0; j < cfg.ReadingsPerVehicle; j++ {
			for _, v := range fleet.Vehicles {
				select {
				case <-ctx.Done():
					return
				case work <- v.Readings[j]:
				}
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted)
	stats.Accepted = int(accepted)
	stats.Duplicate = int(duplicate)
	stats.Throttled = int(throttled)
	stats.Failed = int(failed)
	return ctx.Err()
}

// submitOne posts rec, backing off while the broker reports backpressure.
func submitOne(ctx context.Context, client *HTTPClient, path string, rec *model.TelemetryRecord) (result, int) {
	for retries := 0; ; retries++ {
		status, err := client.Post(ctx, path, rec)
		switch {
		case err != nil:
			return resultFailed, retries
		case status == http.StatusCreated, status == http.StatusAccepted:
			return resultAccepted, retries
		case status == http.StatusConflict:
			return resultDuplicate, retries
		case status == http.StatusTooManyRequests && retries < maxThrottleRetries:
			select {
			case <-ctx.Done():
				return resultFailed, retries
			case <-time.After(throttleBackoff):
			}
		default:
			return resultFailed, retries
		}
	}
}

// verify polls per-vehicle counts until they match or the settle window ends.
func verify(ctx context.Context, client *HTTPClient, cfg *Config, fleet *Fleet, stats *Stats) error {
	log := logger.Get().Named("simulator")
	deadline := time.Now().Add(cfg.Settle)
	want := int64(cfg.ReadingsPerVehicle)

	for {
		countMismatch, eventMismatch, observed := 0, 0, 0
		for _, v := range fleet.Vehicles {
			n, err := client.Count(ctx, v.ID)
			if err != nil {
				return err
			}
			if n != want {
				countMismatch++
			}
			events, err := client.RiskEvents(ctx, v.ID)
			if err != nil {
				return err
			}
			observed += events
			if events != fleet.HighRisk[v.ID] {
				eventMismatch++
			}
		}
		stats.CountMismatch = countMismatch
		stats.EventMismatch = eventMismatch
		stats.ObservedEvents = observed

		if countMismatch == 0 && eventMismatch == 0 {
			log.Info(ctx, "verification passed", logger.Int("vehicles", len(fleet.Vehicles)))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d vehicles with wrong counts, %d with wrong risk events",
				ErrVerification, countMismatch, eventMismatch)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func saveFleet(filename string, fleet *Fleet) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(fleet.Vehicles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal readings: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}
