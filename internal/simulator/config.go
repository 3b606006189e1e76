package simulator

import (
	"errors"
	"time"
)

// Submission modes.
const (
	// ModePublish posts to /api/telemetry/publish and lets the broker workers store records.
	ModePublish = "publish"
	// ModeDirect posts to /api/telemetry and stores records synchronously.
	ModeDirect = "direct"
)

// ErrVerification is returned when stored data does not match what was sent.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL            string        // Base URL of the service
	Vehicles           int           // Number of simulated vehicles
	ReadingsPerVehicle int           // Readings sent per vehicle
	Workers            int           // Concurrent submitters
	Timeout            time.Duration // HTTP request timeout
	Settle             time.Duration // How long verification waits for async processing
	Mode               string        // ModePublish or ModeDirect
	Seed               uint64        // Generator seed; equal seeds give equal fleets
	Start              time.Time     // Timestamp of each vehicle's first reading
	OutputFile         string        // Optional JSON dump of the generated readings
}

// Stats holds run statistics.
type Stats struct {
	Generated      int
	Submitted      int
	Accepted       int
	Duplicate      int
	Throttled      int
	Failed         int
	ExpectedEvents int
	ObservedEvents int
	CountMismatch  int
	EventMismatch  int
	StartTime      time.Time
	Duration       time.Duration
}
