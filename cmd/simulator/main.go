package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/riskpulse/internal/simulator"
	"github.com/okian/riskpulse/pkg/logger"
)

// Default configuration constants.
const (
	defaultVehicles    = 200
	defaultReadings    = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettle      = 2 * time.Minute
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	var (
		baseURL  = fs.String("url", "http://localhost:9080", "Base URL of the service")
		vehicles = fs.IntP("vehicles", "n", defaultVehicles, "Number of simulated vehicles")
		readings = fs.IntP("readings", "r", defaultReadings, "Readings sent per vehicle")
		workers  = fs.IntP("workers", "w", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		mode     = fs.String("mode", simulator.ModePublish, "Submission mode: publish or direct")
		timeout  = fs.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle   = fs.Duration("settle", defaultSettle, "How long to wait for asynchronous processing")
		seed     = fs.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed")
		output   = fs.StringP("output", "o", "", "Write generated readings to this JSON file")
		format   = fs.String("log-format", "text", "Log format: text or json")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if err := logger.InitWithWriter(os.Stdout, *format); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &simulator.Config{
		BaseURL:            *baseURL,
		Vehicles:           *vehicles,
		ReadingsPerVehicle: *readings,
		Workers:            max(*workers, 1),
		Timeout:            *timeout,
		Settle:             *settle,
		Mode:               *mode,
		Seed:               *seed,
		OutputFile:         *output,
	}
	if _, err := simulator.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1)
	}
}
