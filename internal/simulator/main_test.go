package simulator_test

import (
	"io"
	"os"
	"testing"

	"github.com/okian/riskpulse/pkg/logger"
)

// TestMain initializes the global logger, which simulator.Run requires.
func TestMain(m *testing.M) {
	if err := logger.InitWithWriter(io.Discard, logger.FormatText); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
