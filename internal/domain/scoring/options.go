package scoring

import (
	"time"

	"github.com/okian/riskpulse/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRules replaces the rule set. Rules with a non-positive threshold are skipped.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		kept := make([]Rule, 0, len(rules))
		for _, r := range rules {
			if r.Threshold > 0 {
				kept = append(kept, r)
			}
		}
		e.rules = kept
	}
}

// WithClock sets the time source used for assessment and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the risk event id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
