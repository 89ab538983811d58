package retry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propConfig(strategy string, base time.Duration, factor float64, jitter bool) *Manager {
	cfg := testConfig()
	cfg.Strategy = strategy
	cfg.BaseDelay = base
	cfg.Factor = factor
	cfg.Jitter = jitter
	m, _ := testManager(cfg)
	return m
}

func TestDelayProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ftypes := gen.OneConstOf(
		FailureTemporary, FailureNetwork, FailureRateLimit,
		FailureConfig, FailureData,
	)
	strategies := gen.OneConstOf(StrategyExponential, StrategyLinear)
	bases := gen.Int64Range(int64(100*time.Millisecond), int64(30*time.Second))
	factors := gen.Float64Range(1.0, 4.0)
	attempts := gen.IntRange(1, 500)

	properties.Property("delays never exceed the cap", prop.ForAll(
		func(strategy string, base int64, factor float64, ftype FailureType, attempt int) bool {
			m := propConfig(strategy, time.Duration(base), factor, false)
			d := m.Delay(ftype, attempt)
			return d >= 0 && d <= m.cfg.MaxDelay
		},
		strategies, bases, factors, ftypes, attempts,
	))

	properties.Property("delays are nondecreasing in attempt", prop.ForAll(
		func(strategy string, base int64, factor float64, ftype FailureType, attempt int) bool {
			m := propConfig(strategy, time.Duration(base), factor, false)
			return m.Delay(ftype, attempt) <= m.Delay(ftype, attempt+1)
		},
		strategies, bases, factors, ftypes, attempts,
	))

	properties.Property("jitter stays within its band", prop.ForAll(
		func(strategy string, base int64, factor float64, ftype FailureType, attempt int) bool {
			plain := propConfig(strategy, time.Duration(base), factor, false)
			jittered := propConfig(strategy, time.Duration(base), factor, true)
			want := float64(plain.Delay(ftype, attempt))
			got := float64(jittered.Delay(ftype, attempt))
			return got >= 0.8*want-2 && got <= 1.2*want+2
		},
		strategies, bases, factors, ftypes, attempts,
	))

	properties.TestingRun(t)
}
