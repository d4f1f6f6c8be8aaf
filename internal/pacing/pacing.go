// Package pacing supplies the randomness the bot uses to avoid looking like a
// machine: jittered delays drawn from configured ranges, probabilistic
// "should I act" rolls, and the tap point generator.
package pacing

import (
	"math/rand"
	"time"

	"github.com/Exelery/else-bot/internal/config"
)

// Source produces jittered delays and rolls from a single rand stream. Each
// account owns its own Source; it is not safe for concurrent use.
type Source struct {
	cfg *config.Config
	rng *rand.Rand
}

// New creates a Source seeded from the wall clock.
func New(cfg *config.Config) *Source {
	return NewWithRand(cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates a Source with an injected rand stream. Tests use this
// for determinism.
func NewWithRand(cfg *config.Config, rng *rand.Rand) *Source {
	return &Source{cfg: cfg, rng: rng}
}

// Delay returns a uniformly distributed duration within r.
func (s *Source) Delay(r config.DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(s.rng.Int63n(int64(r.Max-r.Min)))
}

// RequestDelay paces individual backend requests.
func (s *Source) RequestDelay() time.Duration { return s.Delay(s.cfg.RequestDelay) }

// RunDelay paces normal decision cycles.
func (s *Source) RunDelay() time.Duration { return s.Delay(s.cfg.RunDelay) }

// LongRunDelay paces idle low-energy cycles.
func (s *Source) LongRunDelay() time.Duration { return s.Delay(s.cfg.LongRunDelay) }

// ClaimDelay paces daily-claim attempts.
func (s *Source) ClaimDelay() time.Duration { return s.Delay(s.cfg.ClaimDelay) }

// Roll reports whether an optional action should be attempted this cycle.
// The configured base probability is scaled by multiplier and capped at 1.
func (s *Source) Roll(multiplier float64) bool {
	p := s.cfg.ActionProbability * multiplier
	if p > 1 {
		p = 1
	}
	return s.rng.Float64() < p
}

// IntBetween returns a uniform integer in [min, max].
func (s *Source) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// GeneratePoints picks a tap burst size: a random multiple of ppc that stays
// strictly below the available energy ptc and never exceeds the configured
// step cap. Returns 0 when no such burst exists (insufficient energy).
func (s *Source) GeneratePoints(ppc, ptc float64) float64 {
	if ppc <= 0 || ptc < ppc {
		return 0
	}

	maxSteps := int(ptc / ppc)
	if maxSteps > s.cfg.TapMaxSteps {
		maxSteps = s.cfg.TapMaxSteps
	}
	// Spending every last point would leave the server-side energy at zero
	// before its own accounting catches up; stay strictly below ptc.
	if float64(maxSteps)*ppc >= ptc {
		maxSteps--
	}
	if maxSteps < 1 {
		return 0
	}

	steps := 1 + s.rng.Intn(maxSteps)
	return float64(steps) * ppc
}

// TapCadence returns how long to wait between the placeholder click and the
// real point submission, simulating a human clicking points/ppc times at 2-6
// clicks per second.
func (s *Source) TapCadence(points, ppc float64) time.Duration {
	if ppc <= 0 || points <= 0 {
		return 0
	}
	clicksPerSecond := float64(s.IntBetween(2, 6))
	seconds := points / (ppc * clicksPerSecond)
	return time.Duration(seconds * float64(time.Second))
}
