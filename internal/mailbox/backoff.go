package mailbox

import (
	"math"
	"math/rand"
	"time"

	"github.com/zacode/consultation-service/internal/config"
)

// maxReconnectDelay bounds the cool-down when no ceiling is configured.
const maxReconnectDelay = 24 * time.Hour

// Backoff computes the cool-down before a reconnect attempt. With Factor 1 the
// delay is fixed at Base.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	rand func() float64
}

// BackoffFromConfig builds the reconnect policy from mailbox settings.
func BackoffFromConfig(cfg config.MailboxConfig) Backoff {
	return Backoff{
		Base:   cfg.ReconnectDelay,
		Max:    cfg.ReconnectMax,
		Factor: cfg.ReconnectGrow,
		Jitter: cfg.ReconnectJit,
	}
}

// Next returns the delay for the given zero-based attempt.
func (b Backoff) Next(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 10 * time.Second
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	if attempt < 0 {
		attempt = 0
	}
	ceiling := b.Max
	if ceiling <= 0 || ceiling > maxReconnectDelay {
		ceiling = maxReconnectDelay
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(ceiling) {
		delay = float64(ceiling)
	}
	if b.Jitter > 0 {
		rnd := b.rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += delay * b.Jitter * (2*rnd() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
