package composite

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
)

// newMuxRetryBackoff builds the bounded geometric retry schedule behind
// MuxUnknown/MuxError escalation (spec.md §4.8, §9 open question: "the
// backoff schedule ... is a geometric growth factor but the exact cap is
// configuration-dependent; implementers should surface it as a
// parameter" — surfaced here as MuxUnknownBackoffCap).
func newMuxRetryBackoff(cfg muxconfig.MuxPortConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ProbeInterval
	b.MaxInterval = cfg.MuxUnknownBackoffCap
	b.MaxElapsedTime = 0 // unbounded in time; bounded by MuxUnknownMaxRetries instead
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// muxRetrySchedule owns one ExponentialBackOff per machine and counts
// attempts against cfg.MuxUnknownMaxRetries.
type muxRetrySchedule struct {
	backoff *backoff.ExponentialBackOff
	retries uint32
}

func (s *muxRetrySchedule) next() time.Duration {
	s.retries++
	return s.backoff.NextBackOff()
}

func (s *muxRetrySchedule) exhausted(maxRetries uint32) bool {
	return s.retries > maxRetries
}

func (s *muxRetrySchedule) reset() {
	s.retries = 0
	s.backoff.Reset()
}
