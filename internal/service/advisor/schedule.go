package advisor

import (
	"errors"
	"time"
)

// PlaybackSchedule queues inbound audio back to back on the playback clock.
// It is not safe for concurrent use; the owning Session serializes access.
type PlaybackSchedule struct {
	next   time.Duration
	active []PlaybackSource
}

// Reserve returns the start time for a chunk of length d and advances the cursor past it.
func (p *PlaybackSchedule) Reserve(now, d time.Duration) time.Duration {
	start := p.next
	if now > start {
		start = now
	}
	p.next = start + d
	return start
}

// Track records a started source until it finishes.
func (p *PlaybackSchedule) Track(src PlaybackSource) {
	p.prune()
	p.active = append(p.active, src)
}

// Active reports the number of sources that have not finished yet.
func (p *PlaybackSchedule) Active() int {
	p.prune()
	return len(p.active)
}

// NextStart is the earliest time the next chunk may begin.
func (p *PlaybackSchedule) NextStart() time.Duration {
	return p.next
}

// Interrupt stops every active source and rewinds the cursor to the clock origin.
func (p *PlaybackSchedule) Interrupt() error {
	var errs []error
	for _, src := range p.active {
		if err := src.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	p.active = nil
	p.next = 0
	return errors.Join(errs...)
}

func (p *PlaybackSchedule) prune() {
	kept := p.active[:0]
	for _, src := range p.active {
		select {
		case <-src.Done():
		default:
			kept = append(kept, src)
		}
	}
	for i := len(kept); i < len(p.active); i++ {
		p.active[i] = nil
	}
	p.active = kept
}
