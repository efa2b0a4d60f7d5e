package discussions

import "time"

const (
	backoffBase = 1400 * time.Millisecond
	backoffMax  = 10 * time.Minute
)

// backoff is the delay between connection attempts. Each failed attempt
// squares the delay, counted in seconds, up to a ceiling.
type backoff struct {
	base  time.Duration
	max   time.Duration
	delay time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{
		base:  base,
		max:   max,
		delay: base,
	}
}

// Next returns the delay to wait before the next attempt and grows it for
// the one after.
func (b *backoff) Next() time.Duration {
	d := b.delay
	s := d.Seconds()
	next := time.Duration(s * s * float64(time.Second))
	if next <= d {
		// squaring stops growing the delay below one second
		next = d + b.base
	}
	if next > b.max {
		next = b.max
	}
	b.delay = next
	return d
}

// Reset brings the delay back to its base.
func (b *backoff) Reset() {
	b.delay = b.base
}
