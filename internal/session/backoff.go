package session

import "time"

const (
	DefaultBackoffFloor   = time.Second
	DefaultBackoffCeiling = 60 * time.Second
	DefaultBackoffFactor  = 2
)

// Backoff is the delay between connection attempts. It only grows until
// Reset. Not safe for concurrent use.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	factor  float64
	cur     time.Duration
}

func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	if factor <= 1 {
		factor = DefaultBackoffFactor
	}
	return &Backoff{floor: floor, ceiling: ceiling, factor: factor, cur: floor}
}

func (b *Backoff) Current() time.Duration { return b.cur }

// Next returns the delay to wait now and grows the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	next := time.Duration(float64(b.cur) * b.factor)
	if next > b.ceiling || next < b.cur {
		next = b.ceiling
	}
	b.cur = next
	return d
}

func (b *Backoff) Reset() { b.cur = b.floor }
