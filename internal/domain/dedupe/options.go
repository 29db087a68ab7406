package dedupe

// Option applies a configuration option to the in-memory deduper.
type Option func(*ring)

// WithMaxSize sets how many keys are remembered before the oldest is
// evicted. A value <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(r *ring) {
		r.maxSize = maxSize
	}
}
