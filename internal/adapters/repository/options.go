package repository

import "time"

// Default SQLite settings.
const (
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 4
)

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

func defaultOptions() options {
	return options{busyTimeout: DefaultBusyTimeout, maxOpenConns: DefaultMaxOpenConns}
}

// Option applies a configuration option to the SQLiteStore.
type Option func(*options)

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns bounds the connection pool. Ignored for in-memory
// databases, which always use a single connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}
