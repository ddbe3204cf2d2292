package statemachine

import (
	"log/slog"
	"time"
)

const (
	// UnlimitedRetries disables the retry budget.
	UnlimitedRetries = -1

	DefaultRetryAttempts = 20
	DefaultRetryInterval = 250 * time.Millisecond
	DefaultName          = "FSM"
)

// Config holds the retry settings of a machine, loadable from the environment.
type Config struct {
	RetryAttempts int           `env:"FSM_RETRY_ATTEMPTS" envDefault:"20"`    // RetryAttempts bounds the event loop; -1 means unlimited.
	RetryInterval time.Duration `env:"FSM_RETRY_INTERVAL" envDefault:"250ms"` // RetryInterval is the backoff used for blocking states.
}

// Option configures an FSM during construction.
type Option func(*options)

type options struct {
	name          string
	retryAttempts int
	retryInterval time.Duration
	logger        *slog.Logger
	metrics       Metrics
}

func defaultOptions() *options {
	return &options{
		name:          DefaultName,
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,
		metrics:       noopMetrics{},
	}
}

// WithName sets the machine name used in logs, metrics and errors.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithRetryAttempts bounds the number of attempts per event. Use
// UnlimitedRetries to retry forever; other negative values are ignored.
func WithRetryAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 || n == UnlimitedRetries {
			o.retryAttempts = n
		}
	}
}

// WithRetryInterval sets how long a blocked event waits before retrying.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.retryInterval = d
		}
	}
}

// WithConfig applies retry settings loaded from the environment.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		WithRetryAttempts(cfg.RetryAttempts)(o)
		WithRetryInterval(cfg.RetryInterval)(o)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
