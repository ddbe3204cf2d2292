package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
)

// FSM drives events against stateful entities. It holds no lock across an
// event: correctness comes from the persister's compare-and-swap, and any
// retry signal re-runs the event from a fresh read.
type FSM[T any] struct {
	name          string
	persister     Persister[T]
	retryAttempts int
	retryInterval time.Duration
	logger        *slog.Logger
	metrics       Metrics
}

// New creates a machine bound to persister.
func New[T any](persister Persister[T], opts ...Option) (*FSM[T], error) {
	if persister == nil {
		return nil, ErrNilPersister
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		log = slog.Default()
	}

	return &FSM[T]{
		name:          o.name,
		persister:     persister,
		retryAttempts: o.retryAttempts,
		retryInterval: o.retryInterval,
		logger:        log.With(logger.Component("statemachine"), logger.Machine(o.name)),
		metrics:       o.metrics,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](persister Persister[T], opts ...Option) *FSM[T] {
	m, err := New(persister, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

func (m *FSM[T]) Name() string {
	return m.name
}

func (m *FSM[T]) Persister() Persister[T] {
	return m.persister
}

func (m *FSM[T]) RetryAttempts() int {
	return m.retryAttempts
}

func (m *FSM[T]) RetryInterval() time.Duration {
	return m.retryInterval
}

// Current returns the entity's current state without firing an event.
func (m *FSM[T]) Current(entity T) *State[T] {
	return m.persister.Current(entity)
}

// OnEvent applies event to entity and returns the resulting state. An event
// without a transition from a non-blocking state is a no-op and returns the
// current state. Staleness and wait signals are retried internally; once the
// retry budget is spent OnEvent returns an error matching ErrTooBusy.
// Errors that are not retry signals abort the event and are returned as is.
func (m *FSM[T]) OnEvent(ctx context.Context, entity T, event string, args ...any) (*State[T], error) {
	if event == "" {
		return nil, ErrEmptyEventName
	}

	started := time.Now()
	defer func() {
		m.metrics.EventDuration(m.name, event, time.Since(started))
	}()

	attempts := 0
	for m.retryAttempts == UnlimitedRetries || attempts < m.retryAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, err := m.process(ctx, entity, event, args)
		if err == nil {
			return state, nil
		}
		if !IsRetryError(err) {
			return nil, err
		}

		attempts++
		reason := retryReason(err)
		m.metrics.EventRetried(m.name, event, reason)
		m.logger.WarnContext(ctx, "retrying event",
			logger.Event(event),
			logger.RetryCount(attempts),
			slog.String("reason", reason),
			logger.Error(err),
		)

		var wait *WaitAndRetryError
		if errors.As(err, &wait) && wait.Wait > 0 {
			if err := sleep(ctx, wait.Wait); err != nil {
				return nil, err
			}
		}
	}

	m.metrics.EventFailed(m.name, event)
	m.logger.ErrorContext(ctx, "unable to process event",
		logger.Event(event),
		logger.RetryCount(attempts),
	)
	return nil, fmt.Errorf("%w: machine=%s, event=%s, attempts=%d", ErrTooBusy, m.name, event, attempts)
}

// process runs one attempt: read, look up, resolve, compare-and-swap, act.
// Persisters and actions get a context that logs the machine and event.
func (m *FSM[T]) process(ctx context.Context, entity T, event string, args []any) (*State[T], error) {
	current := m.persister.Current(entity)
	callCtx := logger.ContextWithAttrs(ctx, logger.Machine(m.name), logger.Event(event))

	transition, ok := current.Transition(event)
	if !ok {
		m.logger.DebugContext(ctx, "no transition",
			logger.FromState(current.Name()),
			logger.Event(event),
			logger.ToState(current.Name()),
			logger.Action(nil),
		)

		if current.IsBlocking() {
			// Self write surfaces a concurrent move out of the blocking state.
			if err := m.persister.SetCurrent(callCtx, entity, current, current); err != nil {
				return nil, err
			}
			return nil, NewWaitAndRetryError(m.retryInterval)
		}

		m.metrics.EventIgnored(m.name, current.Name(), event)
		return current, nil
	}

	pair, err := transition.Resolve(callCtx, entity)
	if err != nil {
		return nil, err
	}
	if pair.State == nil {
		return nil, fmt.Errorf("transition %s(%s): %w", current.Name(), event, ErrNilState)
	}

	if err := m.persister.SetCurrent(callCtx, entity, current, pair.State); err != nil {
		return nil, err
	}

	m.logger.DebugContext(ctx, "transition",
		logger.FromState(current.Name()),
		logger.Event(event),
		logger.ToState(pair.State.Name()),
		logger.Action(pair.Action),
	)

	if pair.Action != nil {
		if err := pair.Action.Execute(callCtx, entity, event, args...); err != nil {
			return nil, fmt.Errorf("action %s(%s)->%s: %w", current.Name(), event, pair.State.Name(), err)
		}
	}

	m.metrics.TransitionCompleted(m.name, current.Name(), event, pair.State.Name())
	return pair.State, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
