package statemachine

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Persister reads and compare-and-swaps the current state of a stateful entity.
type Persister[T any] interface {
	// Current returns the entity's current state, falling back to the start
	// state when the entity has none yet.
	Current(entity T) *State[T]
	// SetCurrent moves the entity from expected to next. It returns a
	// *StaleStateError when the persisted state is not expected.
	SetCurrent(ctx context.Context, entity T, expected, next *State[T]) error
}

// Action executes business logic on a successful transition.
// Returning an error matching ErrRetry makes the engine retry the whole event.
type Action[T any] interface {
	Execute(ctx context.Context, entity T, event string, args ...any) error
}

// ActionFunc adapts an ordinary function to the Action interface.
type ActionFunc[T any] func(ctx context.Context, entity T, event string, args ...any) error

func (f ActionFunc[T]) Execute(ctx context.Context, entity T, event string, args ...any) error {
	return f(ctx, entity, event, args...)
}

// StateAction is the outcome of resolving a Transition.
type StateAction[T any] struct {
	State  *State[T]
	Action Action[T] // optional
}

// Transition resolves an entity to the next state and the action to run.
// Resolve may return an error matching ErrRetry; it can be called more than
// once for the same logical event.
type Transition[T any] interface {
	Resolve(ctx context.Context, entity T) (StateAction[T], error)
}

// TransitionFunc is a computed (non-deterministic) transition.
type TransitionFunc[T any] func(ctx context.Context, entity T) (StateAction[T], error)

func (f TransitionFunc[T]) Resolve(ctx context.Context, entity T) (StateAction[T], error) {
	return f(ctx, entity)
}

// DeterministicTransition always resolves to the same state and action.
type DeterministicTransition[T any] struct {
	pair StateAction[T]
}

func NewDeterministicTransition[T any](to *State[T], action Action[T]) (*DeterministicTransition[T], error) {
	if to == nil {
		return nil, ErrNilState
	}
	return &DeterministicTransition[T]{pair: StateAction[T]{State: to, Action: action}}, nil
}

func (t *DeterministicTransition[T]) Resolve(context.Context, T) (StateAction[T], error) {
	return t.pair, nil
}

func (t *DeterministicTransition[T]) String() string {
	return fmt.Sprintf("DeterministicTransition[state=%s, action=%v]", t.pair.State.Name(), t.pair.Action)
}

// StateOption configures a State during construction.
type StateOption func(*stateConfig)

type stateConfig struct {
	end      bool
	blocking bool
}

// AsEndState marks the state as terminal. This is informational only.
func AsEndState() StateOption {
	return func(c *stateConfig) { c.end = true }
}

// AsBlocking makes events without a matching transition wait and retry
// instead of being ignored.
func AsBlocking() StateOption {
	return func(c *stateConfig) { c.blocking = true }
}

// State is a named node of the machine holding its outgoing transitions.
// Transitions are keyed by event name; the last registration wins.
type State[T any] struct {
	name        string
	end         bool
	blocking    bool
	transitions map[string]Transition[T]
	mu          sync.RWMutex
}

// NewState creates a state. Empty or blank names are rejected.
func NewState[T any](name string, opts ...StateOption) (*State[T], error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyStateName
	}

	cfg := &stateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &State[T]{
		name:        name,
		end:         cfg.end,
		blocking:    cfg.blocking,
		transitions: make(map[string]Transition[T]),
	}, nil
}

// MustNewState is like NewState but panics on an invalid name.
func MustNewState[T any](name string, opts ...StateOption) *State[T] {
	s, err := NewState[T](name, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state: %v", err))
	}
	return s
}

func (s *State[T]) Name() string {
	return s.name
}

func (s *State[T]) IsEndState() bool {
	return s.end
}

func (s *State[T]) IsBlocking() bool {
	return s.blocking
}

// Transition returns the transition registered for event. A missing
// transition is an expected outcome, not an error.
func (s *State[T]) Transition(event string) (Transition[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transitions[event]
	return t, ok
}

// Transitions returns a snapshot of the event to transition mapping.
func (s *State[T]) Transitions() map[string]Transition[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.transitions)
}

// AddTransition registers a deterministic transition to next for event.
func (s *State[T]) AddTransition(event string, next *State[T], action Action[T]) error {
	t, err := NewDeterministicTransition(next, action)
	if err != nil {
		return err
	}
	return s.SetTransition(event, t)
}

// SetTransition registers any Transition implementation for event.
func (s *State[T]) SetTransition(event string, t Transition[T]) error {
	if event == "" {
		return ErrEmptyEventName
	}
	if t == nil {
		return ErrNilTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[event] = t
	return nil
}

func (s *State[T]) RemoveTransition(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transitions, event)
}

func (s *State[T]) String() string {
	return fmt.Sprintf("State[name=%s, isEndState=%t, isBlocking=%t]", s.name, s.end, s.blocking)
}
