package statemachine

import (
	"errors"
	"fmt"
)

// Machine is an assembled set of states with a designated start state.
type Machine[T any] struct {
	start  *State[T]
	states []*State[T]
	index  map[string]*State[T]
}

func (m *Machine[T]) Start() *State[T] {
	return m.start
}

// States returns the states in declaration order.
func (m *Machine[T]) States() []*State[T] {
	return append([]*State[T](nil), m.states...)
}

func (m *Machine[T]) State(name string) (*State[T], bool) {
	s, ok := m.index[name]
	return s, ok
}

// Builder provides a fluent API for assembling states and transitions.
// Transitions are wired after every state exists, when Build is called.
// The first error is kept and reported by Build.
type Builder[T any] struct {
	start   string
	states  map[string]*State[T]
	order   []string
	pending []pendingTransition[T]

	currentFrom  string
	currentEvent string
	currentTo    string
	actions      []Action[T]

	err error
}

type pendingTransition[T any] struct {
	from       string
	event      string
	to         string
	actions    []Action[T]
	transition Transition[T]
}

// NewBuilder creates a builder whose machine starts in the state called start.
func NewBuilder[T any](start string) *Builder[T] {
	return &Builder[T]{
		start:  start,
		states: make(map[string]*State[T]),
	}
}

// State declares a state.
func (b *Builder[T]) State(name string, opts ...StateOption) *Builder[T] {
	if b.err != nil {
		return b
	}
	if _, ok := b.states[name]; ok {
		b.err = fmt.Errorf("%w: %s", ErrDuplicateState, name)
		return b
	}
	s, err := NewState[T](name, opts...)
	if err != nil {
		b.err = err
		return b
	}
	b.states[name] = s
	b.order = append(b.order, name)
	return b
}

// From sets the source state for a transition.
func (b *Builder[T]) From(state string) *Builder[T] {
	b.reset()
	b.currentFrom = state
	return b
}

// When sets the event that triggers a transition.
func (b *Builder[T]) When(event string) *Builder[T] {
	b.currentEvent = event
	return b
}

// To sets the target state for a transition.
func (b *Builder[T]) To(state string) *Builder[T] {
	b.currentTo = state
	return b
}

// WithAction appends an action to the current transition.
func (b *Builder[T]) WithAction(action Action[T]) *Builder[T] {
	if action != nil {
		b.actions = append(b.actions, action)
	}
	return b
}

// Add finalizes the current deterministic transition.
func (b *Builder[T]) Add() *Builder[T] {
	if b.err == nil {
		b.pending = append(b.pending, pendingTransition[T]{
			from:    b.currentFrom,
			event:   b.currentEvent,
			to:      b.currentTo,
			actions: b.actions,
		})
	}
	b.reset()
	return b
}

// WithTransition wires any Transition implementation, typically a
// TransitionFunc, for event on the state called from.
func (b *Builder[T]) WithTransition(from, event string, t Transition[T]) *Builder[T] {
	if b.err != nil {
		return b
	}
	if t == nil {
		b.err = ErrNilTransition
		return b
	}
	b.pending = append(b.pending, pendingTransition[T]{from: from, event: event, transition: t})
	return b
}

// Build validates the declarations and wires every transition.
func (b *Builder[T]) Build() (*Machine[T], error) {
	if b.err != nil {
		return nil, b.err
	}

	start, ok := b.states[b.start]
	if !ok {
		return nil, fmt.Errorf("start state %q: %w", b.start, ErrUnknownState)
	}

	var errs []error
	for i, p := range b.pending {
		if err := b.wire(p); err != nil {
			errs = append(errs, fmt.Errorf("transition[%d] %s(%s)->%s: %w", i, p.from, p.event, p.to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	m := &Machine[T]{
		start: start,
		index: b.states,
	}
	for _, name := range b.order {
		m.states = append(m.states, b.states[name])
	}
	return m, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder[T]) MustBuild() *Machine[T] {
	m, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build state machine: %v", err))
	}
	return m
}

func (b *Builder[T]) wire(p pendingTransition[T]) error {
	from, ok := b.states[p.from]
	if !ok {
		return fmt.Errorf("from %q: %w", p.from, ErrUnknownState)
	}
	if p.transition != nil {
		return from.SetTransition(p.event, p.transition)
	}

	to, ok := b.states[p.to]
	if !ok {
		return fmt.Errorf("to %q: %w", p.to, ErrUnknownState)
	}

	var action Action[T]
	switch len(p.actions) {
	case 0:
	case 1:
		action = p.actions[0]
	default:
		action = NewCompositeAction(p.actions...)
	}
	return from.AddTransition(p.event, to, action)
}

func (b *Builder[T]) reset() {
	b.currentFrom = ""
	b.currentEvent = ""
	b.currentTo = ""
	b.actions = nil
}
