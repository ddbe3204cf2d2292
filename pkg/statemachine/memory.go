package statemachine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryPersister keeps the current state in the entity itself. SetCurrent is
// serialized per entity instance, which is enough when the entity is never
// shared outside this process. Store-backed persisters reuse it for entities
// that have not been saved yet.
type MemoryPersister[T any] struct {
	field StateAccessor[T]
	start *State[T]

	mu     sync.RWMutex
	states map[string]*State[T]
	locks  instanceLocks
}

// NewMemoryPersister locates the state field through the `fsm:"state"` tag.
func NewMemoryPersister[T any](states []*State[T], start *State[T]) (*MemoryPersister[T], error) {
	field, err := StateFieldByTag[T]()
	if err != nil {
		return nil, err
	}
	return NewMemoryPersisterWithField(states, start, field)
}

// NewMemoryPersisterWithField uses an explicit state accessor.
func NewMemoryPersisterWithField[T any](states []*State[T], start *State[T], field StateAccessor[T]) (*MemoryPersister[T], error) {
	if start == nil {
		return nil, fmt.Errorf("start %w", ErrNilState)
	}
	if field.IsZero() {
		return nil, ErrStateFieldNotFound
	}

	p := &MemoryPersister[T]{
		field:  field,
		start:  start,
		states: make(map[string]*State[T], len(states)+1),
	}
	if err := p.SetStates(states); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the state named by the entity's state slot. Unset or
// unknown names resolve to the start state.
func (p *MemoryPersister[T]) Current(entity T) *State[T] {
	unlock := p.locks.lock(entity)
	defer unlock()
	return p.current(entity)
}

func (p *MemoryPersister[T]) current(entity T) *State[T] {
	name := p.field.Get(entity)
	if name == "" {
		return p.start
	}
	if s := p.State(name); s != nil {
		return s
	}
	return p.start
}

// SetCurrent writes next only if the entity is still in expected.
func (p *MemoryPersister[T]) SetCurrent(_ context.Context, entity T, expected, next *State[T]) error {
	if expected == nil || next == nil {
		return ErrNilState
	}

	unlock := p.locks.lock(entity)
	defer unlock()

	current := p.current(entity)
	if current.Name() != expected.Name() {
		return NewStaleStateError(expected.Name(), next.Name(), current.Name())
	}
	p.field.Set(entity, next.Name())
	return nil
}

// Assign unconditionally writes state into the entity. It is meant for
// seeding new entities, not for driving transitions.
func (p *MemoryPersister[T]) Assign(entity T, state *State[T]) {
	unlock := p.locks.lock(entity)
	defer unlock()
	p.field.Set(entity, state.Name())
}

// Refresh overwrites the entity's state slot with a value read from a store.
// An empty name is replaced by the start state.
func (p *MemoryPersister[T]) Refresh(entity T, name string) {
	if name == "" {
		name = p.start.Name()
	}
	unlock := p.locks.lock(entity)
	defer unlock()
	p.field.Set(entity, name)
}

func (p *MemoryPersister[T]) Field() StateAccessor[T] {
	return p.field
}

func (p *MemoryPersister[T]) Start() *State[T] {
	return p.start
}

// State looks up a registered state by name.
func (p *MemoryPersister[T]) State(name string) *State[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.states[name]
}

// States returns the registered states ordered by name.
func (p *MemoryPersister[T]) States() []*State[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*State[T], 0, len(p.states))
	for _, s := range p.states {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *State[T]) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	return out
}

// SetStates replaces the registered states. The start state is always kept.
func (p *MemoryPersister[T]) SetStates(states []*State[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.states)
	for _, s := range states {
		if s == nil {
			return ErrNilState
		}
		p.states[s.Name()] = s
	}
	if _, ok := p.states[p.start.Name()]; !ok {
		p.states[p.start.Name()] = p.start
	}
	return nil
}

// AddState registers s and returns the state it replaced, if any.
func (p *MemoryPersister[T]) AddState(s *State[T]) *State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.states[s.Name()]
	p.states[s.Name()] = s
	return prev
}

// RemoveState unregisters the state called name and returns it.
func (p *MemoryPersister[T]) RemoveState(name string) *State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.states[name]
	delete(p.states, name)
	return prev
}
