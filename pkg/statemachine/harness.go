package statemachine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/atomic"
)

// Finder loads an existing entity by id. It returns ErrEntityNotFound (or an
// error wrapping it) when no entity has that id.
type Finder[T any] interface {
	Find(ctx context.Context, id any, event string) (T, error)
}

// FinderFunc adapts a function to the Finder interface.
type FinderFunc[T any] func(ctx context.Context, id any, event string) (T, error)

func (f FinderFunc[T]) Find(ctx context.Context, id any, event string) (T, error) {
	return f(ctx, id, event)
}

// Factory creates a new entity for an event addressed to no particular id.
type Factory[T any] interface {
	Create(ctx context.Context, event string) (T, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc[T any] func(ctx context.Context, event string) (T, error)

func (f FactoryFunc[T]) Create(ctx context.Context, event string) (T, error) {
	return f(ctx, event)
}

// Harness resolves the entity an inbound event is addressed to and fires the
// event on it. Transport bindings sit on top of it.
type Harness[T any] struct {
	fsm      *FSM[T]
	finder   Finder[T]
	factory  Factory[T]
	inFlight atomic.Int64
}

// NewHarness creates a harness. factory may be nil when entities are never
// created through events.
func NewHarness[T any](fsm *FSM[T], finder Finder[T], factory Factory[T]) *Harness[T] {
	return &Harness[T]{
		fsm:     fsm,
		finder:  finder,
		factory: factory,
	}
}

// OnEvent finds the entity with id, or creates one when id is nil, and
// applies event to it.
func (h *Harness[T]) OnEvent(ctx context.Context, event string, id any, args ...any) (T, *State[T], error) {
	h.inFlight.Inc()
	defer h.inFlight.Dec()

	var zero T
	entity, err := h.resolve(ctx, event, id)
	if err != nil {
		return zero, nil, err
	}

	state, err := h.fsm.OnEvent(ctx, entity, event, args...)
	if err != nil {
		return entity, nil, err
	}
	return entity, state, nil
}

// InFlight reports how many events are currently being processed.
func (h *Harness[T]) InFlight() int64 {
	return h.inFlight.Load()
}

func (h *Harness[T]) FSM() *FSM[T] {
	return h.fsm
}

func (h *Harness[T]) resolve(ctx context.Context, event string, id any) (T, error) {
	var zero T

	if id != nil {
		if h.finder == nil {
			return zero, fmt.Errorf("%w: id=%v, event=%s", ErrEntityNotFound, id, event)
		}
		entity, err := h.finder.Find(ctx, id, event)
		if err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				return zero, err
			}
			return zero, fmt.Errorf("find entity id=%v, event=%s: %w", id, event, err)
		}
		if isNil(entity) {
			return zero, fmt.Errorf("%w: id=%v, event=%s", ErrEntityNotFound, id, event)
		}
		return entity, nil
	}

	if h.factory == nil {
		return zero, fmt.Errorf("%w: no factory, event=%s", ErrEntityNotCreated, event)
	}
	entity, err := h.factory.Create(ctx, event)
	if err != nil {
		return zero, errors.Join(ErrEntityNotCreated, err)
	}
	if isNil(entity) {
		return zero, fmt.Errorf("%w: event=%s", ErrEntityNotCreated, event)
	}
	return entity, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
