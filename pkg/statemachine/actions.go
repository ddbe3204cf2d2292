package statemachine

import (
	"context"
	"fmt"
	"time"
)

// CompositeAction runs its actions in order and stops at the first error.
type CompositeAction[T any] []Action[T]

func NewCompositeAction[T any](actions ...Action[T]) CompositeAction[T] {
	clean := make(CompositeAction[T], 0, len(actions))
	for _, a := range actions {
		if a != nil {
			clean = append(clean, a)
		}
	}
	return clean
}

func (c CompositeAction[T]) Execute(ctx context.Context, entity T, event string, args ...any) error {
	for _, a := range c {
		if err := a.Execute(ctx, entity, event, args...); err != nil {
			return err
		}
	}
	return nil
}

// WaitAndRetryAction always asks the engine to wait and retry the event.
// It is typically bound to a self-loop on a pending state.
type WaitAndRetryAction[T any] struct {
	Wait time.Duration
}

func NewWaitAndRetryAction[T any](wait time.Duration) *WaitAndRetryAction[T] {
	return &WaitAndRetryAction[T]{Wait: wait}
}

func (a *WaitAndRetryAction[T]) Execute(context.Context, T, string, ...any) error {
	return NewWaitAndRetryError(a.Wait)
}

func (a *WaitAndRetryAction[T]) String() string {
	return fmt.Sprintf("WaitAndRetry[%s]", a.Wait)
}
