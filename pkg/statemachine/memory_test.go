package statemachine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

type lockedOrder struct {
	sync.Mutex
	Status string `fsm:"state"`
}

func TestMemoryPersister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newStates := func() (*statemachine.State[*order], *statemachine.State[*order], *statemachine.State[*order]) {
		return statemachine.MustNewState[*order]("stateA"),
			statemachine.MustNewState[*order]("stateB"),
			statemachine.MustNewState[*order]("stateC")
	}

	t.Run("unset state resolves to start", func(t *testing.T) {
		t.Parallel()
		a, b, c := newStates()
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*order]{a, b, c}, a)
		require.NoError(t, err)

		assert.Same(t, a, p.Current(&order{}))
		assert.Same(t, b, p.Current(&order{State: "stateB"}))
		assert.Same(t, a, p.Current(&order{State: "ghost"}))
	})

	t.Run("compare and swap", func(t *testing.T) {
		t.Parallel()
		a, b, c := newStates()
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*order]{a, b, c}, a)
		require.NoError(t, err)

		entity := &order{}
		require.NoError(t, p.SetCurrent(ctx, entity, a, b))
		assert.Equal(t, "stateB", entity.State)

		err = p.SetCurrent(ctx, entity, a, c)
		require.Error(t, err)
		assert.True(t, statemachine.IsStaleStateError(err))
		assert.ErrorIs(t, err, statemachine.ErrRetry)

		var stale *statemachine.StaleStateError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "stateA", stale.Expected)
		assert.Equal(t, "stateC", stale.Next)
		assert.Equal(t, "stateB", stale.Actual)
		assert.Equal(t, "stateB", entity.State)

		require.NoError(t, p.SetCurrent(ctx, entity, b, c))
		assert.Same(t, c, p.Current(entity))
	})

	t.Run("nil states are rejected", func(t *testing.T) {
		t.Parallel()
		a, b, _ := newStates()
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*order]{a, b}, a)
		require.NoError(t, err)

		assert.ErrorIs(t, p.SetCurrent(ctx, &order{}, nil, b), statemachine.ErrNilState)
		assert.ErrorIs(t, p.SetCurrent(ctx, &order{}, a, nil), statemachine.ErrNilState)

		_, err = statemachine.NewMemoryPersister[*order](nil, nil)
		assert.ErrorIs(t, err, statemachine.ErrNilState)

		_, err = statemachine.NewMemoryPersister([]*statemachine.State[*order]{a, nil}, a)
		assert.ErrorIs(t, err, statemachine.ErrNilState)
	})

	t.Run("assign and refresh", func(t *testing.T) {
		t.Parallel()
		a, b, c := newStates()
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*order]{a, b, c}, a)
		require.NoError(t, err)

		entity := &order{}
		p.Assign(entity, c)
		assert.Equal(t, "stateC", entity.State)

		p.Refresh(entity, "stateB")
		assert.Same(t, b, p.Current(entity))

		p.Refresh(entity, "")
		assert.Equal(t, "stateA", entity.State)
	})

	t.Run("state registry", func(t *testing.T) {
		t.Parallel()
		a, b, c := newStates()
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*order]{c, b}, a)
		require.NoError(t, err)

		names := func() []string {
			var out []string
			for _, s := range p.States() {
				out = append(out, s.Name())
			}
			return out
		}
		assert.Equal(t, []string{"stateA", "stateB", "stateC"}, names())
		assert.Same(t, a, p.Start())
		assert.Same(t, b, p.State("stateB"))

		assert.Same(t, c, p.RemoveState("stateC"))
		assert.Nil(t, p.State("stateC"))
		assert.Same(t, a, p.Current(&order{State: "stateC"}))

		d := statemachine.MustNewState[*order]("stateD")
		assert.Nil(t, p.AddState(d))
		b2 := statemachine.MustNewState[*order]("stateB")
		assert.Same(t, b, p.AddState(b2))
		assert.Equal(t, []string{"stateA", "stateB", "stateD"}, names())

		require.NoError(t, p.SetStates([]*statemachine.State[*order]{c}))
		assert.Equal(t, []string{"stateA", "stateC"}, names())
	})

	t.Run("explicit field accessor", func(t *testing.T) {
		t.Parallel()
		a, b, _ := newStates()
		field := statemachine.StateAccessor[*order]{
			Column: "status",
			Get:    func(o *order) string { return o.State },
			Set:    func(o *order, s string) { o.State = s },
		}
		p, err := statemachine.NewMemoryPersisterWithField([]*statemachine.State[*order]{a, b}, a, field)
		require.NoError(t, err)
		assert.Equal(t, "status", p.Field().Column)

		entity := &order{}
		require.NoError(t, p.SetCurrent(ctx, entity, a, b))
		assert.Equal(t, "stateB", entity.State)

		_, err = statemachine.NewMemoryPersisterWithField([]*statemachine.State[*order]{a}, a, statemachine.StateAccessor[*order]{})
		assert.ErrorIs(t, err, statemachine.ErrStateFieldNotFound)
	})

	t.Run("entity implementing sync.Locker", func(t *testing.T) {
		t.Parallel()
		a := statemachine.MustNewState[*lockedOrder]("a")
		b := statemachine.MustNewState[*lockedOrder]("b")
		p, err := statemachine.NewMemoryPersister([]*statemachine.State[*lockedOrder]{a, b}, a)
		require.NoError(t, err)

		entity := &lockedOrder{}
		var wg sync.WaitGroup
		var wins sync.Map
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.SetCurrent(ctx, entity, a, b); err == nil {
					wins.Store(i, true)
				}
			}()
		}
		wg.Wait()

		count := 0
		wins.Range(func(_, _ any) bool {
			count++
			return true
		})
		assert.Equal(t, 1, count)
		assert.Equal(t, "b", entity.Status)
	})
}
