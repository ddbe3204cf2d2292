package statemachine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

func TestBuilder(t *testing.T) {
	t.Parallel()

	t.Run("declaration order and flags", func(t *testing.T) {
		t.Parallel()
		m, err := statemachine.NewBuilder[*order]("created").
			State("created").
			State("pending", statemachine.AsBlocking()).
			State("done", statemachine.AsEndState()).
			From("created").When("pay").To("pending").Add().
			From("pending").When("confirm").To("done").Add().
			Build()
		require.NoError(t, err)

		var names []string
		for _, s := range m.States() {
			names = append(names, s.Name())
		}
		assert.Equal(t, []string{"created", "pending", "done"}, names)
		assert.Equal(t, "created", m.Start().Name())

		pending, ok := m.State("pending")
		require.True(t, ok)
		assert.True(t, pending.IsBlocking())
		assert.False(t, pending.IsEndState())

		done, ok := m.State("done")
		require.True(t, ok)
		assert.True(t, done.IsEndState())

		_, ok = m.State("missing")
		assert.False(t, ok)

		created, _ := m.State("created")
		tr, ok := created.Transition("pay")
		require.True(t, ok)
		pair, err := tr.Resolve(context.Background(), &order{})
		require.NoError(t, err)
		assert.Same(t, pending, pair.State)
		assert.Nil(t, pair.Action)
	})

	t.Run("multiple actions run in order", func(t *testing.T) {
		t.Parallel()
		var calls []string
		record := func(name string) statemachine.Action[*order] {
			return statemachine.ActionFunc[*order](func(context.Context, *order, string, ...any) error {
				calls = append(calls, name)
				return nil
			})
		}

		m := statemachine.NewBuilder[*order]("a").
			State("a").State("b").
			From("a").When("go").To("b").WithAction(record("first")).WithAction(nil).WithAction(record("second")).Add().
			MustBuild()
		p, err := statemachine.NewMemoryPersister(m.States(), m.Start())
		require.NoError(t, err)

		state, err := statemachine.MustNew[*order](p).OnEvent(context.Background(), &order{}, "go")
		require.NoError(t, err)
		assert.Equal(t, "b", state.Name())
		assert.Equal(t, []string{"first", "second"}, calls)
	})

	t.Run("custom transition", func(t *testing.T) {
		t.Parallel()
		m := statemachine.NewBuilder[*order]("a").
			State("a").State("b").
			WithTransition("a", "go", statemachine.TransitionFunc[*order](
				func(context.Context, *order) (statemachine.StateAction[*order], error) {
					return statemachine.StateAction[*order]{}, nil
				},
			)).
			MustBuild()
		a, _ := m.State("a")
		_, ok := a.Transition("go")
		assert.True(t, ok)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		_, err := statemachine.NewBuilder[*order]("a").State("a").State("a").Build()
		assert.ErrorIs(t, err, statemachine.ErrDuplicateState)

		_, err = statemachine.NewBuilder[*order]("a").State("").Build()
		assert.ErrorIs(t, err, statemachine.ErrEmptyStateName)

		_, err = statemachine.NewBuilder[*order]("z").State("a").Build()
		assert.ErrorIs(t, err, statemachine.ErrUnknownState)

		_, err = statemachine.NewBuilder[*order]("a").State("a").WithTransition("a", "go", nil).Build()
		assert.ErrorIs(t, err, statemachine.ErrNilTransition)

		_, err = statemachine.NewBuilder[*order]("a").
			State("a").
			From("a").When("go").To("nowhere").Add().
			From("ghost").When("go").To("a").Add().
			From("a").When("").To("a").Add().
			Build()
		require.Error(t, err)
		assert.ErrorIs(t, err, statemachine.ErrUnknownState)
		assert.ErrorIs(t, err, statemachine.ErrEmptyEventName)
		assert.Contains(t, err.Error(), "nowhere")
		assert.Contains(t, err.Error(), "ghost")

		assert.Panics(t, func() {
			statemachine.NewBuilder[*order]("missing").MustBuild()
		})
	})
}

func TestState(t *testing.T) {
	t.Parallel()

	_, err := statemachine.NewState[*order]("  ")
	assert.ErrorIs(t, err, statemachine.ErrEmptyStateName)
	assert.Panics(t, func() { statemachine.MustNewState[*order]("") })

	a := statemachine.MustNewState[*order]("a")
	b := statemachine.MustNewState[*order]("b")
	assert.Equal(t, "State[name=a, isEndState=false, isBlocking=false]", a.String())

	assert.ErrorIs(t, a.AddTransition("", b, nil), statemachine.ErrEmptyEventName)
	assert.ErrorIs(t, a.AddTransition("go", nil, nil), statemachine.ErrNilState)
	assert.ErrorIs(t, a.SetTransition("go", nil), statemachine.ErrNilTransition)

	require.NoError(t, a.AddTransition("go", b, nil))
	require.NoError(t, a.AddTransition("back", a, nil))

	transitions := a.Transitions()
	assert.Len(t, transitions, 2)
	delete(transitions, "go")
	_, ok := a.Transition("go")
	assert.True(t, ok, "Transitions returns a copy")

	a.RemoveTransition("go")
	_, ok = a.Transition("go")
	assert.False(t, ok)

	_, err = statemachine.NewDeterministicTransition[*order](nil, nil)
	assert.ErrorIs(t, err, statemachine.ErrNilState)
}

func TestActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("composite stops at first error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		var ran []int
		step := func(i int, err error) statemachine.Action[*order] {
			return statemachine.ActionFunc[*order](func(context.Context, *order, string, ...any) error {
				ran = append(ran, i)
				return err
			})
		}

		c := statemachine.NewCompositeAction(step(1, nil), nil, step(2, boom), step(3, nil))
		assert.Len(t, c, 3)
		assert.ErrorIs(t, c.Execute(ctx, &order{}, "go"), boom)
		assert.Equal(t, []int{1, 2}, ran)
	})

	t.Run("wait and retry", func(t *testing.T) {
		t.Parallel()
		a := statemachine.NewWaitAndRetryAction[*order](50 * time.Millisecond)
		err := a.Execute(ctx, &order{}, "go")
		require.Error(t, err)
		assert.True(t, statemachine.IsWaitAndRetryError(err))
		assert.True(t, statemachine.IsRetryError(err))
		assert.False(t, statemachine.IsStaleStateError(err))

		var wait *statemachine.WaitAndRetryError
		require.ErrorAs(t, err, &wait)
		assert.Equal(t, 50*time.Millisecond, wait.Wait)
		assert.True(t, strings.HasPrefix(a.String(), "WaitAndRetry"))
	})
}
