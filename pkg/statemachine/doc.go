// Package statemachine implements a finite-state-machine engine for stateful
// entities that are driven concurrently, in one process or across many that
// share a store.
//
// An entity owns a "current state" slot. Events move it between States through
// Transitions; a successful transition may run an Action. The engine never
// holds a lock across an event: it reads the current state, resolves the
// transition and asks a Persister to compare-and-swap the state from the value
// it read to the next one. When the swap fails the persister refreshes the
// entity and returns a StaleStateError; the engine then re-runs the event
// from the fresh value.
//
// # Building a machine
//
//	m := statemachine.NewBuilder[*Order]("created").
//	    State("created").
//	    State("paid").
//	    State("shipped", statemachine.AsEndState()).
//	    From("created").When("pay").To("paid").WithAction(charge).Add().
//	    From("paid").When("ship").To("shipped").Add().
//	    MustBuild()
//
//	persister, err := statemachine.NewMemoryPersister(m.States(), m.Start())
//	fsm := statemachine.MustNew[*Order](persister, statemachine.WithName("orders"))
//
//	state, err := fsm.OnEvent(ctx, order, "pay", amount)
//
// The state field is found through the `fsm:"state"` struct tag, by name with
// StateFieldByName, or supplied explicitly as a StateAccessor.
//
// # Transitions
//
// AddTransition wires a deterministic transition. A TransitionFunc computes
// the next state at resolution time and may be called more than once per
// logical event, so any mutation it performs must be idempotent.
//
// # Blocking states
//
// An event without a transition from a normal state is a no-op. From a
// blocking state the engine writes the current state onto itself, which fails
// if another caller moved the entity in the meantime, then sleeps for the
// retry interval and tries again.
//
// # Errors
//
// Retry signals (StaleStateError, WaitAndRetryError, or anything wrapping
// ErrRetry) never leave OnEvent on success. When the retry budget is spent
// OnEvent returns an error matching ErrTooBusy: the entity is under
// contention and the call may be repeated later. Other errors from actions or
// stores abort the event and are returned wrapped.
//
// # Persisters
//
// MemoryPersister serializes SetCurrent per entity instance. The pg, redis and
// mongo packages provide store-backed persisters that perform the swap as a
// single conditional write and fall back to MemoryPersister for entities that
// have not been saved yet.
package statemachine
