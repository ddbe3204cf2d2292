package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// swapState compares and sets one hash field atomically.
// KEYS[1] hash key; ARGV: field, expected, next, start.
// A missing field counts as the start state.
var swapState = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur or cur == '' then
  cur = ARGV[4]
end
if cur ~= ARGV[2] then
  return {0, cur}
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return {1, ARGV[3]}
`)

// fieldOptions take the hash field name from the `redis` tag, as Finder does.
var fieldOptions = []statemachine.FieldOption{
	statemachine.WithColumnTags("redis"),
}

// PersisterOption configures a Persister.
type PersisterOption func(*persisterOptions)

type persisterOptions struct {
	logger *slog.Logger
}

func WithLogger(l *slog.Logger) PersisterOption {
	return func(o *persisterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Persister stores the current state as a field of a per-entity hash keyed
// "<prefix>:<id>" and swaps it with a Lua script. Entities without an id are
// handled in memory.
type Persister[T any] struct {
	*statemachine.MemoryPersister[T]

	client redis.Scripter
	prefix string
	column string
	id     statemachine.IDAccessor[T]
	logger *slog.Logger
}

// NewPersister locates the state and id fields through `fsm` struct tags.
func NewPersister[T any](client redis.Scripter, prefix string, states []*statemachine.State[T], start *statemachine.State[T], opts ...PersisterOption) (*Persister[T], error) {
	state, err := statemachine.StateFieldByTag[T](fieldOptions...)
	if err != nil {
		return nil, err
	}
	id, err := statemachine.IDFieldByTag[T](fieldOptions...)
	if err != nil {
		return nil, err
	}
	return NewPersisterWithAccessors(client, prefix, states, start, state, id, opts...)
}

// NewPersisterWithAccessors uses explicit state and id accessors.
func NewPersisterWithAccessors[T any](
	client redis.Scripter,
	prefix string,
	states []*statemachine.State[T],
	start *statemachine.State[T],
	state statemachine.StateAccessor[T],
	id statemachine.IDAccessor[T],
	opts ...PersisterOption,
) (*Persister[T], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if id.IsZero() {
		return nil, statemachine.ErrIDFieldNotFound
	}

	mem, err := statemachine.NewMemoryPersisterWithField(states, start, state)
	if err != nil {
		return nil, err
	}

	o := &persisterOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	return &Persister[T]{
		MemoryPersister: mem,
		client:          client,
		prefix:          strings.TrimSuffix(prefix, ":"),
		column:          state.Column,
		id:              id,
		logger:          o.logger.With(logger.Component("redis.persister"), logger.Table(prefix)),
	}, nil
}

// Key returns the hash key for an id.
func (p *Persister[T]) Key(ids ...any) string {
	parts := make([]string, 0, len(ids)+1)
	if p.prefix != "" {
		parts = append(parts, p.prefix)
	}
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return strings.Join(parts, ":")
}

// SetCurrent runs the swap script. On mismatch the stored state is written
// into the entity and a StaleStateError is returned.
func (p *Persister[T]) SetCurrent(ctx context.Context, entity T, expected, next *statemachine.State[T]) error {
	if expected == nil || next == nil {
		return statemachine.ErrNilState
	}

	ids, ok := p.id.Get(entity)
	if !ok {
		return p.MemoryPersister.SetCurrent(ctx, entity, expected, next)
	}
	key := p.Key(ids...)

	reply, err := swapState.Run(ctx, p.client, []string{key},
		p.column, expected.Name(), next.Name(), p.Start().Name(),
	).Slice()
	if err != nil {
		return fmt.Errorf("swap state %s: %w", key, err)
	}

	swapped, actual, err := parseReply(reply)
	if err != nil {
		return fmt.Errorf("swap state %s: %w", key, err)
	}
	p.Refresh(entity, actual)

	if !swapped {
		p.logger.WarnContext(ctx, "stale state",
			logger.EntityID(key),
			logger.ExpectedState(expected.Name()),
			logger.ToState(next.Name()),
			logger.ActualState(actual),
		)
		return statemachine.NewStaleStateError(expected.Name(), next.Name(), actual)
	}
	return nil
}

func parseReply(reply []any) (bool, string, error) {
	if len(reply) != 2 {
		return false, "", fmt.Errorf("%w: %v", ErrUnexpectedReply, reply)
	}
	code, ok := reply[0].(int64)
	if !ok {
		return false, "", fmt.Errorf("%w: status %T", ErrUnexpectedReply, reply[0])
	}
	state, ok := reply[1].(string)
	if !ok {
		return false, "", fmt.Errorf("%w: state %T", ErrUnexpectedReply, reply[1])
	}
	return code == 1, state, nil
}
