package pg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

// Persister stores the current state in a table column and swaps it with a
// single conditional UPDATE. Entities whose id is still zero have never been
// inserted and are handled in memory.
type Persister[T any] struct {
	*statemachine.MemoryPersister[T]

	db     DBTX
	table  string
	id     statemachine.IDAccessor[T]
	logger *slog.Logger

	update          string
	updateFromStart string
	selectState     string
}

// NewPersister locates the state and id columns through `fsm` struct tags.
// The column names come from `db` tags, falling back to snake_case.
func NewPersister[T any](db DBTX, table string, states []*statemachine.State[T], start *statemachine.State[T], opts ...PersisterOption) (*Persister[T], error) {
	state, err := statemachine.StateFieldByTag[T]()
	if err != nil {
		return nil, err
	}
	id, err := statemachine.IDFieldByTag[T]()
	if err != nil {
		return nil, err
	}
	return NewPersisterWithAccessors(db, table, states, start, state, id, opts...)
}

// NewPersisterWithAccessors uses explicit state and id accessors.
func NewPersisterWithAccessors[T any](
	db DBTX,
	table string,
	states []*statemachine.State[T],
	start *statemachine.State[T],
	state statemachine.StateAccessor[T],
	id statemachine.IDAccessor[T],
	opts ...PersisterOption,
) (*Persister[T], error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if strings.TrimSpace(table) == "" {
		return nil, ErrEmptyTableName
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

	p := &Persister[T]{
		MemoryPersister: mem,
		db:              db,
		table:           table,
		id:              id,
		logger:          o.logger.With(logger.Component("pg.persister"), logger.Table(table)),
	}
	p.buildQueries(state.Column)
	return p, nil
}

// buildQueries prepares the statements once. Placeholders are $1 for the
// next state, then the id columns, then the expected state.
func (p *Persister[T]) buildQueries(stateColumn string) {
	tbl := pgx.Identifier(strings.Split(p.table, ".")).Sanitize()
	col := pgx.Identifier{stateColumn}.Sanitize()

	where := make([]string, len(p.id.Columns))
	for i, c := range p.id.Columns {
		where[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+2)
	}
	byID := strings.Join(where, " AND ")
	expected := len(p.id.Columns) + 2

	p.update = fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s AND %s = $%d",
		tbl, col, byID, col, expected)
	// NULL and '' both read back as the start state, so both must match it.
	p.updateFromStart = fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s AND (%s = $%d OR %s IS NULL OR %s = '')",
		tbl, col, byID, col, expected, col, col)

	for i, c := range p.id.Columns {
		where[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	p.selectState = fmt.Sprintf("SELECT %s FROM %s WHERE %s", col, tbl, strings.Join(where, " AND "))
}

// SetCurrent moves the row from expected to next. When no row matches, the
// stored state is read back into the entity and a StaleStateError is returned.
// A row that has vanished reads back as the start state.
func (p *Persister[T]) SetCurrent(ctx context.Context, entity T, expected, next *statemachine.State[T]) error {
	if expected == nil || next == nil {
		return statemachine.ErrNilState
	}

	ids, ok := p.id.Get(entity)
	if !ok {
		return p.MemoryPersister.SetCurrent(ctx, entity, expected, next)
	}

	query := p.update
	if expected.Name() == p.Start().Name() {
		query = p.updateFromStart
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, next.Name())
	args = append(args, ids...)
	args = append(args, expected.Name())

	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		if IsSerializationFailure(err) {
			return fmt.Errorf("%w: %w", statemachine.ErrRetry, err)
		}
		return fmt.Errorf("update %s state: %w", p.table, err)
	}

	if tag.RowsAffected() == 0 {
		actual, err := p.load(ctx, ids)
		if err != nil {
			return err
		}
		p.Refresh(entity, actual)

		p.logger.WarnContext(ctx, "stale state",
			logger.EntityID(ids),
			logger.ExpectedState(expected.Name()),
			logger.ToState(next.Name()),
			logger.ActualState(actual),
		)
		return statemachine.NewStaleStateError(expected.Name(), next.Name(), actual)
	}

	p.Refresh(entity, next.Name())
	return nil
}

// load reads the stored state. A missing row or NULL column is the start state.
func (p *Persister[T]) load(ctx context.Context, ids []any) (string, error) {
	var state *string
	if err := p.db.QueryRow(ctx, p.selectState, ids...).Scan(&state); err != nil {
		if IsNotFoundError(err) {
			return p.Start().Name(), nil
		}
		return "", fmt.Errorf("select %s state: %w", p.table, err)
	}
	if state == nil || *state == "" {
		return p.Start().Name(), nil
	}
	return *state, nil
}

func (p *Persister[T]) Table() string {
	return p.table
}
