package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// Finder loads entities by primary key for the event harness. Result columns
// are mapped onto E by `db` tags.
type Finder[E any] struct {
	db    DBTX
	table string
	query string
}

// NewFinder selects every column of table where idColumn matches.
func NewFinder[E any](db DBTX, table, idColumn string) (*Finder[E], error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if strings.TrimSpace(table) == "" {
		return nil, ErrEmptyTableName
	}
	return &Finder[E]{
		db:    db,
		table: table,
		query: fmt.Sprintf("SELECT * FROM %s WHERE %s = $1",
			pgx.Identifier(strings.Split(table, ".")).Sanitize(),
			pgx.Identifier{idColumn}.Sanitize(),
		),
	}, nil
}

// Find implements statemachine.Finder.
func (f *Finder[E]) Find(ctx context.Context, id any, event string) (*E, error) {
	rows, err := f.db.Query(ctx, f.query, id)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", f.table, err)
	}

	entity, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[E])
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: table=%s, id=%v, event=%s", statemachine.ErrEntityNotFound, f.table, id, event)
		}
		return nil, fmt.Errorf("scan %s: %w", f.table, err)
	}
	return entity, nil
}
