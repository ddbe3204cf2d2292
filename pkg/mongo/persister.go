package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// Collection is the subset of *mongo.Collection used by Persister and Finder.
type Collection interface {
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
}

// fieldOptions name fields the way the driver encodes them: the bson tag, or
// the lowercased field name. Embedded ids map to sub-document paths.
var fieldOptions = []statemachine.FieldOption{
	statemachine.WithColumnTags("bson"),
	statemachine.WithFallbackName(strings.ToLower),
	statemachine.WithNestedColumns(),
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

// Persister stores the current state in a document field and swaps it with a
// filtered UpdateOne. Entities without an id are handled in memory.
type Persister[T any] struct {
	*statemachine.MemoryPersister[T]

	coll   Collection
	name   string
	column string
	id     statemachine.IDAccessor[T]
	logger *slog.Logger
}

// NewPersister locates the state and id fields through `fsm` struct tags.
// Field names come from `bson` tags, falling back to the lowercased field
// name; the fields of an `fsm:"id,embedded"` struct become dotted paths such
// as "_id.tenant".
func NewPersister[T any](coll Collection, name string, states []*statemachine.State[T], start *statemachine.State[T], opts ...PersisterOption) (*Persister[T], error) {
	state, err := statemachine.StateFieldByTag[T](fieldOptions...)
	if err != nil {
		return nil, err
	}
	id, err := statemachine.IDFieldByTag[T](fieldOptions...)
	if err != nil {
		return nil, err
	}
	return NewPersisterWithAccessors(coll, name, states, start, state, id, opts...)
}

// NewPersisterWithAccessors uses explicit state and id accessors. name is
// only used in logs and errors.
func NewPersisterWithAccessors[T any](
	coll Collection,
	name string,
	states []*statemachine.State[T],
	start *statemachine.State[T],
	state statemachine.StateAccessor[T],
	id statemachine.IDAccessor[T],
	opts ...PersisterOption,
) (*Persister[T], error) {
	if coll == nil {
		return nil, ErrNilCollection
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
		coll:            coll,
		name:            name,
		column:          state.Column,
		id:              id,
		logger:          o.logger.With(logger.Component("mongo.persister"), logger.Table(name)),
	}, nil
}

// SetCurrent updates the document only if it is still in expected. A document
// whose state field is missing, null or empty matches the start state.
func (p *Persister[T]) SetCurrent(ctx context.Context, entity T, expected, next *statemachine.State[T]) error {
	if expected == nil || next == nil {
		return statemachine.ErrNilState
	}

	ids, ok := p.id.Get(entity)
	if !ok {
		return p.MemoryPersister.SetCurrent(ctx, entity, expected, next)
	}

	filter := p.byID(ids)
	if expected.Name() == p.Start().Name() {
		// null matches a missing field too; "" reads back as start as well.
		filter = append(filter, bson.E{Key: p.column, Value: bson.D{
			{Key: "$in", Value: bson.A{expected.Name(), nil, ""}},
		}})
	} else {
		filter = append(filter, bson.E{Key: p.column, Value: expected.Name()})
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: p.column, Value: next.Name()}}}}

	res, err := p.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update %s state: %w", p.name, err)
	}

	if res.MatchedCount == 0 {
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

func (p *Persister[T]) byID(ids []any) bson.D {
	filter := make(bson.D, 0, len(ids)+1)
	for i, c := range p.id.Columns {
		filter = append(filter, bson.E{Key: c, Value: ids[i]})
	}
	return filter
}

// load reads the stored state. A missing document or field is the start state.
func (p *Persister[T]) load(ctx context.Context, ids []any) (string, error) {
	var doc bson.M
	err := p.coll.FindOne(ctx, p.byID(ids),
		options.FindOne().SetProjection(bson.D{{Key: p.column, Value: 1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return p.Start().Name(), nil
		}
		return "", fmt.Errorf("find %s state: %w", p.name, err)
	}

	state, _ := doc[p.column].(string)
	if state == "" {
		return p.Start().Name(), nil
	}
	return state, nil
}
