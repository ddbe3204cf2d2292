package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// Finder loads documents by id for the event harness.
type Finder[E any] struct {
	coll    Collection
	idField string
}

// NewFinder matches ids against idField, usually "_id".
func NewFinder[E any](coll Collection, idField string) (*Finder[E], error) {
	if coll == nil {
		return nil, ErrNilCollection
	}
	if idField == "" {
		idField = "_id"
	}
	return &Finder[E]{coll: coll, idField: idField}, nil
}

// Find implements statemachine.Finder.
func (f *Finder[E]) Find(ctx context.Context, id any, event string) (*E, error) {
	entity := new(E)
	err := f.coll.FindOne(ctx, bson.D{{Key: f.idField, Value: id}}).Decode(entity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s=%v, event=%s", statemachine.ErrEntityNotFound, f.idField, id, event)
		}
		return nil, fmt.Errorf("find %s=%v: %w", f.idField, id, err)
	}
	return entity, nil
}
