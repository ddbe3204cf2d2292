package mongo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	fsmmongo "github.com/dmitrymomot/statefulkit/pkg/mongo"
	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

type job struct {
	ID    bson.ObjectID `fsm:"id" bson:"_id"`
	State string        `fsm:"state" bson:"state"`
	Name  string        `bson:"name"`
}

type mockCollection struct {
	mock.Mock
}

func (m *mockCollection) UpdateOne(_ context.Context, filter, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error) {
	a := m.Called(filter, update)
	res, _ := a.Get(0).(*mongo.UpdateResult)
	return res, a.Error(1)
}

func (m *mockCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	return m.Called(filter).Get(0).(*mongo.SingleResult)
}

type jobStates struct {
	queued, running, done *statemachine.State[*job]
}

func newJobStates() jobStates {
	s := jobStates{
		queued:  statemachine.MustNewState[*job]("queued"),
		running: statemachine.MustNewState[*job]("running"),
		done:    statemachine.MustNewState[*job]("done", statemachine.AsEndState()),
	}
	_ = s.queued.AddTransition("start", s.running, nil)
	_ = s.running.AddTransition("finish", s.done, nil)
	return s
}

func newPersister(t *testing.T, coll fsmmongo.Collection, s jobStates) *fsmmongo.Persister[*job] {
	t.Helper()
	p, err := fsmmongo.NewPersister(coll, "jobs", []*statemachine.State[*job]{s.queued, s.running, s.done}, s.queued)
	require.NoError(t, err)
	return p
}

func setState(name string) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: "state", Value: name}}}}
}

func fromStartFilter(id bson.ObjectID) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "state", Value: bson.D{{Key: "$in", Value: bson.A{"queued", nil, ""}}}},
	}
}

func TestPersister_SetCurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("from start matches missing field", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		p := newPersister(t, coll, s)

		id := bson.NewObjectID()
		coll.On("UpdateOne", fromStartFilter(id), setState("running")).
			Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil).Once()

		entity := &job{ID: id}
		require.NoError(t, p.SetCurrent(ctx, entity, s.queued, s.running))
		assert.Equal(t, "running", entity.State)
		coll.AssertExpectations(t)
	})

	t.Run("empty stored state transitions like start", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		fsm := statemachine.MustNew[*job](newPersister(t, coll, s), statemachine.WithRetryAttempts(2))

		// The document was inserted with State: "" and is matched by the $in clause.
		id := bson.NewObjectID()
		coll.On("UpdateOne", fromStartFilter(id), setState("running")).
			Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil).Once()

		entity := &job{ID: id}
		state, err := fsm.OnEvent(ctx, entity, "start")
		require.NoError(t, err)
		assert.Same(t, s.running, state)
		coll.AssertExpectations(t)
	})

	t.Run("stale document", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		p := newPersister(t, coll, s)

		id := bson.NewObjectID()
		filter := bson.D{{Key: "_id", Value: id}, {Key: "state", Value: "running"}}
		coll.On("UpdateOne", filter, setState("done")).
			Return(&mongo.UpdateResult{}, nil).Once()
		coll.On("FindOne", bson.D{{Key: "_id", Value: id}}).
			Return(mongo.NewSingleResultFromDocument(bson.D{{Key: "state", Value: "done"}}, nil, nil)).Once()

		entity := &job{ID: id, State: "running"}
		err := p.SetCurrent(ctx, entity, s.running, s.done)

		var stale *statemachine.StaleStateError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "done", stale.Actual)
		assert.Equal(t, "done", entity.State)
		coll.AssertExpectations(t)
	})

	t.Run("deleted document reads as start", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		p := newPersister(t, coll, s)

		id := bson.NewObjectID()
		coll.On("UpdateOne", mock.Anything, mock.Anything).Return(&mongo.UpdateResult{}, nil).Once()
		coll.On("FindOne", bson.D{{Key: "_id", Value: id}}).
			Return(mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)).Once()

		entity := &job{ID: id, State: "running"}
		err := p.SetCurrent(ctx, entity, s.running, s.done)
		assert.True(t, statemachine.IsStaleStateError(err))
		assert.Equal(t, "queued", entity.State)
	})

	t.Run("store errors are not retried", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		p := newPersister(t, coll, s)

		boom := errors.New("server selection timeout")
		coll.On("UpdateOne", mock.Anything, mock.Anything).Return(nil, boom).Once()

		err := p.SetCurrent(ctx, &job{ID: bson.NewObjectID(), State: "running"}, s.running, s.done)
		assert.ErrorIs(t, err, boom)
		assert.False(t, statemachine.IsRetryError(err))
	})

	t.Run("new entity stays in memory", func(t *testing.T) {
		t.Parallel()
		coll := &mockCollection{}
		s := newJobStates()
		p := newPersister(t, coll, s)

		entity := &job{}
		require.NoError(t, p.SetCurrent(ctx, entity, s.queued, s.running))
		assert.Equal(t, "running", entity.State)
		coll.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything)
	})

	t.Run("nil collection", func(t *testing.T) {
		t.Parallel()
		s := newJobStates()
		_, err := fsmmongo.NewPersister[*job](nil, "jobs", nil, s.queued)
		assert.ErrorIs(t, err, fsmmongo.ErrNilCollection)
	})
}

func TestPersister_WithFSM(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	coll := &mockCollection{}
	s := newJobStates()
	fsm := statemachine.MustNew[*job](newPersister(t, coll, s))

	id := bson.NewObjectID()
	coll.On("UpdateOne", mock.Anything, setState("running")).
		Return(&mongo.UpdateResult{MatchedCount: 1}, nil).Once()
	coll.On("UpdateOne", bson.D{{Key: "_id", Value: id}, {Key: "state", Value: "running"}}, setState("done")).
		Return(&mongo.UpdateResult{MatchedCount: 1}, nil).Once()

	entity := &job{ID: id}
	for _, event := range []string{"start", "finish"} {
		_, err := fsm.OnEvent(ctx, entity, event)
		require.NoError(t, err)
	}
	assert.Equal(t, "done", entity.State)
	coll.AssertExpectations(t)
}

func TestFinder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	coll := &mockCollection{}
	finder, err := fsmmongo.NewFinder[job](coll, "")
	require.NoError(t, err)

	found := bson.NewObjectID()
	missing := bson.NewObjectID()
	coll.On("FindOne", bson.D{{Key: "_id", Value: found}}).
		Return(mongo.NewSingleResultFromDocument(job{ID: found, State: "running", Name: "reindex"}, nil, nil)).Once()
	coll.On("FindOne", bson.D{{Key: "_id", Value: missing}}).
		Return(mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)).Once()

	entity, err := finder.Find(ctx, found, "finish")
	require.NoError(t, err)
	assert.Equal(t, &job{ID: found, State: "running", Name: "reindex"}, entity)

	_, err = finder.Find(ctx, missing, "finish")
	assert.ErrorIs(t, err, statemachine.ErrEntityNotFound)
	coll.AssertExpectations(t)
}

type tenantKey struct {
	Tenant string `bson:"tenant" db:"tenant_id"`
	Seq    int64
}

type report struct {
	Key    tenantKey `fsm:"id,embedded" bson:"_id" db:"id"`
	Status string    `fsm:"state" bson:"status" db:"state"`
}

func TestPersister_FieldNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	draft := statemachine.MustNewState[*report]("draft")
	final := statemachine.MustNewState[*report]("final")
	coll := &mockCollection{}
	p, err := fsmmongo.NewPersister(coll, "reports", []*statemachine.State[*report]{draft, final}, draft)
	require.NoError(t, err)

	filter := bson.D{
		{Key: "_id.tenant", Value: "acme"},
		{Key: "_id.seq", Value: int64(0)},
		{Key: "status", Value: "final"},
	}
	coll.On("UpdateOne", filter, bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: "draft"}}}}).
		Return(&mongo.UpdateResult{MatchedCount: 1}, nil).Once()

	entity := &report{Key: tenantKey{Tenant: "acme"}, Status: "final"}
	require.NoError(t, p.SetCurrent(ctx, entity, final, draft))
	assert.Equal(t, "draft", entity.Status)
	coll.AssertExpectations(t)
}
