package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// HashGetter is the subset of redis.Cmdable used by Finder.
type HashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Finder loads entities stored as hashes. Fields are mapped onto E by
// `redis` struct tags.
type Finder[E any] struct {
	client HashGetter
	prefix string
}

func NewFinder[E any](client HashGetter, prefix string) (*Finder[E], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Finder[E]{client: client, prefix: strings.TrimSuffix(prefix, ":")}, nil
}

// Find implements statemachine.Finder.
func (f *Finder[E]) Find(ctx context.Context, id any, event string) (*E, error) {
	key := fmt.Sprint(id)
	if f.prefix != "" {
		key = f.prefix + ":" + key
	}

	cmd := f.client.HGetAll(ctx, key)
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: key=%s, event=%s", statemachine.ErrEntityNotFound, key, event)
	}

	entity := new(E)
	if err := cmd.Scan(entity); err != nil {
		return nil, fmt.Errorf("scan %s: %w", key, err)
	}
	return entity, nil
}
