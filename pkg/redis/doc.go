// Package redis backs state machines with Redis using go-redis/v9.
//
// Each entity is a hash under "<prefix>:<id>" (composite ids are joined with
// ":"), and the current state lives in the field named after the entity's
// state column. Persister swaps that field with a Lua script, so the compare
// and the write happen atomically on the server:
//
//	client, err := redis.Connect(ctx, cfg)
//	persister, err := redis.NewPersister(client, cfg.KeyPrefix, m.States(), m.Start())
//	fsm := statemachine.MustNew[*Session](persister)
//
// A missing hash or field reads as the start state, so the first transition
// of a new entity creates its hash. On mismatch the stored state is copied
// into the entity and a statemachine.StaleStateError is returned.
//
// Finder loads hashes into structs with `redis` tags for the event harness.
//
// Connect retries until the server answers, and Healthcheck wraps Ping for
// liveness and readiness probes. Config is populated from environment
// variables via github.com/caarlos0/env.
package redis
