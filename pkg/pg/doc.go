// Package pg backs state machines with PostgreSQL using the pgx/v5 driver.
//
// Persister keeps an entity's current state in a column and performs every
// transition as one conditional statement:
//
//	UPDATE "orders" SET "state" = $1 WHERE "id" = $2 AND "state" = $3
//
// When the expected state is the machine's start state the condition also
// accepts NULL, so freshly inserted rows can leave the start state. If no row
// is updated the persister reads the stored state back into the entity and
// returns a statemachine.StaleStateError; the engine then retries the event.
// Entities whose id fields are still zero have not been inserted and are
// handled in memory.
//
// Column names are taken from `db` struct tags:
//
//	type Order struct {
//	    ID    int64  `fsm:"id" db:"id"`
//	    State string `fsm:"state" db:"state"`
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	persister, err := pg.NewPersister(pool, "orders", m.States(), m.Start())
//	fsm := statemachine.MustNew[*Order](persister)
//
// Any DBTX works, including a pgx.Tx, in which case the swap commits or rolls
// back with the surrounding transaction. A serialization failure (SQLSTATE
// 40001) is reported as a retry signal.
//
// Finder loads rows by primary key into structs for the event harness.
//
// Config is populated from environment variables via github.com/caarlos0/env.
// Connect opens a pool with retries, and Healthcheck wraps Ping for health
// endpoints.
package pg
