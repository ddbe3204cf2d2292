// Package mongo backs state machines with MongoDB using mongo-driver/v2.
//
// Persister keeps the current state in a document field and swaps it with a
// single UpdateOne whose filter includes the expected state:
//
//	{"_id": id, "state": "paid"}               -> {"$set": {"state": "shipped"}}
//	{"_id": id, "state": {"$in": ["created", null, ""]}}
//
// The second form is used when leaving the start state, so documents inserted
// without a state, or with an empty one, can transition. When nothing matches, the stored state is
// read back into the entity and a statemachine.StaleStateError is returned.
//
//	client, err := mongo.New(ctx, cfg)
//	coll := client.Database("shop").Collection("orders")
//	persister, err := mongo.NewPersister(coll, "orders", m.States(), m.Start())
//
// Field names come from `bson` tags, then the lowercased field name. Fields of
// an `fsm:"id,embedded"` struct are addressed as paths like "_id.tenant". Finder decodes documents by id for the
// event harness. Config is populated from environment variables via
// github.com/caarlos0/env, and Healthcheck pings the primary.
package mongo
