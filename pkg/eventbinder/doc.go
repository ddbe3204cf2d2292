// Package eventbinder exposes a state machine Harness over HTTP with chi.
//
//	r := chi.NewRouter()
//	r.Route("/orders", func(r chi.Router) {
//	    err := eventbinder.Mount(r, harness, []string{"create", "pay", "ship"},
//	        eventbinder.WithIDParser(eventbinder.UUIDParser),
//	    )
//	})
//
// POST /orders/create fires "create" on a new entity built by the Harness
// factory. POST /orders/{id}/pay loads the entity through the Harness finder
// and fires "pay" on it. An optional JSON body {"args": [...]} is passed to
// actions as event arguments.
//
// Replies use one envelope:
//
//	{"data": {"event": "pay", "state": "paid", "end": false}}
//	{"error": {"code": "too_busy", "message": "..."}}
//
// Contention (statemachine.ErrTooBusy) answers 503 with Retry-After, an
// unknown id or unbound event 404, a failed factory 422 and a malformed body
// 400. Anything else answers 500 with a generic message; the cause is only
// logged. Every reply carries an X-Request-ID header, echoed from the request or
// generated.
package eventbinder
