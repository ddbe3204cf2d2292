package eventbinder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/statefulkit/pkg/logger"
	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

// Request is the optional JSON body of an event request.
type Request struct {
	Args []any `json:"args,omitempty"`
}

// Result describes the state an event left the entity in.
type Result struct {
	Event string `json:"event"`
	State string `json:"state"`
	End   bool   `json:"end"`
}

// Response is the envelope of every reply.
type Response struct {
	Data  *Result      `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IDParser converts the {id} path segment into the id passed to the Finder.
type IDParser func(raw string) (any, error)

// Option configures Mount.
type Option func(*config)

type config struct {
	idParser   IDParser
	logger     *slog.Logger
	retryAfter int
	maxBody    int64
}

// WithIDParser replaces the default parser, which passes the segment as a string.
func WithIDParser(p IDParser) Option {
	return func(c *config) {
		if p != nil {
			c.idParser = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryAfter sets the Retry-After seconds sent with 503 responses.
func WithRetryAfter(seconds int) Option {
	return func(c *config) {
		if seconds > 0 {
			c.retryAfter = seconds
		}
	}
}

// WithMaxBodySize limits the request body in bytes.
func WithMaxBodySize(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// UUIDParser parses the {id} segment as a UUID.
func UUIDParser(raw string) (any, error) {
	return uuid.Parse(raw)
}

// Int64Parser parses the {id} segment as a base-10 int64.
func Int64Parser(raw string) (any, error) {
	return strconv.ParseInt(raw, 10, 64)
}

type binder[T any] struct {
	harness *statemachine.Harness[T]
	events  map[string]struct{}
	cfg     *config
}

// Mount registers POST /{event} and POST /{id}/{event} on r. Only the listed
// events are routed; others answer 404.
func Mount[T any](r chi.Router, h *statemachine.Harness[T], events []string, opts ...Option) error {
	if h == nil {
		return ErrNilHarness
	}
	if len(events) == 0 {
		return ErrNoEvents
	}

	cfg := &config{
		idParser:   func(raw string) (any, error) { return raw, nil },
		logger:     slog.Default(),
		retryAfter: 1,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.logger = cfg.logger.With(logger.Component("eventbinder"))

	b := &binder[T]{
		harness: h,
		events:  make(map[string]struct{}, len(events)),
		cfg:     cfg,
	}
	for _, e := range events {
		if e == "" {
			return statemachine.ErrEmptyEventName
		}
		b.events[e] = struct{}{}
	}

	routes := r.With(RequestIDMiddleware)
	routes.Post("/{event}", b.handle)
	routes.Post("/{id}/{event}", b.handle)
	return nil
}

func (b *binder[T]) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := chi.URLParam(r, "event")

	log := b.cfg.logger.With(logger.RequestID(RequestIDFromContext(ctx)), logger.Event(event))

	if _, ok := b.events[event]; !ok {
		b.fail(w, http.StatusNotFound, "unknown_event", fmt.Sprintf("event %q is not bound", event))
		return
	}

	var id any
	if raw := chi.URLParam(r, "id"); raw != "" {
		parsed, err := b.cfg.idParser(raw)
		if err != nil {
			b.fail(w, http.StatusBadRequest, "invalid_id", err.Error())
			return
		}
		id = parsed
	}

	req, err := b.decode(w, r)
	if err != nil {
		b.fail(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	_, state, err := b.harness.OnEvent(ctx, event, id, req.Args...)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			log.ErrorContext(ctx, "event failed", logger.EntityID(id), logger.Error(err))
		} else {
			log.WarnContext(ctx, "event rejected", logger.EntityID(id), logger.Error(err))
		}
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", strconv.Itoa(b.cfg.retryAfter))
		}
		message := err.Error()
		if status == http.StatusInternalServerError {
			// Store and action errors stay in the log.
			message = http.StatusText(status)
		}
		b.fail(w, status, code, message)
		return
	}

	b.write(w, http.StatusOK, Response{Data: &Result{
		Event: event,
		State: state.Name(),
		End:   state.IsEndState(),
	}})
}

// decode reads the optional body. An empty body means no arguments.
func (b *binder[T]) decode(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return req, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, ct)
		}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, b.cfg.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		return req, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return req, nil
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, statemachine.ErrTooBusy):
		return http.StatusServiceUnavailable, "too_busy"
	case errors.Is(err, statemachine.ErrEntityNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, statemachine.ErrEntityNotCreated):
		return http.StatusUnprocessableEntity, "not_created"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (b *binder[T]) fail(w http.ResponseWriter, status int, code, message string) {
	b.write(w, status, Response{Error: &ErrorDetail{Code: code, Message: message}})
}

func (b *binder[T]) write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		b.cfg.logger.Error("failed to write response", logger.Error(err))
	}
}
