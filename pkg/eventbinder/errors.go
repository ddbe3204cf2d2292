package eventbinder

import "errors"

var (
	ErrNilHarness           = errors.New("harness cannot be nil")
	ErrNoEvents             = errors.New("at least one event must be bound")
	ErrUnsupportedMediaType = errors.New("unsupported media type, expected application/json")
	ErrInvalidJSON          = errors.New("invalid JSON body")
)
