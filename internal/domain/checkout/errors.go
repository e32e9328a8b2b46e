package checkout

import "errors"

var (
	// ErrInvalidIntent covers malformed requests and intents that disagree with the catalog.
	ErrInvalidIntent = errors.New("invalid purchase intent")
)
