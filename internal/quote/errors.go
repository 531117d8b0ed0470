package quote

import "errors"

var (
	// ErrNotFound indicates no quote matches the requested id or token.
	ErrNotFound = errors.New("quote: not found")
	// ErrValidation indicates the request is missing required content.
	ErrValidation = errors.New("quote: validation failed")
	// ErrLinkStillValid indicates a regeneration attempt on an unexpired link.
	ErrLinkStillValid = errors.New("quote: signature link still valid")
	// ErrConverted guards converted quotes against deletion and edits.
	ErrConverted = errors.New("quote: already converted to an order")
	// ErrExpired indicates the signature link's expiry has passed.
	ErrExpired = errors.New("quote: signature link expired")
	// ErrInvalidStatus indicates the current status does not allow the action,
	// including a second confirm or reject on an already-decided quote.
	ErrInvalidStatus = errors.New("quote: status does not allow this action")
	// ErrConflict indicates a concurrent writer won a per-row conditional update.
	ErrConflict = errors.New("quote: concurrent modification")
)
