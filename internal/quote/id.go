package quote

import (
	"encoding/json"

	"github.com/google/uuid"
)

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewUUIDTokenProvider returns a TokenProvider backed by random UUIDv4 values.
// Unlike row ids, tokens are credentials, so the time-ordered v7 form is not
// used here.
func NewUUIDTokenProvider() TokenProvider {
	return func() (string, error) {
		value, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return value.String(), nil
	}
}

func encodeJSON(value interface{}) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
