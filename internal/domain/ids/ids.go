// Package ids mints and checks the public event identifiers.
package ids

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

var ErrInvalidULID = errors.New("invalid ULID")

var (
	mu     sync.Mutex
	source = ulid.Monotonic(rand.Reader, 0)
)

// NewULID mints an event id. Ids minted in the same millisecond still sort
// in mint order.
func NewULID() (string, error) {
	mu.Lock()
	id, err := ulid.New(ulid.Now(), source)
	mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("mint ulid: %w", err)
	}
	return id.String(), nil
}

func MustNewULID() string {
	id, err := NewULID()
	if err != nil {
		panic(err)
	}
	return id
}

// Canonical parses value strictly and returns its upper-case form.
// Surrounding whitespace is ignored; lower-case input is accepted.
func Canonical(value string) (string, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w %q", ErrInvalidULID, value)
	}
	return id.String(), nil
}

func IsULID(value string) bool {
	_, err := Canonical(value)
	return err == nil
}
