// Package idgen produces sortable room identifiers.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a lexically sortable id; ids minted within the same
// millisecond still increase monotonically.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// Generator mints room ids. Tests swap it for a deterministic sequence.
type Generator interface {
	New() string
}

type ulidGen struct{}

func (ulidGen) New() string { return NewULID() }

func NewRoomIDGenerator() Generator {
	return ulidGen{}
}
