// Package registry tracks live connections, the username bound to each one
// and the room each one currently sits in.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxUsernameLength = 50

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUsernameEmpty      = errors.New("username cannot be empty")
	ErrUsernameTooLong    = errors.New("username exceeds maximum length")
	ErrUsernameInvalid    = errors.New("username contains invalid characters")
)

// Connection is a snapshot of one live session.
type Connection struct {
	ID          string
	Username    string
	RoomID      string
	ConnectedAt time.Time
}

// Recipient is one entry of the private-chat directory.
type Recipient struct {
	ConnectionID string `json:"socketId"`
	Username     string `json:"username"`
}

type entry struct {
	conn Connection
	seq  uint64
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*entry
	nextSeq uint64
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		now:   time.Now,
	}
}

// Register allocates a fresh connection id. It never fails.
func (r *Registry) Register() string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.conns[id] = &entry{
		conn: Connection{ID: id, ConnectedAt: r.now()},
		seq:  r.nextSeq,
	}
	return id
}

// ValidateUsername trims name and checks it can be bound.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if !utf8.ValidString(name) {
		return "", ErrUsernameInvalid
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// SetUsername binds name to the connection. Later calls rename. The returned
// bool reports whether the bound name actually changed.
func (r *Registry) SetUsername(id, name string) (bool, error) {
	name, err := ValidateUsername(name)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false, ErrConnectionNotFound
	}
	if e.conn.Username == name {
		return false, nil
	}
	e.conn.Username = name
	return true, nil
}

// SetRoom moves the connection's room pointer. It does not touch room
// membership; callers keep the two in step.
func (r *Registry) SetRoom(id, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	e.conn.RoomID = roomID
	return nil
}

// ClearRoom empties the room pointer only if it still points at roomID.
func (r *Registry) ClearRoom(id, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok && e.conn.RoomID == roomID {
		e.conn.RoomID = ""
	}
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Unregister removes the connection and returns its last state. Room
// membership and typing state must already be cleared by the caller.
func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return e.conn, true
}

// IDs lists every registered connection in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.sorted()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.conn.ID)
	}
	return ids
}

// ListUsernames returns the directory of bound connections in registration
// order, leaving out the connection named by excluding.
func (r *Registry) ListUsernames(excluding string) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Recipient, 0, len(r.conns))
	for _, e := range r.sorted() {
		if e.conn.ID == excluding || e.conn.Username == "" {
			continue
		}
		out = append(out, Recipient{ConnectionID: e.conn.ID, Username: e.conn.Username})
	}
	return out
}

// FindByUsername returns the ids of every connection bound to name.
func (r *Registry) FindByUsername(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, e := range r.sorted() {
		if e.conn.Username == name {
			ids = append(ids, e.conn.ID)
		}
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// sorted must be called with r.mu held.
func (r *Registry) sorted() []*entry {
	entries := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}
