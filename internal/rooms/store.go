// Package rooms owns room entities: their names, ordered message logs and
// member sets.
//
// Every mutation of a room runs under that room's own mutex, so operations on
// different rooms proceed in parallel. Mutating calls accept an onCommit hook
// that runs while the room is still locked; callers use it to enqueue
// fan-out so that every member observes events in commit order. Hooks must
// not block.
package rooms

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"roomchat/internal/idgen"

	"github.com/google/uuid"
)

const (
	MaxRoomNameLength = 100
	MaxMessageLength  = 5000
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomNameEmpty   = errors.New("room name cannot be empty")
	ErrRoomNameTooLong = errors.New("room name exceeds maximum length")
	ErrRoomNameInvalid = errors.New("room name contains invalid characters")
	ErrRoomNameTaken   = errors.New("room name already in use")
	ErrMessageEmpty    = errors.New("message cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageInvalid  = errors.New("message contains invalid characters")
	ErrNotMember       = errors.New("connection is not a member of the room")
)

// Message is immutable once appended.
type Message struct {
	ID        string
	RoomID    string
	Seq       int64
	Sender    string
	Body      string
	Timestamp time.Time
}

// Snapshot is a consistent copy of a room taken inside its critical section.
type Snapshot struct {
	RoomID   string
	Name     string
	Messages []Message
	Members  []string
}

// Info summarises a room for directories and sweeps.
type Info struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	Members    int
	Messages   int
	EmptySince time.Time
}

type room struct {
	mu         sync.Mutex
	id         string
	name       string
	createdAt  time.Time
	nextSeq    int64
	messages   []Message
	members    []string
	memberSet  map[string]struct{}
	emptySince time.Time
	closed     bool
}

type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
	names map[string]string // normalized name -> room id
	ids   idgen.Generator
	now   func() time.Time
}

func NewStore(ids idgen.Generator) *Store {
	if ids == nil {
		ids = idgen.NewRoomIDGenerator()
	}
	return &Store{
		rooms: make(map[string]*room),
		names: make(map[string]string),
		ids:   ids,
		now:   time.Now,
	}
}

// ValidateName trims a room name and checks it.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if !utf8.ValidString(name) {
		return "", ErrRoomNameInvalid
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return "", ErrRoomNameTooLong
	}
	return name, nil
}

// ValidateBody rejects empty, whitespace-only and oversized bodies.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrMessageEmpty
	}
	if !utf8.ValidString(body) {
		return ErrMessageInvalid
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CreateRoom creates a room whose only member is creatorID. If previousRoomID
// is set the creator is removed from that room in the same step.
func (s *Store) CreateRoom(name, creatorID, previousRoomID string, onCommit func(Snapshot)) (Snapshot, error) {
	name, err := ValidateName(name)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	key := nameKey(name)
	if _, taken := s.names[key]; taken {
		s.mu.Unlock()
		return Snapshot{}, ErrRoomNameTaken
	}

	r := &room{
		id:        s.ids.New(),
		name:      name,
		createdAt: s.now().UTC(),
		memberSet: make(map[string]struct{}),
	}
	// r is not visible to anyone yet, so taking it after the store lock
	// cannot deadlock with the previous room's lock.
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := s.rooms[previousRoomID]; prev != nil {
		prev.mu.Lock()
		prev.removeMember(creatorID, s.now())
		prev.mu.Unlock()
	}
	r.addMember(creatorID)
	s.rooms[r.id] = r
	s.names[key] = r.id
	s.mu.Unlock()

	snap := r.snapshot()
	if onCommit != nil {
		onCommit(snap)
	}
	return snap, nil
}

// Join adds connID to roomID, first removing it from previousRoomID when that
// differs. Joining a room twice is a no-op that still returns a snapshot. On
// ErrRoomNotFound nothing changes.
func (s *Store) Join(roomID, connID, previousRoomID string, onCommit func(Snapshot)) (Snapshot, error) {
	target := s.get(roomID)
	if target == nil {
		return Snapshot{}, ErrRoomNotFound
	}
	var prev *room
	if previousRoomID != "" && previousRoomID != roomID {
		prev = s.get(previousRoomID)
	}

	unlock := lockPair(target, prev)
	defer unlock()

	if target.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if prev != nil {
		prev.removeMember(connID, s.now())
	}
	target.addMember(connID)

	snap := target.snapshot()
	if onCommit != nil {
		onCommit(snap)
	}
	return snap, nil
}

// Leave removes connID from the room. It reports whether connID was a member.
func (s *Store) Leave(roomID, connID string) bool {
	r := s.get(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeMember(connID, s.now())
}

// Append stores a message from a current member and hands the stored message
// and the member list to onCommit.
func (s *Store) Append(roomID, connID, sender, body string, onCommit func(Message, []string)) (Message, error) {
	if err := ValidateBody(body); err != nil {
		return Message{}, err
	}
	r := s.get(roomID)
	if r == nil {
		return Message{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Message{}, ErrRoomNotFound
	}
	if _, ok := r.memberSet[connID]; !ok {
		return Message{}, ErrNotMember
	}

	r.nextSeq++
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    r.id,
		Seq:       r.nextSeq,
		Sender:    sender,
		Body:      body,
		Timestamp: s.now().UTC(),
	}
	r.messages = append(r.messages, msg)

	if onCommit != nil {
		onCommit(msg, r.memberList())
	}
	return msg, nil
}

// Members returns the member ids in join order.
func (s *Store) Members(roomID string) ([]string, error) {
	r := s.get(roomID)
	if r == nil {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberList(), nil
}

// Messages returns the full message log in append order.
func (s *Store) Messages(roomID string) ([]Message, error) {
	r := s.get(roomID)
	if r == nil {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

func (s *Store) Get(roomID string) (Info, bool) {
	r := s.get(roomID)
	if r == nil {
		return Info{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info(), true
}

// Lookup resolves a display name, ignoring case and surrounding whitespace.
func (s *Store) Lookup(name string) (Info, bool) {
	s.mu.RLock()
	id, ok := s.names[nameKey(name)]
	s.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return s.Get(id)
}

// List returns every room, oldest first.
func (s *Store) List() []Info {
	s.mu.RLock()
	rs := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rs = append(rs, r)
	}
	s.mu.RUnlock()

	out := make([]Info, 0, len(rs))
	for _, r := range rs {
		r.mu.Lock()
		out = append(out, r.info())
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reap deletes rooms that have had no members since before cutoff and
// returns what was removed.
func (s *Store) Reap(cutoff time.Time) []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []Info
	for id, r := range s.rooms {
		r.mu.Lock()
		if len(r.members) == 0 && !r.emptySince.IsZero() && r.emptySince.Before(cutoff) {
			r.closed = true
			reaped = append(reaped, r.info())
			delete(s.rooms, id)
			delete(s.names, nameKey(r.name))
		}
		r.mu.Unlock()
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i].ID < reaped[j].ID })
	return reaped
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *Store) get(roomID string) *room {
	if roomID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// lockPair locks one or two rooms in id order and returns the unlock func.
func lockPair(a, b *room) func() {
	if b == nil || a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// The methods below require r.mu.

func (r *room) addMember(connID string) {
	if _, ok := r.memberSet[connID]; ok {
		return
	}
	r.memberSet[connID] = struct{}{}
	r.members = append(r.members, connID)
	r.emptySince = time.Time{}
}

func (r *room) removeMember(connID string, now time.Time) bool {
	if _, ok := r.memberSet[connID]; !ok {
		return false
	}
	delete(r.memberSet, connID)
	for i, id := range r.members {
		if id == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 {
		r.emptySince = now.UTC()
	}
	return true
}

func (r *room) memberList() []string {
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

func (r *room) snapshot() Snapshot {
	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)
	return Snapshot{
		RoomID:   r.id,
		Name:     r.name,
		Messages: msgs,
		Members:  r.memberList(),
	}
}

func (r *room) info() Info {
	return Info{
		ID:         r.id,
		Name:       r.name,
		CreatedAt:  r.createdAt,
		Members:    len(r.members),
		Messages:   len(r.messages),
		EmptySince: r.emptySince,
	}
}
