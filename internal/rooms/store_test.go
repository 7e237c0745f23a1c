package rooms

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("room-%03d", g.n)
}

func newTestStore() *Store {
	return NewStore(&seqIDs{})
}

func TestCreateRoom(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		wantErr  error
		wantName string
	}{
		{name: "valid", roomName: "lobby", wantName: "lobby"},
		{name: "trimmed", roomName: "  games ", wantName: "games"},
		{name: "empty", roomName: "", wantErr: ErrRoomNameEmpty},
		{name: "whitespace", roomName: "  ", wantErr: ErrRoomNameEmpty},
		{name: "too long", roomName: strings.Repeat("r", MaxRoomNameLength+1), wantErr: ErrRoomNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			committed := false
			snap, err := s.CreateRoom(tt.roomName, "conn-1", "", func(Snapshot) { committed = true })
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, committed)
				assert.Zero(t, s.Len())
				return
			}
			require.NoError(t, err)
			assert.True(t, committed)
			assert.Equal(t, tt.wantName, snap.Name)
			assert.NotEmpty(t, snap.RoomID)
			assert.Equal(t, []string{"conn-1"}, snap.Members)
			assert.Empty(t, snap.Messages)
		})
	}
}

func TestCreateRoomNameUniqueness(t *testing.T) {
	s := newTestStore()
	_, err := s.CreateRoom("Lobby", "a", "", nil)
	require.NoError(t, err)

	_, err = s.CreateRoom(" lobby ", "b", "", nil)
	assert.ErrorIs(t, err, ErrRoomNameTaken)
	assert.Equal(t, 1, s.Len())
}

func TestCreateRoomLeavesPreviousRoom(t *testing.T) {
	s := newTestStore()
	first, _ := s.CreateRoom("first", "a", "", nil)
	second, err := s.CreateRoom("second", "a", first.RoomID, nil)
	require.NoError(t, err)

	members, _ := s.Members(first.RoomID)
	assert.Empty(t, members)
	members, _ = s.Members(second.RoomID)
	assert.Equal(t, []string{"a"}, members)
}

func TestJoinRoom(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)
	_, _ = s.Append(room.RoomID, "a", "alice", "hi", nil)

	snap, err := s.Join(room.RoomID, "b", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Members)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi", snap.Messages[0].Body)

	// idempotent
	snap, err = s.Join(room.RoomID, "b", room.RoomID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Members)
}

func TestJoinUnknownRoomChangesNothing(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)

	committed := false
	_, err := s.Join("missing", "a", room.RoomID, func(Snapshot) { committed = true })
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.False(t, committed)

	members, _ := s.Members(room.RoomID)
	assert.Equal(t, []string{"a"}, members, "failed join must not leave the previous room")
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	s := newTestStore()
	one, _ := s.CreateRoom("one", "a", "", nil)
	two, _ := s.CreateRoom("two", "b", "", nil)

	_, err := s.Join(two.RoomID, "a", one.RoomID, nil)
	require.NoError(t, err)

	members, _ := s.Members(one.RoomID)
	assert.Empty(t, members)
	members, _ = s.Members(two.RoomID)
	assert.Equal(t, []string{"b", "a"}, members)
}

func TestLeave(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)

	assert.False(t, s.Leave(room.RoomID, "stranger"))
	assert.False(t, s.Leave("missing", "a"))
	assert.True(t, s.Leave(room.RoomID, "a"))
	assert.False(t, s.Leave(room.RoomID, "a"))

	info, ok := s.Get(room.RoomID)
	require.True(t, ok, "empty rooms are retained until swept")
	assert.Zero(t, info.Members)
	assert.False(t, info.EmptySince.IsZero())
}

func TestAppend(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)

	tests := []struct {
		name    string
		roomID  string
		connID  string
		body    string
		wantErr error
	}{
		{name: "member appends", roomID: room.RoomID, connID: "a", body: "hello"},
		{name: "empty body", roomID: room.RoomID, connID: "a", body: "", wantErr: ErrMessageEmpty},
		{name: "whitespace body", roomID: room.RoomID, connID: "a", body: " \n\t", wantErr: ErrMessageEmpty},
		{name: "too long", roomID: room.RoomID, connID: "a", body: strings.Repeat("m", MaxMessageLength+1), wantErr: ErrMessageTooLong},
		{name: "unknown room", roomID: "missing", connID: "a", body: "hello", wantErr: ErrRoomNotFound},
		{name: "non member", roomID: room.RoomID, connID: "b", body: "hello", wantErr: ErrNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := s.Messages(room.RoomID)
			msg, err := s.Append(tt.roomID, tt.connID, "alice", tt.body, nil)
			after, _ := s.Messages(room.RoomID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, after)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, msg.Body)
			assert.Equal(t, "alice", msg.Sender)
			assert.Len(t, after, len(before)+1)
		})
	}
}

func TestAppendOrderAndCommitHook(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)
	_, _ = s.Join(room.RoomID, "b", "", nil)

	var hookMembers []string
	for i := 1; i <= 5; i++ {
		msg, err := s.Append(room.RoomID, "a", "alice", fmt.Sprintf("m%d", i), func(m Message, members []string) {
			hookMembers = members
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
	}
	assert.Equal(t, []string{"a", "b"}, hookMembers)

	msgs, _ := s.Messages(room.RoomID)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), m.Body)
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestLookupAndList(t *testing.T) {
	s := newTestStore()
	lobby, _ := s.CreateRoom("Lobby", "a", "", nil)
	_, _ = s.CreateRoom("games", "b", "", nil)

	info, ok := s.Lookup("LOBBY ")
	require.True(t, ok)
	assert.Equal(t, lobby.RoomID, info.ID)
	assert.Equal(t, "Lobby", info.Name)

	_, ok = s.Lookup("nope")
	assert.False(t, ok)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Lobby", list[0].Name)
	assert.Equal(t, "games", list[1].Name)
}

func TestReap(t *testing.T) {
	s := newTestStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	busy, _ := s.CreateRoom("busy", "a", "", nil)
	idle, _ := s.CreateRoom("idle", "b", "", nil)
	s.Leave(idle.RoomID, "b")

	assert.Empty(t, s.Reap(now), "cutoff must be strictly after the empty timestamp")

	reaped := s.Reap(now.Add(time.Minute))
	require.Len(t, reaped, 1)
	assert.Equal(t, idle.RoomID, reaped[0].ID)

	_, ok := s.Get(idle.RoomID)
	assert.False(t, ok)
	_, ok = s.Lookup("idle")
	assert.False(t, ok)
	_, ok = s.Get(busy.RoomID)
	assert.True(t, ok)

	_, err := s.Join(idle.RoomID, "b", "", nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = s.CreateRoom("idle", "b", "", nil)
	assert.NoError(t, err, "a reaped name can be reused")
}

func TestReapSkipsRoomThatRegainedMembers(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)
	s.Leave(room.RoomID, "a")
	_, _ = s.Join(room.RoomID, "b", "", nil)

	assert.Empty(t, s.Reap(time.Now().Add(time.Hour)))
}

// Random join/leave sequences never leave a stale or missing member.
func TestMembershipMatchesJoinLeaveHistory(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "c0", "", nil)
	want := map[string]bool{"c0": true}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		conn := fmt.Sprintf("c%d", rng.Intn(8))
		if rng.Intn(2) == 0 {
			_, err := s.Join(room.RoomID, conn, "", nil)
			require.NoError(t, err)
			want[conn] = true
		} else {
			s.Leave(room.RoomID, conn)
			delete(want, conn)
		}

		members, _ := s.Members(room.RoomID)
		got := make(map[string]bool, len(members))
		for _, m := range members {
			require.False(t, got[m], "duplicate member %s", m)
			got[m] = true
		}
		require.Equal(t, want, got)
	}
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	s := newTestStore()
	room, _ := s.CreateRoom("lobby", "a", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := s.Append(room.RoomID, "a", "alice", fmt.Sprintf("%d-%d", i, j), nil)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, _ := s.Messages(room.RoomID)
	require.Len(t, msgs, 500)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestConcurrentMovesDoNotDeadlock(t *testing.T) {
	s := newTestStore()
	one, _ := s.CreateRoom("one", "x", "", nil)
	two, _ := s.CreateRoom("two", "y", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		conn := fmt.Sprintf("c%d", i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Join(one.RoomID, conn, two.RoomID, nil)
				_, _ = s.Join(two.RoomID, conn, one.RoomID, nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Join(two.RoomID, conn+"b", one.RoomID, nil)
				_, _ = s.Join(one.RoomID, conn+"b", two.RoomID, nil)
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("room moves deadlocked")
	}
}
