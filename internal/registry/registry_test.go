package registry

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	reg := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := reg.Register()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 100, reg.Len())
}

func TestSetUsername(t *testing.T) {
	reg := New()
	id := reg.Register()

	tests := []struct {
		name        string
		username    string
		wantErr     error
		wantChanged bool
		wantBound   string
	}{
		{name: "empty rejected", username: "", wantErr: ErrUsernameEmpty},
		{name: "whitespace rejected", username: "   ", wantErr: ErrUsernameEmpty},
		{name: "too long rejected", username: strings.Repeat("x", MaxUsernameLength+1), wantErr: ErrUsernameTooLong},
		{name: "first bind", username: " bob ", wantChanged: true, wantBound: "bob"},
		{name: "same name is not a change", username: "bob", wantChanged: false, wantBound: "bob"},
		{name: "rename overwrites", username: "robert", wantChanged: true, wantBound: "robert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := reg.SetUsername(id, tt.username)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)

			conn, ok := reg.Get(id)
			require.True(t, ok)
			assert.Equal(t, tt.wantBound, conn.Username)
		})
	}
}

func TestSetUsernameUnknownConnection(t *testing.T) {
	reg := New()
	_, err := reg.SetUsername("missing", "bob")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSetRoomAndClearRoom(t *testing.T) {
	reg := New()
	id := reg.Register()

	require.NoError(t, reg.SetRoom(id, "room-1"))
	conn, _ := reg.Get(id)
	assert.Equal(t, "room-1", conn.RoomID)

	reg.ClearRoom(id, "room-2")
	conn, _ = reg.Get(id)
	assert.Equal(t, "room-1", conn.RoomID, "clearing a different room is a no-op")

	reg.ClearRoom(id, "room-1")
	conn, _ = reg.Get(id)
	assert.Empty(t, conn.RoomID)

	assert.ErrorIs(t, reg.SetRoom("missing", "room-1"), ErrConnectionNotFound)
}

func TestListUsernamesOrderAndExclusion(t *testing.T) {
	reg := New()
	alice := reg.Register()
	anon := reg.Register()
	bob := reg.Register()
	carol := reg.Register()

	_, _ = reg.SetUsername(carol, "carol")
	_, _ = reg.SetUsername(alice, "alice")
	_, _ = reg.SetUsername(bob, "bob")

	got := reg.ListUsernames(bob)
	assert.Equal(t, []Recipient{
		{ConnectionID: alice, Username: "alice"},
		{ConnectionID: carol, Username: "carol"},
	}, got)

	for _, r := range reg.ListUsernames("") {
		assert.NotEqual(t, anon, r.ConnectionID, "unbound connections stay out of the directory")
	}
}

func TestFindByUsername(t *testing.T) {
	reg := New()
	a := reg.Register()
	b := reg.Register()
	c := reg.Register()
	_, _ = reg.SetUsername(a, "bob")
	_, _ = reg.SetUsername(b, "alice")
	_, _ = reg.SetUsername(c, "bob")

	assert.Equal(t, []string{a, c}, reg.FindByUsername("bob"))
	assert.Empty(t, reg.FindByUsername("carol"))
	assert.Empty(t, reg.FindByUsername(" "))
}

func TestUnregister(t *testing.T) {
	reg := New()
	id := reg.Register()
	_, _ = reg.SetUsername(id, "bob")

	conn, ok := reg.Unregister(id)
	require.True(t, ok)
	assert.Equal(t, "bob", conn.Username)

	_, ok = reg.Get(id)
	assert.False(t, ok)
	assert.Empty(t, reg.ListUsernames(""))

	_, ok = reg.Unregister(id)
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := reg.Register()
			_, _ = reg.SetUsername(id, "user")
			_ = reg.SetRoom(id, "room")
			_ = reg.ListUsernames(id)
			reg.Unregister(id)
		}()
	}
	wg.Wait()
	assert.Zero(t, reg.Len())
}
