package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiryLog struct {
	mu   sync.Mutex
	keys []Key
}

func (l *expiryLog) record(k Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, k)
}

func (l *expiryLog) snapshot() []Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Key, len(l.keys))
	copy(out, l.keys)
	return out
}

const testTimeout = 60 * time.Millisecond

func TestTouchTransitionsIdleToTyping(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)
	defer tr.Stop()
	key := Key{RoomID: "r", ConnectionID: "a"}

	assert.True(t, tr.Touch(key))
	assert.False(t, tr.Touch(key), "renewal is not a new transition")
	assert.True(t, tr.Cancel(key))
	assert.True(t, tr.Touch(key), "a cancelled key starts idle again")
}

func TestTypingExpiresWithoutRenewal(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)
	defer tr.Stop()
	key := Key{RoomID: "r", ConnectionID: "a"}

	tr.Touch(key)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, key, log.snapshot()[0])
	assert.True(t, tr.Touch(key), "an expired key is idle again")
}

func TestRenewalExtendsWindowWithoutStacking(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)
	defer tr.Stop()
	key := Key{RoomID: "r", ConnectionID: "a"}

	start := time.Now()
	tr.Touch(key)
	for i := 0; i < 4; i++ {
		time.Sleep(testTimeout / 3)
		tr.Touch(key)
	}
	renewedAt := time.Now()
	assert.Empty(t, log.snapshot())

	require.Eventually(t, func() bool { return len(log.snapshot()) > 0 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), renewedAt.Sub(start)+testTimeout/2)

	time.Sleep(2 * testTimeout)
	assert.Len(t, log.snapshot(), 1, "exactly one expiry per typing burst")
}

func TestCancelSuppressesExpiry(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)
	defer tr.Stop()
	key := Key{RoomID: "r", ConnectionID: "a"}

	tr.Touch(key)
	assert.True(t, tr.Cancel(key))
	assert.False(t, tr.Cancel(key))

	time.Sleep(2 * testTimeout)
	assert.Empty(t, log.snapshot())
}

func TestCancelConnection(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)
	defer tr.Stop()

	tr.Touch(Key{RoomID: "r1", ConnectionID: "a"})
	tr.Touch(Key{RoomID: "r2", ConnectionID: "a"})
	tr.Touch(Key{RoomID: "r1", ConnectionID: "b"})

	assert.Equal(t, 2, tr.CancelConnection("a"))
	assert.Zero(t, tr.CancelConnection("a"))

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(testTimeout)
	assert.Equal(t, []Key{{RoomID: "r1", ConnectionID: "b"}}, log.snapshot())
}

func TestStopCancelsEverything(t *testing.T) {
	log := &expiryLog{}
	tr := NewTracker(testTimeout, log.record)

	tr.Touch(Key{RoomID: "r", ConnectionID: "a"})
	tr.Stop()
	assert.False(t, tr.Touch(Key{RoomID: "r", ConnectionID: "b"}))

	time.Sleep(2 * testTimeout)
	assert.Empty(t, log.snapshot())
}
