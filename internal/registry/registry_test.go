package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NightMachinery/talespin/internal/room"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRegistry() *Registry {
	return New(50*time.Millisecond, time.Hour, time.Hour)
}

func TestCreateMintsUniqueRoomCodes(t *testing.T) {
	reg := newTestRegistry()
	defer reg.Close()

	win := room.DefaultWinCondition(10)
	r1, err := reg.Create([]room.Card{"a", "b", "c"}, win, 10, "alice")
	require.NoError(t, err)
	r2, err := reg.Create([]room.Card{"a", "b", "c"}, win, 10, "bob")
	require.NoError(t, err)

	assert.Len(t, r1.RoomID, roomCodeLength)
	assert.NotEqual(t, r1.RoomID, r2.RoomID)
	assert.True(t, reg.Exists(r1.RoomID))
	assert.True(t, reg.Exists(r2.RoomID))
	assert.False(t, reg.Exists("zzzz"))
}

func TestStatsCountsRoomsAndSessions(t *testing.T) {
	reg := newTestRegistry()
	defer reg.Close()

	win := room.DefaultWinCondition(10)
	r, err := reg.Create([]room.Card{"a", "b", "c"}, win, 10, "alice")
	require.NoError(t, err)

	_, _, joinErr := r.Join("alice", "token")
	require.Nil(t, joinErr)

	stats := reg.Stats()
	require.Len(t, stats, 1)
	entry, ok := stats[r.RoomID]
	require.True(t, ok)
	assert.EqualValues(t, 1, entry[0])
}

func TestIdleRoomIsGarbageCollected(t *testing.T) {
	reg := New(20*time.Millisecond, 10*time.Millisecond, time.Hour)
	defer reg.Close()

	win := room.DefaultWinCondition(10)
	r, err := reg.Create([]room.Card{"a", "b", "c"}, win, 10, "alice")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !reg.Exists(r.RoomID)
	}, time.Second, 5*time.Millisecond, "idle room should be garbage collected")
}
