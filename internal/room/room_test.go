package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightMachinery/talespin/internal/roomerr"
)

func testDeck(n int) []Card {
	deck := make([]Card, n)
	for i := range deck {
		deck[i] = Card(rune('a' + i%26))
	}
	for i := range deck {
		deck[i] = deck[i] + Card(rune('0'+i/26))
	}
	return deck
}

func newTestRoom(t *testing.T, players int) *Room {
	t.Helper()
	win := WinCondition{Kind: WinPoints, TargetPoints: 100}
	r := New("TEST", testDeck(80), win, 20, "alice")

	names := []string{"alice", "bob", "carol", "dave", "erin"}
	require.GreaterOrEqual(t, len(names), players)

	for i := 0; i < players; i++ {
		_, _, err := r.Join(names[i], "token-"+names[i])
		require.Nil(t, err)
	}
	return r
}

func TestJoinCreatesFirstMemberAsModerator(t *testing.T) {
	r := newTestRoom(t, 1)
	r.mu.Lock()
	_, isMod := r.Moderators["alice"]
	r.mu.Unlock()
	assert.True(t, isMod)
}

func TestJoinRejectsWrongToken(t *testing.T) {
	r := newTestRoom(t, 1)
	_, _, err := r.Join("alice", "wrong-token")
	require.NotNil(t, err)
	assert.Equal(t, roomerr.Capacity, err.Kind)
}

func TestReconnectReplacesOldMailbox(t *testing.T) {
	r := newTestRoom(t, 1)
	oldMailbox, oldGen, err := r.Join("alice", "token-alice")
	require.Nil(t, err)

	newMailbox, newGen, err := r.Join("alice", "token-alice")
	require.Nil(t, err)
	assert.NotEqual(t, oldGen, newGen)

	// The superseded mailbox first holds the RoomState broadcast from its own
	// attach; the LeftRoomMsg follows it.
	var leftRoom bool
	for !leftRoom {
		select {
		case msg := <-oldMailbox:
			_, leftRoom = msg.(LeftRoomMsg)
		default:
			t.Fatal("expected the old mailbox to receive a LeftRoomMsg")
		}
	}
	assert.True(t, leftRoom, "expected a LeftRoomMsg on the superseded mailbox")

	assert.NotNil(t, newMailbox)
}

func TestStartGameRequiresThreePlayers(t *testing.T) {
	r := newTestRoom(t, 2)
	err := r.Dispatch("alice", generationOf(t, r, "alice"), ClientMessage{Type: MsgStartGame})
	require.NotNil(t, err)
}

func TestStartGameDealsHandsAndAdvancesStage(t *testing.T) {
	r := newTestRoom(t, 3)
	err := r.Dispatch("alice", generationOf(t, r, "alice"), ClientMessage{Type: MsgStartGame})
	require.Nil(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, StageActiveChooses, r.Stage)
	for _, name := range r.PlayerOrder {
		assert.Len(t, r.PlayerHand[name], maxHandSize)
	}
}

func TestDropBelowThreePlayersPauses(t *testing.T) {
	r := newTestRoom(t, 3)
	require.Nil(t, r.Dispatch("alice", generationOf(t, r, "alice"), ClientMessage{Type: MsgStartGame}))

	r.Leave("carol")

	r.mu.Lock()
	stage := r.Stage
	r.mu.Unlock()
	assert.Equal(t, StagePaused, stage)
}

func TestResumeRequiresThreePlayers(t *testing.T) {
	r := newTestRoom(t, 3)
	require.Nil(t, r.Dispatch("alice", generationOf(t, r, "alice"), ClientMessage{Type: MsgStartGame}))
	r.Leave("carol")

	err := r.Dispatch("alice", generationOf(t, r, "alice"), ClientMessage{Type: MsgResumeGame})
	require.Nil(t, err)

	r.mu.Lock()
	stage := r.Stage
	r.mu.Unlock()
	assert.Equal(t, StagePaused, stage, "resuming with only 2 players must stay paused")
}

func TestKickByNonModeratorIsRejected(t *testing.T) {
	r := newTestRoom(t, 3)
	err := r.Dispatch("bob", generationOf(t, r, "bob"), ClientMessage{Type: MsgKickPlayer, Player: "carol"})
	require.NotNil(t, err)
}

func TestCreatorCannotBeKicked(t *testing.T) {
	r := newTestRoom(t, 3)
	r.mu.Lock()
	r.Moderators["bob"] = struct{}{}
	r.mu.Unlock()

	err := r.Dispatch("bob", generationOf(t, r, "bob"), ClientMessage{Type: MsgKickPlayer, Player: "alice"})
	require.NotNil(t, err)
}

func TestSupersededGenerationIsSilentlyDropped(t *testing.T) {
	r := newTestRoom(t, 3)
	staleGen := generationOf(t, r, "alice")

	_, _, err := r.Join("alice", "token-alice") // reconnect, mints a new generation
	require.Nil(t, err)

	err = r.Dispatch("alice", staleGen, ClientMessage{Type: MsgStartGame})
	assert.Nil(t, err, "a stale generation must be dropped silently, not errored")

	r.mu.Lock()
	stage := r.Stage
	r.mu.Unlock()
	assert.Equal(t, StageJoining, stage, "the stale StartGame must not have taken effect")
}

func generationOf(t *testing.T, r *Room, name string) uint64 {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.ConnectionGeneration[name]
	require.True(t, ok)
	return gen
}
