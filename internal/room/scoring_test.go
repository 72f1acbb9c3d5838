package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// setupScoringRoom builds a 4-player room with alice as the active player
// and a fixed set of submitted cards, ready for computePointChangeLocked.
func setupScoringRoom() *Room {
	r := New("SCORE", testDeck(40), WinCondition{Kind: WinPoints, TargetPoints: 30}, 10, "alice")
	r.Players = map[string]*Player{
		"alice": {},
		"bob":   {},
		"carol": {},
		"dave":  {},
	}
	r.PlayerOrder = []string{"alice", "bob", "carol", "dave"}
	r.ActivePlayer = 0
	r.PlayerToCurrentCard = map[string]Card{
		"alice": "active-card",
		"bob":   "bob-card",
		"carol": "carol-card",
		"dave":  "dave-card",
	}
	return r
}

// Nobody finds the active player's card: everyone who voted gets 2, plus
// a bonus for each vote their own submitted card fooled in.
func TestScoringNobodyFoundActiveCard(t *testing.T) {
	r := setupScoringRoom()
	r.PlayerToVote = map[string]Card{
		"bob":   "carol-card",
		"carol": "dave-card",
		"dave":  "bob-card",
	}

	change := r.computePointChangeLocked()
	assert.EqualValues(t, 0, change["alice"])
	assert.EqualValues(t, 3, change["bob"])   // 2 for voting + 1 for fooling dave
	assert.EqualValues(t, 3, change["carol"]) // 2 for voting + 1 for fooling bob
	assert.EqualValues(t, 3, change["dave"])  // 2 for voting + 1 for fooling carol
}

// Everybody finds the active player's card: active player gets nothing,
// voters get 2 each, no bluff bonuses apply.
func TestScoringEveryoneFoundActiveCard(t *testing.T) {
	r := setupScoringRoom()
	r.PlayerToVote = map[string]Card{
		"bob":   "active-card",
		"carol": "active-card",
		"dave":  "active-card",
	}

	change := r.computePointChangeLocked()
	assert.EqualValues(t, 0, change["alice"])
	assert.EqualValues(t, 2, change["bob"])
	assert.EqualValues(t, 2, change["carol"])
	assert.EqualValues(t, 2, change["dave"])
}

// A mixed outcome: active player and correct guessers get 3, plus bluff
// bonuses for fooling other voters.
func TestScoringMixedOutcome(t *testing.T) {
	r := setupScoringRoom()
	r.PlayerToVote = map[string]Card{
		"bob":   "active-card",
		"carol": "bob-card",
		"dave":  "bob-card",
	}

	change := r.computePointChangeLocked()
	assert.EqualValues(t, 3, change["alice"]) // correctly guessed by some but not all
	assert.EqualValues(t, 5, change["bob"])   // 3 for guessing right + 2 for fooling carol and dave
	assert.EqualValues(t, 0, change["carol"])
	assert.EqualValues(t, 0, change["dave"])
}

func TestShouldEndGameByPoints(t *testing.T) {
	r := setupScoringRoom()
	r.WinCondition = WinCondition{Kind: WinPoints, TargetPoints: 10}
	r.Players["bob"].Points = 10
	assert.True(t, r.shouldEndGameLocked())

	r.Players["bob"].Points = 9
	assert.False(t, r.shouldEndGameLocked())
}

func TestShouldEndGameByCycles(t *testing.T) {
	r := setupScoringRoom()
	r.WinCondition = WinCondition{Kind: WinCycles, TargetCycles: 2}
	r.Round = 7 // < 2 * 4 players
	assert.False(t, r.shouldEndGameLocked())

	r.Round = 8
	assert.True(t, r.shouldEndGameLocked())
}

func TestShouldEndGameCardsFinishNeverTriggersHere(t *testing.T) {
	r := setupScoringRoom()
	r.WinCondition = WinCondition{Kind: WinCardsFinish}
	assert.False(t, r.shouldEndGameLocked())
}
