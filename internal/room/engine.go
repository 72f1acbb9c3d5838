package room

import (
	"github.com/NightMachinery/talespin/internal/roomerr"
)

const (
	minPlayersToStart        = 3
	maxHandSize              = 6
	moderatorAbsenceTimeout  = 300 // seconds, see §4.5
)

// Dispatch is the session layer's single entry point into the engine. It
// checks the caller's generation against the authoritative one for name —
// per §4.6, a superseded generation is discarded silently — then routes the
// message to its handler under the room lock.
func (r *Room) Dispatch(name string, generation uint64, msg ClientMessage) *roomerr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Every message type, Ping included, is dropped silently unless name has
	// a current generation equal to the caller's: an unjoined or superseded
	// connection cannot touch the room.
	if current, ok := r.ConnectionGeneration[name]; !ok || current != generation {
		return nil
	}

	r.touch()

	switch msg.Type {
	case MsgPing:
		return nil
	case MsgReady:
		return r.handleReadyLocked(name)
	case MsgStartGame:
		return r.handleStartGameLocked(name)
	case MsgLeaveRoom:
		r.leaveLocked(name, NewLeftRoomMsg("left the room"))
		return nil
	case MsgKickPlayer:
		return r.kickLocked(name, msg.Player)
	case MsgSetModerator:
		return r.setModeratorLocked(name, msg.Player, boolValue(msg.Enabled))
	case MsgSetObserver:
		return r.setObserverLocked(name, msg.Player, boolValue(msg.Enabled))
	case MsgSetAllowMidgameJoin:
		return r.setAllowMidgameJoinLocked(name, boolValue(msg.Enabled))
	case MsgResumeGame:
		return r.handleResumeGameLocked(name)
	case MsgRequestJoinFromObserver:
		return r.requestJoinFromObserverLocked(name)
	case MsgActivePlayerChooseCard:
		return r.handleActivePlayerChooseCardLocked(name, msg.Card, msg.Description)
	case MsgPlayerChooseCard:
		return r.handlePlayerChooseCardLocked(name, msg.Card)
	case MsgVote:
		return r.handleVoteLocked(name, msg.Card)
	default:
		return roomerr.Protocolf("unknown message type %q", msg.Type)
	}
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// handleReadyLocked advances Joining->ActiveChooses when the moderator's own
// Ready message lands with everyone else already ready, and drives Results
// readiness. A non-moderator's Ready in Joining only flips their own Ready
// flag and re-broadcasts room state, per §4.2's "moderator Ready/StartGame"
// transition trigger.
func (r *Room) handleReadyLocked(name string) *roomerr.Error {
	p, ok := r.Players[name]
	if !ok {
		// Observers have no Ready state; silently ignore rather than error,
		// since a client may send Ready speculatively right after joining.
		if _, isObserver := r.Observers[name]; isObserver {
			return nil
		}
		return roomerr.Protocolf("%s is not a player", name)
	}
	p.Ready = true

	switch r.Stage {
	case StageJoining:
		if r.isModeratorLocked(name) && r.allReadyLocked() && r.connectedPlayerCountLocked() >= minPlayersToStart {
			r.initRoundLocked()
		} else {
			r.broadcastRoomStateLocked()
		}
	case StageResults:
		if r.allReadyLocked() {
			if r.shouldEndGameLocked() {
				r.endGameLocked()
			} else {
				r.initRoundLocked()
			}
		} else {
			r.broadcastRoomStateLocked()
		}
	default:
		r.broadcastRoomStateLocked()
	}
	return nil
}

// connectedPlayerCountLocked counts players with an attached session.
// Disconnected players remain in the roster mid-round (only a Kick or a
// Joining-stage Leave removes them outright), so every "enough players to
// continue" check must count connections, not roster size.
func (r *Room) connectedPlayerCountLocked() int {
	count := 0
	for _, p := range r.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

func (r *Room) allReadyLocked() bool {
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return len(r.Players) > 0
}

// handleStartGameLocked is the moderator-only explicit trigger out of
// Joining, equivalent to every player being Ready.
func (r *Room) handleStartGameLocked(name string) *roomerr.Error {
	if !r.isModeratorLocked(name) {
		return roomerr.Authorizationf("only a moderator may start the game")
	}
	if r.Stage != StageJoining {
		return roomerr.Protocolf("cannot start game from stage %s", r.Stage)
	}
	if r.connectedPlayerCountLocked() < minPlayersToStart {
		return roomerr.Protocolf("need at least %d players to start", minPlayersToStart)
	}
	r.initRoundLocked()
	return nil
}

func (r *Room) handleResumeGameLocked(name string) *roomerr.Error {
	if !r.isModeratorLocked(name) {
		return roomerr.Authorizationf("only a moderator may resume the game")
	}
	if r.Stage != StagePaused {
		return roomerr.Protocolf("cannot resume from stage %s", r.Stage)
	}
	if r.connectedPlayerCountLocked() < minPlayersToStart {
		r.broadcastRoomStateLocked()
		return nil
	}
	r.initRoundLocked()
	return nil
}

// initRoundLocked implements §4.2 init_round.
func (r *Room) initRoundLocked() {
	r.promoteObserversLocked()

	if r.connectedPlayerCountLocked() < minPlayersToStart {
		r.enterPausedLocked("not enough players to continue (need at least 3)")
		return
	}

	r.syncPlayerOrderLocked()

	if r.Round == 0 {
		r.ActivePlayer = 0
		r.shuffleNamesLocked(r.PlayerOrder)
	} else {
		r.deckRefillCheckLocked()
		r.ActivePlayer = (r.ActivePlayer + 1) % len(r.PlayerOrder)
	}

	r.shuffleCardsLocked(r.Deck)
	r.PlayerToCurrentCard = make(map[string]Card)
	r.PlayerToVote = make(map[string]Card)
	r.CurrentDescription = ""
	r.PausedReason = ""

	for name := range r.PlayerHand {
		if _, ok := r.Players[name]; !ok {
			delete(r.PlayerHand, name)
		}
	}

	if !r.dealHandsLocked() {
		return // dealHandsLocked already transitioned to End if applicable
	}

	r.Round++
	r.Stage = StageActiveChooses
	for _, p := range r.Players {
		p.Ready = false
	}

	for name, hand := range r.PlayerHand {
		r.sendLocked(name, StartRoundMsg{Type: MsgTypeStartRound, Hand: append([]Card(nil), hand...)})
	}
	r.broadcastRoomStateLocked()
}

// deckRefillCheckLocked is the refill step within init_round, before
// dealing, per §4.2.
func (r *Room) deckRefillCheckLocked() {
	if len(r.Deck) >= len(r.PlayerOrder) {
		return
	}
	switch r.WinCondition.Kind {
	case WinCardsFinish:
		return
	default:
		if len(r.DiscardPile) > 0 {
			r.Deck = append(r.Deck, r.DiscardPile...)
			r.DiscardPile = nil
			r.shuffleCardsLocked(r.Deck)
		} else {
			r.Deck = r.rebuildDeckFromBaseLocked()
			r.shuffleCardsLocked(r.Deck)
		}
		r.DeckRefillCount++
	}
}

// rebuildDeckFromBaseLocked recomputes deck = base_deck minus every card
// currently in a hand. deckRefillCheckLocked uses it only when the discard
// pile is empty. Played cards are not added to the discard pile (it only
// receives the hand and submission of a removed player), so in an ordinary
// game this rebuild is the path that returns played cards to the deck.
func (r *Room) rebuildDeckFromBaseLocked() []Card {
	inHand := make(map[Card]bool)
	for _, hand := range r.PlayerHand {
		for _, c := range hand {
			inHand[c] = true
		}
	}
	out := make([]Card, 0, len(r.baseDeck))
	for _, c := range r.baseDeck {
		if !inHand[c] {
			out = append(out, c)
		}
	}
	return out
}

// dealHandsLocked pops cards from the deck into every current player's hand
// until each holds maxHandSize, re-running the refill check mid-deal if the
// deck runs dry. Returns false if dealing triggered an End transition.
func (r *Room) dealHandsLocked() bool {
	for _, name := range r.PlayerOrder {
		hand := r.PlayerHand[name]
		for len(hand) < maxHandSize {
			if len(r.Deck) == 0 {
				r.deckRefillCheckLocked()
				if len(r.Deck) == 0 {
					if r.WinCondition.Kind == WinCardsFinish {
						r.endGameLocked()
						return false
					}
					// Should not occur after deck-refill logic; leave the
					// hand short rather than crash the room.
					r.PlayerHand[name] = hand
					return true
				}
			}
			card := r.Deck[len(r.Deck)-1]
			r.Deck = r.Deck[:len(r.Deck)-1]
			hand = append(hand, card)
		}
		r.PlayerHand[name] = hand
	}
	return true
}

// syncPlayerOrderLocked keeps player_order equal to players.keys(),
// retaining existing order and appending newcomers (§4.2 step 3).
func (r *Room) syncPlayerOrderLocked() {
	present := make(map[string]bool, len(r.PlayerOrder))
	next := make([]string, 0, len(r.Players))
	for _, name := range r.PlayerOrder {
		if _, ok := r.Players[name]; ok {
			next = append(next, name)
			present[name] = true
		}
	}
	for name := range r.Players {
		if !present[name] {
			next = append(next, name)
		}
	}
	r.PlayerOrder = next
	if r.ActivePlayer >= len(r.PlayerOrder) {
		r.ActivePlayer = 0
	}
}

func (r *Room) handleActivePlayerChooseCardLocked(name string, card Card, description string) *roomerr.Error {
	if r.Stage != StageActiveChooses {
		return roomerr.Protocolf("cannot choose a card outside ActiveChooses")
	}
	if len(r.PlayerOrder) == 0 || r.PlayerOrder[r.ActivePlayer] != name {
		return roomerr.Authorizationf("%s is not the active player", name)
	}
	if !removeCard(r.PlayerHand, name, card) {
		return roomerr.Protocolf("card %q is not in %s's hand", card, name)
	}

	r.PlayerToCurrentCard[name] = card
	r.CurrentDescription = description
	for _, p := range r.Players {
		p.Ready = false
	}
	r.Stage = StagePlayersChoose

	for _, other := range r.PlayerOrder {
		if other == name {
			continue
		}
		r.sendLocked(other, PlayersChooseMsg{
			Type:        MsgTypePlayersChoose,
			Description: description,
			Hand:        append([]Card(nil), r.PlayerHand[other]...),
		})
	}
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handlePlayerChooseCardLocked(name string, card Card) *roomerr.Error {
	if r.Stage != StagePlayersChoose {
		return roomerr.Protocolf("cannot submit a card outside PlayersChoose")
	}
	active := r.PlayerOrder[r.ActivePlayer]
	if name == active {
		return roomerr.Protocolf("the active player already chose")
	}
	if _, already := r.PlayerToCurrentCard[name]; already {
		return roomerr.Protocolf("%s already submitted a card", name)
	}
	if !removeCard(r.PlayerHand, name, card) {
		return roomerr.Protocolf("card %q is not in %s's hand", card, name)
	}
	r.PlayerToCurrentCard[name] = card
	if p, ok := r.Players[name]; ok {
		p.Ready = true
	}

	if r.readyCountLocked() >= len(r.Players)-1 {
		r.initVotingLocked()
	} else {
		r.broadcastRoomStateLocked()
	}
	return nil
}

// readyCountLocked counts players with Ready set; used to detect
// "all non-active players submitted/voted".
func (r *Room) readyCountLocked() int {
	count := 0
	for _, p := range r.Players {
		if p.Ready {
			count++
		}
	}
	return count
}

// initVotingLocked implements §4.2 init_voting.
func (r *Room) initVotingLocked() {
	active := r.PlayerOrder[r.ActivePlayer]

	for _, name := range r.PlayerOrder {
		if name == active {
			continue
		}
		if _, ok := r.PlayerToCurrentCard[name]; ok {
			continue
		}
		hand := r.PlayerHand[name]
		if len(hand) == 0 {
			continue
		}
		idx := r.rng.Intn(len(hand))
		r.PlayerToCurrentCard[name] = hand[idx]
		hand = append(hand[:idx], hand[idx+1:]...)
		r.PlayerHand[name] = hand
	}

	for _, p := range r.Players {
		p.Ready = false
	}

	centerCards := make([]Card, 0, len(r.PlayerToCurrentCard))
	for name, card := range r.PlayerToCurrentCard {
		centerCards = append(centerCards, card)
		_ = name
	}
	r.shuffleCardsLocked(centerCards)
	r.lastCenterCards = append([]Card(nil), centerCards...)

	r.Stage = StageVoting

	for _, name := range r.PlayerOrder {
		var disabled *Card
		if name != active {
			if card, ok := r.PlayerToCurrentCard[name]; ok {
				c := card
				disabled = &c
			}
		}
		r.sendLocked(name, BeginVotingMsg{
			Type:         MsgTypeBeginVoting,
			CenterCards:  append([]Card(nil), centerCards...),
			Description:  r.CurrentDescription,
			DisabledCard: disabled,
		})
	}
	r.broadcastRoomStateLocked()
}

func (r *Room) handleVoteLocked(name string, card Card) *roomerr.Error {
	if r.Stage != StageVoting {
		return roomerr.Protocolf("cannot vote outside Voting")
	}
	active := r.PlayerOrder[r.ActivePlayer]
	if name == active {
		return roomerr.Authorizationf("the active player cannot vote")
	}
	if _, already := r.PlayerToVote[name]; already {
		return roomerr.Protocolf("%s already voted", name)
	}
	if own, ok := r.PlayerToCurrentCard[name]; ok && own == card {
		return roomerr.Protocolf("%s cannot vote for their own card", name)
	}

	r.PlayerToVote[name] = card
	if p, ok := r.Players[name]; ok {
		p.Ready = true
	}

	if len(r.PlayerToVote) >= len(r.Players)-1 {
		r.initResultsLocked()
	} else {
		r.broadcastRoomStateLocked()
	}
	return nil
}

// initResultsLocked implements §4.2 init_results.
func (r *Room) initResultsLocked() {
	active := r.PlayerOrder[r.ActivePlayer]

	centerCards := make([]Card, 0, len(r.PlayerToCurrentCard))
	for _, card := range r.PlayerToCurrentCard {
		centerCards = append(centerCards, card)
	}

	for _, name := range r.PlayerOrder {
		if name == active {
			continue
		}
		if _, voted := r.PlayerToVote[name]; voted {
			continue
		}
		own := r.PlayerToCurrentCard[name]
		choices := make([]Card, 0, len(centerCards))
		for _, c := range centerCards {
			if c != own {
				choices = append(choices, c)
			}
		}
		if len(choices) == 0 {
			continue
		}
		r.PlayerToVote[name] = choices[r.rng.Intn(len(choices))]
	}

	change := r.computePointChangeLocked()
	for name, delta := range change {
		if p, ok := r.Players[name]; ok {
			p.Points += delta
		}
	}

	for _, p := range r.Players {
		p.Ready = false
	}

	r.Stage = StageResults
	r.broadcastResultsLocked(active, change)
	r.broadcastRoomStateLocked()
}

func (r *Room) broadcastResultsLocked(active string, change map[string]uint16) {
	msg := ResultsMsg{
		Type:                MsgTypeResults,
		PlayerToVote:        copyCardMap(r.PlayerToVote),
		PlayerToCurrentCard: copyCardMap(r.PlayerToCurrentCard),
		ActiveCard:          r.PlayerToCurrentCard[active],
		PointChange:         change,
	}
	r.lastResults = &msg
	for name := range r.sessions {
		r.sendLocked(name, msg)
	}
}

// stagePrivateViewLocked returns the stage-specific message a (re)attaching
// session needs in addition to RoomState, replaying state that would
// otherwise only ever have been sent once. Returns nil when the current
// stage has no private view to replay (e.g. Joining, Paused, End).
func (r *Room) stagePrivateViewLocked(name string) ServerMessage {
	switch r.Stage {
	case StageActiveChooses:
		if hand, ok := r.PlayerHand[name]; ok {
			return StartRoundMsg{Type: MsgTypeStartRound, Hand: append([]Card(nil), hand...)}
		}
	case StagePlayersChoose:
		active := ""
		if len(r.PlayerOrder) > 0 {
			active = r.PlayerOrder[r.ActivePlayer]
		}
		if name == active {
			return nil
		}
		if hand, ok := r.PlayerHand[name]; ok {
			return PlayersChooseMsg{
				Type:        MsgTypePlayersChoose,
				Description: r.CurrentDescription,
				Hand:        append([]Card(nil), hand...),
			}
		}
	case StageVoting:
		active := ""
		if len(r.PlayerOrder) > 0 {
			active = r.PlayerOrder[r.ActivePlayer]
		}
		var disabled *Card
		if name != active {
			if card, ok := r.PlayerToCurrentCard[name]; ok {
				c := card
				disabled = &c
			}
		}
		return BeginVotingMsg{
			Type:         MsgTypeBeginVoting,
			CenterCards:  append([]Card(nil), r.lastCenterCards...),
			Description:  r.CurrentDescription,
			DisabledCard: disabled,
		}
	case StageResults:
		if r.lastResults != nil {
			return *r.lastResults
		}
	}
	return nil
}

func (r *Room) endGameLocked() {
	r.Stage = StageEnd
	for name := range r.sessions {
		r.sendLocked(name, NewEndGameMsg())
	}
	r.broadcastRoomStateLocked()
}

func (r *Room) enterPausedLocked(reason string) {
	r.Stage = StagePaused
	r.PlayerToCurrentCard = make(map[string]Card)
	r.PlayerToVote = make(map[string]Card)
	r.CurrentDescription = ""
	r.PausedReason = reason
	r.broadcastRoomStateLocked()
}

// shuffleNamesLocked Fisher-Yates shuffles a []string in place using the
// room's own rng (seeded from the clock when the room is created), the same algorithm as the teacher's
// crypto/rand-based startGameLocked, generalized to any comparable slice
// via two thin wrappers (shuffleNamesLocked/shuffleCardsLocked) since Go
// has no templated in-place shuffle in the stdlib beyond rand.Shuffle.
func (r *Room) shuffleNamesLocked(s []string) {
	r.rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func (r *Room) shuffleCardsLocked(s []Card) {
	r.rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func removeCard(hands map[string][]Card, name string, card Card) bool {
	hand := hands[name]
	for i, c := range hand {
		if c == card {
			hands[name] = append(hand[:i], hand[i+1:]...)
			return true
		}
	}
	return false
}

func copyCardMap(m map[string]Card) map[string]Card {
	out := make(map[string]Card, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sendLocked delivers a message to name's mailbox if one is attached,
// dropping it on a full mailbox rather than blocking the transition.
func (r *Room) sendLocked(name string, msg ServerMessage) {
	s, ok := r.sessions[name]
	if !ok {
		return
	}
	select {
	case s.mailbox <- msg:
	default:
	}
}

// broadcastRoomStateLocked sends the current RoomState to every attached
// session. Room-state is self-sufficient, so a dropped send (full mailbox)
// is tolerated per §5.
func (r *Room) broadcastRoomStateLocked() {
	msg := r.roomStateLocked()
	for name := range r.sessions {
		r.sendLocked(name, msg)
	}
}

func (r *Room) roomStateLocked() RoomStateMsg {
	players := make(map[string]Player, len(r.Players))
	for name, p := range r.Players {
		players[name] = *p
	}
	observers := make(map[string]Observer, len(r.Observers))
	for name, o := range r.Observers {
		observers[name] = *o
	}
	moderators := make([]string, 0, len(r.Moderators))
	for name := range r.Moderators {
		moderators = append(moderators, name)
	}

	return RoomStateMsg{
		Type:                   MsgTypeRoomState,
		RoomID:                 r.RoomID,
		Players:                players,
		Observers:              observers,
		Creator:                r.Creator,
		Moderators:             moderators,
		Stage:                  r.Stage,
		ActivePlayer:           r.ActivePlayer,
		PlayerOrder:            append([]string(nil), r.PlayerOrder...),
		Round:                  r.Round,
		CardsRemaining:         len(r.Deck),
		DeckRefillCount:        r.DeckRefillCount,
		WinCondition:           r.WinCondition,
		AllowNewPlayersMidgame: r.AllowNewPlayersMidgame,
		PausedReason:           r.PausedReason,
	}
}

// RoomState returns a snapshot of the current room state, for HTTP-level
// consumers (e.g. /create's response) that need it without a session.
func (r *Room) RoomState() RoomStateMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomStateLocked()
}
