package room

import (
	"github.com/NightMachinery/talespin/internal/roomerr"
)

const maxNameLength = 30

// Join implements the §4.6 join protocol: validate name/token, insert as
// player or observer depending on stage and allow_new_players_midgame,
// replace a prior session under the same name (reconnect), and mint a new
// generation. Returns the mailbox the caller must read from and the
// generation to echo back on every subsequent Dispatch call.
func (r *Room) Join(name, token string) (Mailbox, uint64, *roomerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || len(name) > maxNameLength {
		return nil, 0, roomerr.Protocolf("name must be 1-%d characters", maxNameLength)
	}
	if token == "" {
		return nil, 0, roomerr.Protocolf("token must not be empty")
	}
	if r.Stage == StageEnd {
		return nil, 0, roomerr.Capacityf("room has ended")
	}

	existingToken, known := r.NameTokens[name]

	if known {
		if existingToken != token {
			return nil, 0, roomerr.Capacityf("name %q is taken", name)
		}
		return r.reconnectLocked(name)
	}

	if _, removed := r.RemovedPlayers[name]; removed {
		return nil, 0, roomerr.Authorizationf("name %q was removed from this room", name)
	}

	if r.memberCountLocked() >= r.MaxMembers {
		return nil, 0, roomerr.Capacityf("room is full")
	}

	asPlayer := r.Stage == StageJoining || r.AllowNewPlayersMidgame
	if asPlayer {
		r.Players[name] = &Player{Connected: true}
		r.PlayerOrder = append(r.PlayerOrder, name)
		r.PlayerHand[name] = nil
	} else {
		r.Observers[name] = &Observer{Connected: true}
	}

	r.NameTokens[name] = token
	mailbox, generation := r.attachSessionLocked(name)

	if len(r.Moderators) == 0 {
		r.Moderators[name] = struct{}{}
	}

	r.afterMembershipHookLocked()
	r.broadcastRoomStateLocked()
	return mailbox, generation, nil
}

// reconnectLocked re-attaches a known name, superseding any prior session
// (telling it it was signed in from elsewhere) and replaying the private
// view for the current stage.
func (r *Room) reconnectLocked(name string) (Mailbox, uint64, *roomerr.Error) {
	if old, ok := r.sessions[name]; ok {
		select {
		case old.mailbox <- NewLeftRoomMsg("signed in from another session"):
		default:
		}
	}

	if p, ok := r.Players[name]; ok {
		p.Connected = true
	}
	if o, ok := r.Observers[name]; ok {
		o.Connected = true
	}

	mailbox, generation := r.attachSessionLocked(name)

	if view := r.stagePrivateViewLocked(name); view != nil {
		r.sendLocked(name, view)
	}

	r.afterMembershipHookLocked()
	r.broadcastRoomStateLocked()
	return mailbox, generation, nil
}

// attachSessionLocked mints a fresh generation and mailbox for name,
// discarding any previous one. Call with mu held.
func (r *Room) attachSessionLocked(name string) (Mailbox, uint64) {
	r.nextGeneration++
	generation := r.nextGeneration
	mailbox := newMailbox()
	r.sessions[name] = &session{generation: generation, mailbox: mailbox}
	r.ConnectionGeneration[name] = generation
	return mailbox, generation
}

func (r *Room) memberCountLocked() int {
	return len(r.Players) + len(r.Observers)
}

// Leave implements a session-initiated departure (LeaveRoom message or
// socket close). name retains its token/history; a Joining-stage leave is a
// full removal, everywhere else it is a disconnect (connected=false).
func (r *Room) Leave(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(name, nil)
}

func (r *Room) leaveLocked(name string, notify ServerMessage) {
	if notify != nil {
		r.sendLocked(name, notify)
	}
	delete(r.sessions, name)
	delete(r.ConnectionGeneration, name)

	if r.Stage == StageJoining {
		r.removeMemberCompletelyLocked(name)
	} else {
		if p, ok := r.Players[name]; ok {
			p.Connected = false
		}
		if o, ok := r.Observers[name]; ok {
			o.Connected = false
		}
	}

	r.afterMembershipHookLocked()
	r.broadcastRoomStateLocked()
}

// removeMemberCompletelyLocked deletes name from every membership and
// in-round structure, used for Joining-stage departures and kicks.
func (r *Room) removeMemberCompletelyLocked(name string) {
	if _, ok := r.Players[name]; ok {
		r.removePlayerLocked(name)
	}
	if _, ok := r.Observers[name]; ok {
		delete(r.Observers, name)
	}
	delete(r.Moderators, name)
}

// removePlayerLocked removes name from Players/PlayerOrder/PlayerHand and
// returns its in-flight cards (current choice, hand) to the discard pile so
// card-conservation holds, then fixes up active_player indexing (Design
// Notes "Rotation after removal").
func (r *Room) removePlayerLocked(name string) {
	if hand, ok := r.PlayerHand[name]; ok {
		r.DiscardPile = append(r.DiscardPile, hand...)
		delete(r.PlayerHand, name)
	}
	if card, ok := r.PlayerToCurrentCard[name]; ok {
		r.DiscardPile = append(r.DiscardPile, card)
		delete(r.PlayerToCurrentCard, name)
	}
	delete(r.PlayerToVote, name)

	activeName := ""
	if len(r.PlayerOrder) > 0 {
		activeName = r.PlayerOrder[r.ActivePlayer]
	}

	idx := -1
	for i, n := range r.PlayerOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx >= 0 {
		r.PlayerOrder = append(r.PlayerOrder[:idx], r.PlayerOrder[idx+1:]...)
	}
	delete(r.Players, name)

	if len(r.PlayerOrder) == 0 {
		r.ActivePlayer = 0
		return
	}
	if newIdx := indexOf(r.PlayerOrder, activeName); newIdx >= 0 {
		r.ActivePlayer = newIdx
	} else if idx >= 0 && idx <= r.ActivePlayer && r.ActivePlayer > 0 {
		r.ActivePlayer--
	}
	if r.ActivePlayer >= len(r.PlayerOrder) {
		r.ActivePlayer = 0
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// afterMembershipHookLocked re-evaluates mid-round invariants after any
// membership change, per §4.4: drop below 3 players pauses the room; the
// active player leaving during a round forces the round to resolve with
// what has been submitted so far rather than stalling forever.
func (r *Room) afterMembershipHookLocked() {
	switch r.Stage {
	case StageJoining, StagePaused, StageEnd:
		return
	}

	if r.connectedPlayerCountLocked() < minPlayersToStart {
		r.enterPausedLocked("not enough players to continue (need at least 3)")
		return
	}

	if len(r.PlayerOrder) == 0 {
		return
	}
	active := r.PlayerOrder[r.ActivePlayer]

	switch r.Stage {
	case StageActiveChooses:
		if _, ok := r.Players[active]; !ok {
			r.ActivePlayer = r.ActivePlayer % len(r.PlayerOrder)
		}
	case StagePlayersChoose:
		if r.readyCountLocked() >= len(r.Players)-1 {
			if _, stillPending := r.PlayerToCurrentCard[active]; stillPending {
				r.initVotingLocked()
			}
		}
	case StageVoting:
		if len(r.PlayerToVote) >= len(r.Players)-1 {
			r.initResultsLocked()
		}
	}
}

// Kick implements KickPlayer: moderator-only, and the creator cannot be
// kicked (§4.5 creator immunity).
func (r *Room) kickLocked(actor, target string) *roomerr.Error {
	if !r.isModeratorLocked(actor) {
		return roomerr.Authorizationf("only a moderator may kick players")
	}
	if target == r.Creator {
		return roomerr.Authorizationf("the creator cannot be kicked")
	}
	if target == actor {
		return roomerr.Protocolf("cannot kick yourself")
	}

	_, isPlayer := r.Players[target]
	_, isObserver := r.Observers[target]
	if !isPlayer && !isObserver {
		return roomerr.Protocolf("%s is not a member of this room", target)
	}

	r.RemovedPlayers[target] = struct{}{}
	delete(r.NameTokens, target)
	r.removeMemberCompletelyLocked(target)
	r.leaveLocked(target, NewKickedMsg("removed by a moderator"))
	return nil
}

// setObserverLocked implements SetObserver: enabled=true immediately
// converts a player to an observer; enabled=false only flags the observer's
// rejoin request (join_requested) for the target. RequestJoinFromObserver
// additionally sets auto_join_on_next_round; either flag makes the actual
// promotion to Players happen at the next init_round, with the §4.4
// floor-score protection.
func (r *Room) setObserverLocked(actor, target string, enabled bool) *roomerr.Error {
	if !r.isModeratorLocked(actor) {
		return roomerr.Authorizationf("only a moderator may change observer status")
	}
	if enabled {
		r.convertPlayerToObserverLocked(target)
		r.afterMembershipHookLocked()
		r.broadcastRoomStateLocked()
		return nil
	}

	o, ok := r.Observers[target]
	if !ok {
		return roomerr.Protocolf("%s is not an observer", target)
	}
	o.JoinRequested = true
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) convertPlayerToObserverLocked(name string) {
	p, ok := r.Players[name]
	if !ok {
		return
	}
	r.removePlayerLocked(name)
	r.Observers[name] = &Observer{Connected: p.Connected}
}

// requestJoinFromObserverLocked lets an observer flag themselves to join at
// the next round boundary, per §4.4's "auto_join_on_next_round" field.
func (r *Room) requestJoinFromObserverLocked(name string) *roomerr.Error {
	o, ok := r.Observers[name]
	if !ok {
		return roomerr.Protocolf("%s is not an observer", name)
	}
	o.JoinRequested = true
	o.AutoJoinOnNextRound = true
	r.broadcastRoomStateLocked()
	return nil
}

// promoteObserversLocked converts every observer flagged
// auto_join_on_next_round or join_requested into a player at the start of
// init_round, giving them the room's current minimum player score as a
// floor so they don't start at a punishing disadvantage (§4.4 "floor
// score").
func (r *Room) promoteObserversLocked() {
	if len(r.Observers) == 0 {
		return
	}
	floor := r.minPlayerScoreLocked()
	for name, o := range r.Observers {
		if !o.AutoJoinOnNextRound && !o.JoinRequested {
			continue
		}
		delete(r.Observers, name)
		points := o.Points
		if points < floor {
			points = floor
		}
		r.Players[name] = &Player{Connected: o.Connected, Points: points}
		r.PlayerOrder = append(r.PlayerOrder, name)
		r.PlayerHand[name] = nil
	}
}

func (r *Room) minPlayerScoreLocked() uint16 {
	min := uint16(0)
	first := true
	for _, p := range r.Players {
		if first || p.Points < min {
			min = p.Points
			first = false
		}
	}
	return min
}

// setAllowMidgameJoinLocked implements SetAllowMidgameJoin, moderator-only.
func (r *Room) setAllowMidgameJoinLocked(actor string, enabled bool) *roomerr.Error {
	if !r.isModeratorLocked(actor) {
		return roomerr.Authorizationf("only a moderator may change this setting")
	}
	r.AllowNewPlayersMidgame = enabled
	r.broadcastRoomStateLocked()
	return nil
}
