package room

// computePointChangeLocked implements §4.3 Scoring. Call with mu held and
// player_to_vote already filled in (init_results auto-votes missing
// non-active players before calling this).
func (r *Room) computePointChangeLocked() map[string]uint16 {
	n := len(r.PlayerOrder)
	active := r.PlayerOrder[r.ActivePlayer]
	activeCard := r.PlayerToCurrentCard[active]

	votesFor := func(card Card) int {
		count := 0
		for _, voted := range r.PlayerToVote {
			if voted == card {
				count++
			}
		}
		return count
	}

	change := make(map[string]uint16, n)
	for _, name := range r.PlayerOrder {
		change[name] = 0
	}

	votesForActive := votesFor(activeCard)

	switch {
	case votesForActive == 0:
		for _, name := range r.PlayerOrder {
			if name == active {
				continue
			}
			if _, voted := r.PlayerToVote[name]; voted {
				change[name] += 2
			}
			if card, submitted := r.PlayerToCurrentCard[name]; submitted {
				change[name] += uint16(votesFor(card))
			}
		}

	case votesForActive == n-1:
		for _, name := range r.PlayerOrder {
			if name == active {
				continue
			}
			if _, voted := r.PlayerToVote[name]; voted {
				change[name] += 2
			}
		}

	default:
		for _, name := range r.PlayerOrder {
			if name == active {
				continue
			}
			if voted, ok := r.PlayerToVote[name]; ok && voted == activeCard {
				change[name] += 3
			}
			if card, submitted := r.PlayerToCurrentCard[name]; submitted {
				change[name] += uint16(votesFor(card))
			}
		}
		change[active] += 3
	}

	return change
}

// shouldEndGameLocked implements the should_end_game predicate from §4.3.
func (r *Room) shouldEndGameLocked() bool {
	switch r.WinCondition.Kind {
	case WinPoints:
		for _, p := range r.Players {
			if p.Points >= r.WinCondition.TargetPoints {
				return true
			}
		}
		return false
	case WinCycles:
		if r.Round == 0 || len(r.Players) == 0 {
			return false
		}
		n := len(r.PlayerOrder)
		if n < len(r.Players) {
			n = len(r.Players)
		}
		return uint32(r.Round) >= uint32(r.WinCondition.TargetCycles)*uint32(n)
	case WinCardsFinish:
		return false
	default:
		return false
	}
}
