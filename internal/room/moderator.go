package room

import (
	"time"

	"github.com/NightMachinery/talespin/internal/roomerr"
)

// isModeratorLocked reports whether name currently holds moderator status.
// The creator is always an implicit moderator even if not present in the
// Moderators set (§4.5).
func (r *Room) isModeratorLocked(name string) bool {
	if name != "" && name == r.Creator {
		return true
	}
	_, ok := r.Moderators[name]
	return ok
}

// setModeratorLocked implements SetModerator per §4.5: any moderator may
// promote another member, but only the creator may demote a moderator, and
// the creator itself can never be demoted.
func (r *Room) setModeratorLocked(actor, target string, enabled bool) *roomerr.Error {
	if !r.isModeratorLocked(actor) {
		return roomerr.Authorizationf("only a moderator may change moderator status")
	}

	if enabled {
		if _, isPlayer := r.Players[target]; !isPlayer {
			if _, isObserver := r.Observers[target]; !isObserver {
				return roomerr.Protocolf("%s is not a member of this room", target)
			}
		}
		r.Moderators[target] = struct{}{}
		r.NoConnectedModeratorSince = nil
		r.broadcastRoomStateLocked()
		return nil
	}

	if target == r.Creator {
		return roomerr.Authorizationf("the creator cannot be demoted")
	}
	if actor != r.Creator {
		return roomerr.Authorizationf("only the creator may demote a moderator")
	}
	delete(r.Moderators, target)
	r.checkModeratorAbsenceLocked()
	r.broadcastRoomStateLocked()
	return nil
}

// hasConnectedModeratorLocked reports whether any current moderator (or the
// creator) has an attached session.
func (r *Room) hasConnectedModeratorLocked() bool {
	if r.Creator != "" {
		if p, ok := r.Players[r.Creator]; ok && p.Connected {
			return true
		}
		if o, ok := r.Observers[r.Creator]; ok && o.Connected {
			return true
		}
	}
	for name := range r.Moderators {
		if p, ok := r.Players[name]; ok && p.Connected {
			return true
		}
		if o, ok := r.Observers[name]; ok && o.Connected {
			return true
		}
	}
	return false
}

// checkModeratorAbsenceLocked starts or clears the absence timer used by
// MaintenanceTick to auto-promote a random connected member after
// moderatorAbsenceTimeout seconds with nobody moderating the room.
func (r *Room) checkModeratorAbsenceLocked() {
	if r.hasConnectedModeratorLocked() {
		r.NoConnectedModeratorSince = nil
		return
	}
	if r.NoConnectedModeratorSince == nil {
		now := time.Now()
		r.NoConnectedModeratorSince = &now
	}
}

// MaintenanceTick is called periodically by the registry (every 30s, per
// SPEC_FULL's supplemented GC/maintenance intervals) to auto-promote a
// random connected member to moderator after a sustained absence of any
// moderator, so an abandoned-but-still-populated room doesn't stall
// forever waiting for a moderator action.
func (r *Room) MaintenanceTick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkModeratorAbsenceLocked()
	if r.NoConnectedModeratorSince == nil {
		return
	}
	if time.Since(*r.NoConnectedModeratorSince) < moderatorAbsenceTimeout*time.Second {
		return
	}

	candidates := make([]string, 0, len(r.Players)+len(r.Observers))
	for name, p := range r.Players {
		if p.Connected {
			candidates = append(candidates, name)
		}
	}
	for name, o := range r.Observers {
		if o.Connected {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return
	}
	r.shuffleNamesLocked(candidates)
	promoted := candidates[0]
	r.Moderators[promoted] = struct{}{}
	r.NoConnectedModeratorSince = nil
	r.broadcastRoomStateLocked()
}
