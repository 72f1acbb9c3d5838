// Package registry implements the Room Registry: a concurrent map of room
// codes to live rooms, room code minting, idle garbage collection, and the
// periodic maintenance sweep that drives each room's moderator-absence
// promotion timer.
package registry

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/NightMachinery/talespin/internal/logging"
	"github.com/NightMachinery/talespin/internal/metrics"
	"github.com/NightMachinery/talespin/internal/room"
)

const (
	roomCodeLength = 4
	roomCodeAlphabet = "abcdefghijklmnopqrstuvwxyz"

	// DefaultIdleTimeout is GC_ROOM_TIMEOUT_S from the Rust original: a room
	// with zero active subscribers for this long is collected.
	DefaultIdleTimeout = 3600 * time.Second
	// DefaultGCInterval is GARBAGE_COLLECT_INTERVAL from the original.
	DefaultGCInterval = 20 * time.Minute
	// DefaultMaintenanceInterval drives each room's moderator-promotion
	// sweep (room.rs's 30s tick).
	DefaultMaintenanceInterval = 30 * time.Second
)

type entry struct {
	room      *room.Room
	createdAt time.Time
}

// Registry owns every live room, keyed by its short room code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*entry

	idleTimeout         time.Duration
	gcInterval          time.Duration
	maintenanceInterval time.Duration

	stop chan struct{}
}

// New constructs an empty Registry and starts its GC and maintenance
// tickers. Call Close to stop them.
func New(idleTimeout, gcInterval, maintenanceInterval time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}
	if maintenanceInterval <= 0 {
		maintenanceInterval = DefaultMaintenanceInterval
	}

	reg := &Registry{
		rooms:               make(map[string]*entry),
		idleTimeout:         idleTimeout,
		gcInterval:          gcInterval,
		maintenanceInterval: maintenanceInterval,
		stop:                make(chan struct{}),
	}
	go reg.gcLoop()
	go reg.maintenanceLoop()
	return reg
}

// Close stops the registry's background tickers. Rooms already created
// remain reachable via Get until the process exits.
func (reg *Registry) Close() {
	close(reg.stop)
}

// Create mints a fresh room code and stores a new Room under it.
func (reg *Registry) Create(baseDeck []room.Card, win room.WinCondition, maxMembers int, creatorName string) (*room.Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, err := reg.newRoomCodeLocked()
	if err != nil {
		return nil, err
	}

	r := room.New(code, baseDeck, win, maxMembers, creatorName)
	reg.rooms[code] = &entry{room: r, createdAt: time.Now()}

	metrics.RoomsCreatedTotal.Inc()
	metrics.RoomsActive.Set(float64(len(reg.rooms)))

	return r, nil
}

// newRoomCodeLocked rejection-samples a roomCodeLength-letter lowercase
// code against the current room set, mirroring the original's
// generate_room_id(4) and the teacher's newGameID rejection-sampling loop.
func (reg *Registry) newRoomCodeLocked() (string, error) {
	const maxAttempts = 100
	buf := make([]byte, roomCodeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		for i, b := range buf {
			buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
		}
		code := string(buf)
		if _, exists := reg.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique room code after %d attempts", maxAttempts)
}

// Get returns the room for code, if any.
func (reg *Registry) Get(code string) (*room.Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.rooms[code]
	if !ok {
		return nil, false
	}
	return e.room, true
}

// Exists reports whether code currently names a live room.
func (reg *Registry) Exists(code string) bool {
	_, ok := reg.Get(code)
	return ok
}

// RoomStats is one room's entry in the /stats response: active subscriber
// count and last-access time as a Unix epoch second, mirroring the
// original's fn stats(&self) -> HashMap<String, (usize, u64)>.
type RoomStats [2]int64

// Stats is the /stats response payload: every live room keyed by its room
// code.
type Stats map[string]RoomStats

// Stats computes a fresh census across every live room.
func (reg *Registry) Stats() Stats {
	reg.mu.Lock()
	entries := make(map[string]*entry, len(reg.rooms))
	for code, e := range reg.rooms {
		entries[code] = e
	}
	reg.mu.Unlock()

	stats := make(Stats, len(entries))
	for code, e := range entries {
		stats[code] = RoomStats{
			int64(e.room.ActiveSubscribers()),
			e.room.LastAccess().Unix(),
		}
	}
	return stats
}

func (reg *Registry) gcLoop() {
	ticker := time.NewTicker(reg.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.stop:
			return
		case <-ticker.C:
			reg.collectIdleRooms()
		}
	}
}

func (reg *Registry) collectIdleRooms() {
	now := time.Now()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for code, e := range reg.rooms {
		if e.room.ActiveSubscribers() > 0 {
			continue
		}
		if now.Sub(e.room.LastAccess()) < reg.idleTimeout {
			continue
		}
		delete(reg.rooms, code)
		metrics.RoomsGCedTotal.Inc()
		metrics.RoomLifetimeSeconds.Observe(now.Sub(e.createdAt).Seconds())
		logging.L().Info("room garbage collected", logging.RoomField(code))
	}
	metrics.RoomsActive.Set(float64(len(reg.rooms)))
}

func (reg *Registry) maintenanceLoop() {
	ticker := time.NewTicker(reg.maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.stop:
			return
		case <-ticker.C:
			reg.runMaintenance()
		}
	}
}

func (reg *Registry) runMaintenance() {
	reg.mu.Lock()
	entries := make([]*entry, 0, len(reg.rooms))
	for _, e := range reg.rooms {
		entries = append(entries, e)
	}
	reg.mu.Unlock()

	sessions := 0
	for _, e := range entries {
		e.room.MaintenanceTick()
		sessions += e.room.ActiveSubscribers()
	}
	metrics.SessionsActive.Set(float64(sessions))
}
