package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/NightMachinery/talespin/internal/catalog"
	"github.com/NightMachinery/talespin/internal/logging"
	"github.com/NightMachinery/talespin/internal/ratelimiter"
	"github.com/NightMachinery/talespin/internal/registry"
	"github.com/NightMachinery/talespin/internal/room"
	"github.com/NightMachinery/talespin/internal/session"
)

// createRoomRequest is the POST /create body: a creator name and optional
// room-level overrides.
type createRoomRequest struct {
	CreatorName  string             `json:"creator_name"`
	MaxMembers   int                `json:"max_members,omitempty"`
	WinCondition *room.WinCondition `json:"win_condition,omitempty"`
}

// createRoomResponse hands the creator back everything it needs to join
// its own room over /ws: the room code and a freshly minted secret token.
type createRoomResponse struct {
	RoomID string `json:"room_id"`
	Token  string `json:"token"`
}

type existsRequest struct {
	RoomID string `json:"room_id"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// registerTalespin builds the card catalog, room registry, and rate
// limiter, and wires the room-server HTTP surface onto mux under prefix.
// It mirrors registerCelebrityGame's role in web.go: one entry point that
// owns a game's collaborators and registers its routes.
func registerTalespin(cfg *Config, prefix string, mux *httprouter.Router) error {
	cat, err := catalog.Load(catalog.Config{
		CardsDir:             cfg.cardsDir,
		ExtraImageDirs:       cfg.extraImageDirs,
		DisableBuiltinImages: cfg.disableBuiltinImages,
		CacheDir:             cfg.cacheDir,
		CacheSize:            cfg.cacheSize,
	})
	if err != nil {
		return err
	}

	reg := registry.New(cfg.roomIdleTimeout, cfg.gcInterval, cfg.maintenanceInterval)

	limiter, err := ratelimiter.New(cfg.createRateLimit)
	if err != nil {
		return err
	}

	mux.POST(prefix+"/create", withCORS(handleCreate(cfg, reg, cat, limiter)))
	mux.POST(prefix+"/exists", withCORS(handleExists(reg)))
	mux.GET(prefix+"/stats", withCORS(handleStats(reg)))
	mux.GET(prefix+"/cards/:card_id", withCORS(handleCard(cat)))
	mux.GET(prefix+"/ws", session.Handler(reg))
	mux.GET(prefix+"/metrics", wrapHandler(promhttp.Handler()))
	mux.GET(prefix+"/rooms/:room_id/qr", withCORS(handleRoomQR(cfg, reg)))

	mux.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})

	return nil
}

func wrapHandler(h http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}

// corsHeaders implements spec §6's CORS requirement for the room-server
// HTTP surface: any origin, GET/POST, Authorization + Content-Type headers.
func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func withCORS(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		corsHeaders(w)
		h(w, r, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleCreate(cfg *Config, reg *registry.Registry, cat *catalog.Catalog, limiter *ratelimiter.Limiter) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		// Key by client address only: realIP appends the remote port.
		key := realIP(r)
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		if !limiter.Allow(r.Context(), w, key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		// Body and creator_name are both optional per §6: "{ win_condition?,
		// creator_name? } or empty".
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.CreatorName) > maxNameLengthHTTP {
			http.Error(w, "creator_name must be at most 30 characters", http.StatusBadRequest)
			return
		}

		win := room.DefaultWinCondition(cfg.defaultWinPoints)
		if req.WinCondition != nil {
			win = *req.WinCondition
		}
		if err := win.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		maxMembers := cfg.defaultMaxMembers
		if req.MaxMembers > 0 {
			maxMembers = req.MaxMembers
		}

		rm, err := reg.Create(cat.CardIDs(), win, maxMembers, req.CreatorName)
		if err != nil {
			logf(cfg, "ERROR: creating room: %v", err)
			http.Error(w, "could not create room", http.StatusInternalServerError)
			return
		}

		// The creator has no session yet; it joins its own room the same way
		// anyone else does, over /ws with this token as its JoinRoom.token.
		token := uuid.NewString()

		logging.L().Info("room created", logging.RoomField(rm.RoomID), logging.NameField(req.CreatorName))

		writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: rm.RoomID, Token: token})
	}
}

const maxNameLengthHTTP = 30

func handleExists(reg *registry.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req existsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, existsResponse{Exists: reg.Exists(req.RoomID)})
	}
}

func handleStats(reg *registry.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, reg.Stats())
	}
}

// handleRoomQR renders a scannable share link for a room as a PNG, so a
// moderator can put a room code on a screen for others to join by camera
// rather than typing it.
func handleRoomQR(cfg *Config, reg *registry.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("room_id")
		if !reg.Exists(roomID) {
			http.NotFound(w, r)
			return
		}

		shareURL := cfg.scheme() + "://" + r.Host + cfg.prefix + "/?room_id=" + roomID

		png, err := qrcode.Encode(shareURL, qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "could not render qr code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		_, _ = w.Write(png)
	}
}

func handleCard(cat *catalog.Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("card_id")

		data, contentType, ok := cat.CardBytes(id)
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = w.Write(data)
	}
}
