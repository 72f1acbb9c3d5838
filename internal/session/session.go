// Package session wires one WebSocket connection to its room: the join
// handshake, the read pump that decodes client frames into room.Dispatch
// calls, and the write pump that drains the room-assigned mailbox onto the
// socket. The shape mirrors the teacher's Client/readPump/writePump split in
// celebrity.go, generalized from a single per-connection send channel to a
// room-assigned Mailbox obtained via room.Join.
package session

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/NightMachinery/talespin/internal/logging"
	"github.com/NightMachinery/talespin/internal/metrics"
	"github.com/NightMachinery/talespin/internal/registry"
	"github.com/NightMachinery/talespin/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler returns the httprouter.Handle for GET /ws: it upgrades the
// connection, then blocks on the first client frame, which must be a
// JoinRoom message naming the room, the member's display name, and its
// reconnect token.
func Handler(reg *registry.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.L().Info("websocket upgrade failed", logging.ErrorField(err))
			return
		}

		var join room.ClientMessage
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := conn.ReadJSON(&join); err != nil || join.Type != room.MsgJoinRoom {
			writeOnce(conn, room.NewErrorMsg("first message must be JoinRoom"))
			_ = conn.Close()
			return
		}

		rm, ok := reg.Get(join.RoomID)
		if !ok {
			writeOnce(conn, room.NewInvalidRoomIDMsg())
			_ = conn.Close()
			return
		}

		mailbox, generation, joinErr := rm.Join(join.Name, join.Token)
		if joinErr != nil {
			writeOnce(conn, room.NewErrorMsg(joinErr.Message))
			_ = conn.Close()
			return
		}

		s := &clientSession{
			conn:       conn,
			room:       rm,
			name:       join.Name,
			generation: generation,
			mailbox:    mailbox,
		}

		metrics.SessionsActive.Inc()
		go s.writePump()
		s.readPump()
	}
}

func writeOnce(conn *websocket.Conn, msg room.ServerMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(msg)
}

type clientSession struct {
	conn       *websocket.Conn
	room       *room.Room
	name       string
	generation uint64
	mailbox    room.Mailbox
}

// readPump decodes inbound frames and hands each to the room's Dispatch
// entry point, which itself checks the generation before mutating
// anything — a superseded session's frames are simply ignored rather than
// rejected with an error, per §4.6.
func (s *clientSession) readPump() {
	defer func() {
		s.room.Leave(s.name)
		metrics.SessionsActive.Dec()
		_ = s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg room.ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}

		metrics.MessagesTotal.WithLabelValues(msg.Type).Inc()

		if err := s.room.Dispatch(s.name, s.generation, msg); err != nil {
			select {
			case s.mailbox <- room.NewErrorMsg(err.Message):
			default:
			}
		}
	}
}

// writePump drains the session's mailbox onto the socket, interleaving a
// periodic ping so a silently-dead connection is noticed within pongWait.
func (s *clientSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.mailbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
