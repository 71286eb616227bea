package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	sendBuffer     = 256
)

// Session is one live websocket connection belonging to an authenticated
// user. A user may have several concurrent Sessions (§3); each tracks its
// own joined-conversation set independently through the hub's rooms and
// through the presence registry.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn

	send chan []byte
	stop chan struct{}

	hub *Hub
}

func newSession(id string, userID int64, conn *websocket.Conn, h *Hub) *Session {
	return &Session{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		stop:   make(chan struct{}),
		hub:    h,
	}
}

// queueOut enqueues an event for delivery, dropping it if the session's
// buffer is saturated rather than blocking the caller (§4.6 "Suspension
// points": emissions are non-blocking from the caller's perspective).
func (s *Session) queueOut(evt ServerEvent) {
	select {
	case s.send <- mustJSON(evt):
	default:
		s.hub.logger.Warn().Str("session", s.id).Int64("user", s.userID).Msg("dropping event: send buffer full")
	}
}

// readPump pulls inbound frames off the websocket and hands them to the
// hub for dispatch. Exits (and triggers cleanup) on any read error.
func (s *Session) readPump() {
	defer s.hub.unregister(s)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.dispatch(s, raw)
	}
}

// writePump drains the session's outbound buffer to the websocket and
// sends periodic pings, per the standard gorilla/websocket pattern.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.stop:
			s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
