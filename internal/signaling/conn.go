package signaling

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/signconnect/internal/auth"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Serve runs an authenticated websocket connection until it closes. It
// returns immediately; the read and write loops run in their own goroutines.
func (h *Hub) Serve(conn *websocket.Conn, id auth.Identity) *Participant {
	p := NewParticipant(id.UserID, id.Name, h.cfg.SendBuffer)
	h.logger.Info("participant connected", "conn", p.ID, "user", p.UserID, "remote", conn.RemoteAddr().String())

	go h.writePump(conn, p)
	go h.readPump(conn, p)
	return p
}

func (h *Hub) readPump(conn *websocket.Conn, p *Participant) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("read loop panicked", "conn", p.ID, "panic", r)
		}
		h.Disconnect(p)
		conn.Close()
	}()

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	malformed := rate.NewLimiter(rate.Limit(h.cfg.MalformedPerSecond), h.cfg.MalformedBurst)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket error", "conn", p.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.dispatch(p, message); err != nil && isMalformed(err) {
			h.logger.Debug("dropping malformed event", "conn", p.ID, "user", p.UserID, "error", err)
			if !malformed.Allow() {
				h.logger.Warn("too many malformed events, closing", "conn", p.ID, "user", p.UserID)
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many malformed events")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, p *Participant) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-p.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("failed to write message", "conn", p.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
