package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tandem/api/internal/live"
	"tandem/api/internal/telemetry"
)

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// clientFrame is one client-to-server websocket frame.
type clientFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	DMID      string `json:"dmId"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing token", nil)
		return
	}
	id, err := s.service.IdentityFromToken(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	session := s.service.NewLiveSession(id)
	telemetry.LiveSessions.Inc()

	c := &wsConn{ws: ws, session: session, svc: s.service, id: id, out: make(chan []byte, 16)}
	go c.writer()
	c.reader()
}

// wsConn bridges one websocket to one live session. The reader
// goroutine owns session mutations; the writer goroutine owns every
// write to the socket.
type wsConn struct {
	ws      *websocket.Conn
	session *live.Session
	svc     *Service
	id      Identity

	// error frames queued by the reader; the writer goroutine owns
	// every socket write
	out chan []byte
}

func (c *wsConn) reader() {
	defer func() {
		c.session.Close()
		telemetry.LiveSessions.Dec()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(64 << 10)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read for %s: %v", c.id.UserID, err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("INVALID_FRAME", "Unparseable frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *wsConn) handleFrame(frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch frame.Type {
	case "bind":
		key, ok := frameKey(frame)
		if !ok {
			c.sendError("INVALID_FRAME", "Exactly one of channelId or dmId is required")
			return
		}
		if err := c.session.Bind(ctx, key); err != nil {
			if errors.Is(err, live.ErrBindInProgress) {
				c.sendError("BIND_IN_PROGRESS", "A bind is already in flight")
				return
			}
			log.Printf("ws: bind %s for %s: %v", key, c.id.UserID, err)
			c.sendError("BIND_FAILED", "Could not open the conversation")
		}
	case "unbind":
		c.session.Unbind()
	case "send":
		if _, err := c.session.Send(ctx, frame.Content, nil); err != nil {
			switch {
			case errors.Is(err, live.ErrNotBound):
				c.sendError("NOT_BOUND", "Bind a conversation before sending")
			case errors.Is(err, live.ErrEmptyMessage):
				c.sendError("EMPTY_MESSAGE", "Message content is required")
			default:
				log.Printf("ws: send for %s: %v", c.id.UserID, err)
				c.sendError("SEND_FAILED", "Message could not be delivered")
			}
		}
	case "typing":
		c.session.Typing()
	case "stop_typing":
		c.session.StopTyping()
	case "react":
		if frame.MessageID == "" || frame.Emoji == "" {
			c.sendError("INVALID_FRAME", "messageId and emoji are required")
			return
		}
		if _, err := c.svc.ToggleReaction(ctx, frame.MessageID, frame.Emoji, c.id); err != nil {
			c.sendServiceError(err)
		}
	case "mark_read":
		if frame.MessageID == "" {
			c.sendError("INVALID_FRAME", "messageId is required")
			return
		}
		if err := c.svc.MarkRead(ctx, frame.MessageID, c.id); err != nil {
			c.sendServiceError(err)
		}
	case "pin":
		if frame.MessageID == "" {
			c.sendError("INVALID_FRAME", "messageId is required")
			return
		}
		if _, err := c.svc.TogglePin(ctx, frame.MessageID, c.id); err != nil {
			c.sendServiceError(err)
		}
	default:
		c.sendError("INVALID_FRAME", "Unknown frame type")
	}
}

func frameKey(frame clientFrame) (live.Key, bool) {
	if (frame.ChannelID == "") == (frame.DMID == "") {
		return live.Key{}, false
	}
	if frame.ChannelID != "" {
		return live.ChannelKey(frame.ChannelID), true
	}
	return live.DMKey(frame.DMID), true
}

func (c *wsConn) writer() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case delta := <-c.session.Deltas():
			payload, err := json.Marshal(toDeltaFrame(delta))
			if err != nil {
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.session.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) sendServiceError(err error) {
	_, code, message, _ := mapError(err)
	c.sendError(code, message)
}

// sendError queues an error frame for the writer goroutine. Dropped
// if the outbound queue is full.
func (c *wsConn) sendError(code, message string) {
	payload, err := json.Marshal(map[string]string{
		"type":  "error",
		"code":  code,
		"error": message,
	})
	if err != nil {
		return
	}
	select {
	case c.out <- payload:
	default:
		log.Printf("ws: error frame dropped for %s", c.id.UserID)
	}
}
