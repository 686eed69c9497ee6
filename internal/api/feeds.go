package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

const (
	feedChat     = "chat"
	feedUnread   = "unread"
	feedServices = "services"
)

type feedMessage struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// openFeed upgrades the request and registers the stream with the caller's
// session. The returned context ends when the peer goes away, the session
// closes or release is called.
func (s *Server) openFeed(w http.ResponseWriter, r *http.Request, feed string) (*websocket.Conn, context.Context, func(), bool) {
	sess := sessionFrom(r.Context())
	ctx, release, err := sess.Subscribe(context.Background(), feed)
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, nil, false
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"feed":  feed,
			"error": err,
		})
		return nil, nil, nil, false
	}
	s.logger.Debug("feed opened", map[string]interface{}{
		"feed":     feed,
		"clientId": sess.ClientID,
	})
	return ws, ctx, release, true
}

// readLoop consumes peer frames until the connection drops. Text frames are
// handed to onMessage when it is set.
func readLoop(ws *websocket.Conn, release func(), onMessage func([]byte)) {
	defer release()
	ws.SetReadLimit(64 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && onMessage != nil {
			onMessage(data)
		}
	}
}

// pump writes every value from values until ctx ends or a channel closes.
func pump[T any](ctx context.Context, ws *websocket.Conn, kind string, values <-chan T, errs <-chan error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v, ok := <-values:
			if !ok {
				return
			}
			if err := writeFrame(ws, feedMessage{Type: kind, Data: v}); err != nil {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err := writeFrame(ws, feedMessage{Type: "error", Error: err.Error()}); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func decodeMessage(data []byte) (string, error) {
	var req messageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", err
	}
	return req.Message, nil
}

func writeFrame(ws *websocket.Conn, msg feedMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(msg)
}

// handleChatFeed streams the merged conversation. Viewing it marks agent
// messages read; text frames {"message": "..."} are sent as client messages.
func (s *Server) handleChatFeed(w http.ResponseWriter, r *http.Request) {
	clientID := sessionFrom(r.Context()).ClientID
	sender := s.senderName(r.Context(), clientID)

	ws, ctx, release, ok := s.openFeed(w, r, feedChat)
	if !ok {
		return
	}
	defer ws.Close()
	defer release()

	entries, errs, err := s.deps.Chat.View(ctx, clientID)
	if err != nil {
		_ = writeFrame(ws, feedMessage{Type: "error", Error: err.Error()})
		return
	}
	go readLoop(ws, release, func(data []byte) {
		msg, err := decodeMessage(data)
		if err != nil {
			return
		}
		if err := s.deps.Chat.Send(ctx, clientID, sender, msg); err != nil {
			s.logger.Warn("chat send from feed failed", map[string]interface{}{
				"clientId": clientID,
				"error":    err,
			})
		}
	})
	pump(ctx, ws, feedChat, entries, errs)
}

func (s *Server) handleUnreadFeed(w http.ResponseWriter, r *http.Request) {
	clientID := sessionFrom(r.Context()).ClientID
	ws, ctx, release, ok := s.openFeed(w, r, feedUnread)
	if !ok {
		return
	}
	defer ws.Close()
	defer release()

	counts, errs, err := s.deps.Chat.Unread(ctx, clientID)
	if err != nil {
		_ = writeFrame(ws, feedMessage{Type: "error", Error: err.Error()})
		return
	}
	go readLoop(ws, release, nil)
	pump(ctx, ws, feedUnread, counts, errs)
}

func (s *Server) handleServicesFeed(w http.ResponseWriter, r *http.Request) {
	clientID := sessionFrom(r.Context()).ClientID
	ws, ctx, release, ok := s.openFeed(w, r, feedServices)
	if !ok {
		return
	}
	defer ws.Close()
	defer release()

	services, errs, err := s.deps.Services.WatchServices(ctx, clientID)
	if err != nil {
		_ = writeFrame(ws, feedMessage{Type: "error", Error: err.Error()})
		return
	}
	go readLoop(ws, release, nil)
	pump(ctx, ws, feedServices, services, errs)
}
