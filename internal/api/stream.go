package api

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// streamChatHandler upgrades to a WebSocket and relays the chat session's
// events until the session leaves the in-progress state or either side hangs up.
func streamChatHandler(svc ChatService, origins []string, log *zap.Logger) http.HandlerFunc {
	upgrader := newUpgrader(origins)

	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		stream, err := svc.Subscribe(ctx, p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		defer func() { _ = stream.Close() }()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("chat stream upgrade failed", zap.String("chat_id", id.String()), zap.Error(err))
			return
		}
		defer conn.Close()

		var mu sync.Mutex
		write := func(messageType int, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(messageType, data)
		}

		// Clients only listen; reading keeps pongs and close frames flowing.
		go func() {
			defer cancel()
			conn.SetReadLimit(maxInboundSize)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := write(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		err = stream.Run(ctx, func(ev chat.StreamEvent) error {
			body, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return write(websocket.TextMessage, body)
		})
		if err != nil {
			log.Debug("chat stream ended", zap.String("chat_id", id.String()), zap.Error(err))
		}

		_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
	}
}
