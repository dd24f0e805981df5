package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Message is what a connected client receives.
type Message struct {
	Type   string  `json:"type"`
	Change *Change `json:"change,omitempty"`
}

const (
	MessageHello  = "hello"
	MessageChange = "change"
)

// Serve pumps sub to conn until either side goes away. It owns both conn and sub.
func Serve(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	logger := log.Ctx(ctx).With().Str("component", "websocket").Str("subscription", sub.ID).Logger()

	closed := make(chan struct{})

	go func() {
		defer close(closed)
		readPump(conn)
	}()

	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := write(conn, Message{Type: MessageHello}); err != nil {
		logger.Debug().Err(err).Msg("hello failed")
		return
	}

	for {
		select {
		case <-closed:
			return

		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case change, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"))
				return
			}

			if err := write(conn, Message{Type: MessageChange, Change: &change}); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump only services control frames; clients do not send commands.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
