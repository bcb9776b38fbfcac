package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxReadBytes = 512
)

// wsSession adatta una *websocket.Conn all'interfaccia Session.
type wsSession struct {
	conn *websocket.Conn
}

func (s *wsSession) Send(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	err := s.conn.WriteMessage(websocket.TextMessage, frame)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (s *wsSession) Close() error {
	return s.conn.Close()
}

// Handler upgrades console connections and subscribes them to the hub.
// The channel is server-push only: client frames are read and discarded.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler: checkOrigin nil accetta qualsiasi origine (console servita da un altro host).
func NewHandler(h *Hub, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (wh *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	id := wh.hub.Subscribe(&wsSession{conn: conn})
	if id == 0 {
		return
	}
	defer wh.hub.Unsubscribe(id)

	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				// WriteControl puo' essere usato in concorrenza con il writer del hub
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wh.hub.sendTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: session %d read error: %v", id, err)
			}
			return
		}
	}
}
