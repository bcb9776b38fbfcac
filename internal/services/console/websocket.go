package console

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer dials the hub's /ws endpoint.
type WSDialer struct {
	Dialer      *websocket.Dialer
	Header      http.Header
	ReadTimeout time.Duration // tempo massimo senza frame ne' ping dal server
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &wsConn{ws: ws, timeout: timeout}
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(timeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, p, err := c.ws.ReadMessage()
	if err == nil {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return mt, p, err
}

func (c *wsConn) Close() error { return c.ws.Close() }
