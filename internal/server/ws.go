package server

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/seekerror/logw"
)

// The WebSocket bridge carries the identical message protocol for browser
// clients: one text message per frame.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsTransport struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.c.ReadMessage()
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

func (t *wsTransport) WriteFrame(b []byte) error {
	t.c.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.c.WriteMessage(websocket.TextMessage, bytes.TrimRight(b, "\n"))
}

func (t *wsTransport) Close() error       { return t.c.Close() }
func (t *wsTransport) RemoteAddr() string { return t.c.RemoteAddr().String() }

// ServeWS upgrades an HTTP request and serves it like any other connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logw.Warningf(ctx, "websocket upgrade from %v: %v", r.RemoteAddr, err)
		return
	}
	if h.connCount() >= h.cfg.Server.MaxConnections {
		logw.Warningf(ctx, "connection limit reached, refusing %v", r.RemoteAddr)
		ws.Close()
		return
	}

	h.serve(ctx, &wsTransport{c: ws, writeTimeout: writeTimeout})
}
