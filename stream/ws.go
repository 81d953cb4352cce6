package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// wsConn carries Events as JSON text frames over a websocket.
type wsConn struct {
	c *websocket.Conn
}

func dialWebsocket(ctx context.Context, addr string) (rawConn, error) {
	c, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// Chunk frames carry ~4096 samples of JSON-encoded int16s; the default
	// 32KiB read limit is too tight for echoes of our own payload size.
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}

func (w *wsConn) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.c.Write(context.Background(), websocket.MessageText, data)
}

func (w *wsConn) ReadEvent() (Event, error) {
	_, data, err := w.c.Read(context.Background())
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}
	return ev, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
