package client

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/relaychat/relaychat/pkg/proto"
)

const dialTimeout = 10 * time.Second

// WSDialer dials the server's WebSocket endpoint.
type WSDialer struct{}

func (WSDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadEvent(ctx context.Context) (proto.Outbound, error) {
	var ev proto.Outbound
	if err := wsjson.Read(ctx, c.ws, &ev); err != nil {
		return proto.Outbound{}, err
	}
	return ev, nil
}

func (c *wsConn) WriteEvent(ctx context.Context, in proto.Inbound) error {
	return wsjson.Write(ctx, c.ws, in)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
