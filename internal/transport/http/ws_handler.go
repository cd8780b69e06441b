package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/core"
	"github.com/relaychat/relaychat/pkg/proto"
)

const probeTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
type WSHandler struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var c *core.Conn
	probe := func() {
		// Ping blocks until the pong arrives, so probe asynchronously and
		// raise the liveness flag on success.
		go func() {
			pctx, pcancel := context.WithTimeout(ctx, probeTimeout)
			defer pcancel()
			if conn.Ping(pctx) == nil {
				c.MarkAlive()
			}
		}()
	}
	terminate := func() {
		conn.Close(websocket.StatusPolicyViolation, "liveness timeout")
		cancel()
	}
	c = core.NewConn(uuid.NewString(), probe, terminate)

	h.hub.Attach(c)
	defer h.hub.Detach(c)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, c)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, c)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) || errors.Is(err, core.ErrAuthFailed) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	for {
		// Decode the frame here rather than through wsjson.Read, which closes
		// the connection on a malformed payload. A frame that is not valid
		// JSON gets an ERROR reply and the connection stays open.
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			c.Send(proto.ErrorEvent(core.ErrCodeBadRequest, "invalid JSON"))
			continue
		}

		if err := h.hub.HandleInbound(ctx, c, inbound); err != nil {
			// Failed authentication is the one inbound error that closes the
			// connection. Flush the queued ERROR event so the client sees the
			// reason before the close frame.
			h.flushPending(ctx, conn, c)
			return err
		}
	}
}

func (h *WSHandler) flushPending(ctx context.Context, conn *websocket.Conn, c *core.Conn) {
	for {
		select {
		case event := <-c.Events():
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	for {
		select {
		case event, ok := <-c.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
