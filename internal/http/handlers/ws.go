// Auth WebSocket handler.
//
// This file binds a pending auth session to its bidirectional channel:
//
//	GET /ws/auth/{session_id}
//
// On connect the handler attaches the session's event sink to the socket and
// starts the login flow in the background. The read loop then serves inbound
// messages until the flow finishes or the client disconnects:
//
//	inbound  {"type":"submit_code","code":"1234"}  one-time code delivery
//	inbound  {"type":"ping"}                       keepalive, answered with pong
//	inbound  anything else                         ignored
//
//	outbound {"type":"status","data":{"step":..., "message":...}}
//	outbound {"type":"account_created"|"completed"|"error"|"pong","data":{...}}
//
// Disconnect cancels the flow's context, which wakes AwaitCode and fails the
// session. Registry cleanup happens exactly once per session, whichever side
// finishes first.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-market-watch/internal/http/middleware"
	"github.com/tbourn/go-market-watch/internal/services"
)

const (
	// wsMaxMessageSize bounds inbound frames; codes and pings are tiny.
	wsMaxMessageSize = 4 << 10
)

// upgrader performs the HTTP→WebSocket upgrade. Origin checking is left to
// the CORS layer; browser clients for this API are same-deployment tools.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsEnvelope is the outbound message shape.
type wsEnvelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// wsInbound is the inbound message shape. Unknown types are ignored.
type wsInbound struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// AuthChannel upgrades the request and drives one auth session's channel.
func (h *Handlers) AuthChannel(c *gin.Context) {
	// Claim is atomic: of any number of concurrent connections to the same
	// session id, exactly one gets the session; the rest conflict here.
	sessionID := c.Param("id")
	sess, err := h.registry.Claim(sessionID)
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeSessionNotFound, "auth session not found")
		return
	case errors.Is(err, services.ErrSessionClaimed):
		fail(c, http.StatusConflict, ErrCodeConflict, "auth session already in progress")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	lg := middleware.LoggerFrom(c).With().Str("session_id", sessionID).Logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		lg.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	// Concurrent writers: the flow goroutine emits events while the read
	// loop answers pings. gorilla/websocket allows one writer at a time.
	var writeMu sync.Mutex
	send := func(eventType string, data map[string]any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(wsEnvelope{Type: eventType, Data: data}); err != nil {
			lg.Debug().Err(err).Str("event", eventType).Msg("websocket write failed")
		}
	}
	sess.AttachSink(send)

	// One cleanup for both exit paths.
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			h.registry.Remove(sessionID)
			_ = conn.Close()
		})
	}

	// Detach the flow from the request context: the flow should outlive
	// nothing but the connection, which cancel() represents.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cleanup()
		if err := h.login.Run(ctx, sess); err != nil {
			lg.Warn().Err(err).Msg("login flow ended with error")
		}
	}()

	// Read loop. Exits on disconnect or when cleanup closes the connection.
	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			lg.Debug().Err(err).Msg("websocket closed")
			break
		}

		switch msg.Type {
		case "submit_code":
			if err := sess.SubmitCode(strings.TrimSpace(msg.Code)); err != nil {
				send(services.EventError, map[string]any{"message": err.Error()})
			}
		case "ping":
			send(services.EventPong, map[string]any{})
		default:
			// Ignore unknown message types.
		}
	}

	cancel()
	cleanup()
}
