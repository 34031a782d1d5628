package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/session"
	ws "github.com/stemsi/mocktest-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live exam sessions.
type WSHandler struct {
	sessions *service.SessionService
	presence *service.PresenceService
	auth     *service.AuthService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, presence *service.PresenceService, auth *service.AuthService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		presence: presence,
		auth:     auth,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/tests/:slug/session
// Mounts the participant's session and relays commands and events until the
// attempt ends or the socket closes.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	slug := c.Param("slug")

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wsLog := h.log.With().Str("user_id", claims.UserID).Str("slug", slug).Logger()

	engine, err := h.sessions.Open(ctx, slug, h.auth.Identity(claims), conn)
	if err != nil {
		h.rejectMount(conn, wsLog, err)
		return
	}
	testID := engine.TestID().String()

	h.presence.Join(ctx, testID, claims.UserID)
	defer h.presence.Leave(context.WithoutCancel(ctx), testID, claims.UserID)

	go h.presence.Watch(ctx, testID, func(n int64) {
		_ = conn.Emit(session.Event{Type: session.EventPresence, Data: ws.PresenceResponse{Participants: n}})
	})
	go h.keepalive(ctx, conn)
	go h.readLoop(ctx, cancel, conn, engine, wsLog)

	wsLog.Info().Msg("Participant connected")
	runErr := engine.Run(ctx)

	switch {
	case runErr == nil:
		wsLog.Info().Msg("Session finished")
		_ = conn.Close(websocket.CloseNormalClosure, "finished")
	case errors.Is(runErr, context.Canceled):
		wsLog.Info().Msg("Participant disconnected")
		_ = conn.Close(websocket.CloseGoingAway, "")
	default:
		_, code := response.FromError(runErr)
		wsLog.Warn().Err(runErr).Msg("Session ended")
		_ = conn.Close(websocket.ClosePolicyViolation, string(code))
	}
}

// rejectMount reports why a session could not be opened and closes the socket.
func (h *WSHandler) rejectMount(conn *ws.Conn, log zerolog.Logger, err error) {
	_, code := response.FromError(err)
	log.Info().Err(err).Str("code", string(code)).Msg("Session mount rejected")

	if errors.Is(err, session.ErrJoinWindowClosed) {
		_ = conn.Emit(session.Event{Type: session.EventBlocked, Data: session.Notice{
			Message: response.GetMessage(code),
		}})
	} else {
		_ = conn.WriteError(string(code), response.GetMessage(code), nil)
	}
	_ = conn.Close(websocket.ClosePolicyViolation, string(code))
}

// readLoop feeds client frames to the engine. A read error ends the session.
func (h *WSHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *ws.Conn, engine *session.Engine, log zerolog.Logger) {
	defer cancel()
	for {
		data, err := conn.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		cmd, ping, err := ws.Decode(data)
		if ping {
			_ = conn.Emit(ws.PongEvent)
			continue
		}
		if err != nil {
			var ve *ws.ValidationError
			if errors.As(err, &ve) {
				_ = conn.WriteError(string(response.ErrValidation), response.GetMessage(response.ErrValidation), ve.Fields)
			} else {
				_ = conn.WriteError(string(response.ErrUnknownCommand), err.Error(), nil)
			}
			continue
		}

		if err := engine.Submit(ctx, cmd); err != nil {
			return
		}
	}
}

func (h *WSHandler) keepalive(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
