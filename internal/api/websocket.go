package api

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"surveyflow/internal/auth"
	"surveyflow/internal/ws"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			if allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "Live events are not enabled", d.Log)
		return
	}

	// Browsers cannot set headers on a WebSocket handshake, so a token may
	// also arrive as a query parameter.
	userID := auth.GetUserID(r.Context())
	if tokenString := r.URL.Query().Get("token"); tokenString != "" && userID == "" {
		claims, err := d.JWT.Parse(tokenString)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid token", d.Log)
			return
		}
		userID = claims.Subject
	}
	if userID == "" {
		userID = "anonymous"
	}

	upgrader := newUpgrader(d.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	d.Log.Info("WebSocket connected", zap.String("user", userID), zap.String("remote", r.RemoteAddr))

	wsConn := ws.NewConn(conn, d.Hub, userID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}
