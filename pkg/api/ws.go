package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// token auth happens per event, not at upgrade time
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS upgrades the connection and runs its event loop until the peer
// disconnects.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s := session.New(conn, a.Registry, a.Directory, a.Engine, a.Friends, a.Limits)
	s.Run(r.Context())
}
