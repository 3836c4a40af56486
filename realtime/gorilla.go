package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// UpgradeHandler returns an http.Handler that upgrades requests to
// websocket sessions registered on the manager. The read loop feeds frames
// into HandleMessage until the peer goes away.
func UpgradeHandler(m *Manager) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Browser dashboards connect cross-origin; auth happens via the
		// AUTH envelope, not the origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		id := uuid.NewString()
		send := func(msg Message) error {
			return ws.WriteJSON(msg)
		}
		m.Connect(id, send, "")
		defer func() {
			m.Disconnect(id)
			_ = ws.Close()
		}()

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			m.HandleMessage(id, raw)
		}
	})
}
