package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery"
)

const (
	eventBuffer  = 32
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
)

// snapshot is the first frame on an events stream.
type snapshot struct {
	Type    string         `json:"type"`
	Session discovery.View `json:"session"`
	Items   []domain.Item  `json:"items"`
}

func newUpgrader(origins []string) websocket.Upgrader {
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(origins) == 0 {
		return up
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
	return up
}

// events streams queue events for a session over a websocket until the
// client disconnects or the session closes.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := sess.Queue()
	if q == nil {
		writeError(w, discovery.ErrSessionNotActive)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.WithError(err).WithField("session_id", sess.ID).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, stop := q.Subscribe(eventBuffer)
	defer stop()

	log := h.log.WithFields(logrus.Fields{"session_id": sess.ID, "remote": r.RemoteAddr})
	log.Debug("event stream opened")

	if err := write(conn, snapshot{Type: "snapshot", Session: sess.View(), Items: q.Items()}); err != nil {
		return
	}

	// Reads are only drained to process control frames and notice disconnects.
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeTimeout))
				return
			}
			if err := write(conn, evt); err != nil {
				log.WithError(err).Debug("event write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-done:
			log.Debug("event stream closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
