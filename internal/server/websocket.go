package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remixsync/remixsync/internal/core/mirror"
	"github.com/remixsync/remixsync/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	subIDs []string
}

func (s *wsSession) send(f mirror.Frame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(f)
}

func (s *wsSession) track(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subIDs = append(s.subIDs, subID)
}

func (s *wsSession) tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subIDs))
	copy(out, s.subIDs)
	return out
}

func (srv *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn("websocket upgrade", log.Error(err))
		return
	}

	session := &wsSession{conn: conn}
	remote := conn.RemoteAddr().String()
	srv.logger.Info("sync connection opened", log.String("remote", remote))

	defer func() {
		srv.store.Drop(session.tracked())
		_ = conn.Close()
		srv.logger.Info("sync connection closed", log.String("remote", remote))
	}()

	for {
		var f mirror.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				srv.logger.Warn("websocket read", log.String("remote", remote), log.Error(err))
			}
			return
		}
		if f.Op == mirror.OpSubscribe {
			session.track(f.SubID)
		}
		if err := srv.store.Handle(f, session.send); err != nil {
			srv.logger.Warn("frame rejected",
				log.String("remote", remote),
				log.String("op", f.Op),
				log.Error(err))
		}
	}
}
