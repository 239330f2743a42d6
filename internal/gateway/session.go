package gateway

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// outBuffer is the per-connection outbound queue size. Events beyond it are
// dropped rather than blocking the dispatch path.
const outBuffer = 32

// session is one live authenticated connection.
type session struct {
	connID   string
	userID   string
	username string

	conn *websocket.Conn
	out  chan proto.Outbound

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(connID, userID, username string, conn *websocket.Conn, cancel context.CancelFunc) *session {
	return &session{
		connID:   connID,
		userID:   userID,
		username: username,
		conn:     conn,
		out:      make(chan proto.Outbound, outBuffer),
		cancel:   cancel,
	}
}

// send queues an event without blocking. Returns false when the buffer is
// full and the event was dropped.
func (s *session) send(ev proto.Outbound) bool {
	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

// close terminates the connection with the given status. Idempotent.
func (s *session) close(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close(status, reason)
		s.cancel()
	})
}
