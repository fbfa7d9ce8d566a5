// Package stream pushes full state snapshots to panel frontends over
// WebSocket. Consumers always receive the complete current picture; there is
// no diff protocol.
package stream

import (
	"net/http"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type WebSocketServer struct {
	inspector ports.Inspector

	pushRate     rate.Limit
	pushBurst    int
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(inspector ports.Inspector, snapshotsPerSecond float64, burst int, writeTimeout time.Duration, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		inspector:    inspector,
		pushRate:     rate.Limit(snapshotsPerSecond),
		pushBurst:    burst,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// HandleSnapshotStream upgrades the connection and pushes every published
// snapshot, throttled per connection. The subscription callback runs inline
// with the broker's send path, so it only enqueues and never blocks: when the
// client cannot keep up, intermediate snapshots are dropped; the next one
// carries the full state anyway.
func (s *WebSocketServer) HandleSnapshotStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	snapshots := make(chan domain.Snapshot, 1)
	detach := s.inspector.Subscribe(func(snap domain.Snapshot) {
		select {
		case snapshots <- snap:
		default:
			// Slot occupied: replace the stale snapshot with the fresh one.
			select {
			case <-snapshots:
			default:
			}
			select {
			case snapshots <- snap:
			default:
			}
		}
	})
	defer detach()

	s.logger.Infow("panel client connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	limiter := rate.NewLimiter(s.pushRate, s.pushBurst)
	for {
		select {
		case <-done:
			s.logger.Infow("panel client disconnected", "remote_addr", r.RemoteAddr)
			return
		case snap := <-snapshots:
			if !limiter.Allow() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Warnw("failed to push snapshot", "error", err)
				return
			}
		}
	}
}
