package live

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loomui/loom/pkg/engine"
	"github.com/loomui/loom/pkg/reactive"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Session is one connected client: a dedicated engine, its mirror adapter,
// and the WebSocket carrying frames both ways.
type Session struct {
	ID string

	engine  *engine.Engine
	adapter *wireAdapter
	store   reactive.Store
	conn    *websocket.Conn
	logger  *slog.Logger
	metrics *serverMetrics

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Session)
}

func newSessionID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func newSession(conn *websocket.Conn, store reactive.Store, logger *slog.Logger, metrics *serverMetrics) *Session {
	s := &Session{
		ID:      newSessionID(),
		adapter: newWireAdapter(),
		store:   store,
		conn:    conn,
		metrics: metrics,
		sendCh:  make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	s.logger = logger.With("session", s.ID)
	s.engine = engine.New(s.adapter, store,
		engine.WithLogger(s.logger),
		engine.WithCommitHook(s.queueFrame),
	)
	return s
}

// queueFrame runs on the engine's scheduler goroutine after every commit.
// It must not block: a slow client drops frames and the connection is
// closed, never the engine.
func (s *Session) queueFrame(seq uint64, muts []engine.Mutation) {
	data, err := json.Marshal(encodeMutations(seq, muts))
	if err != nil {
		s.logger.Error("frame encode error", "err", err)
		return
	}
	select {
	case s.sendCh <- data:
	case <-s.done:
	default:
		// Close must not run here: this is the engine's scheduler
		// goroutine and Close waits for it.
		s.logger.Warn("send buffer full, closing session", "seq", seq)
		go s.Close()
	}
}

// Close tears down the session: the engine stops, the connection closes,
// and the registered close hook runs. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.engine.Close()
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// HTML serializes the session's current output, for snapshots.
func (s *Session) HTML() string {
	return s.adapter.HTML()
}

// Stats exposes the session engine's counters.
func (s *Session) Stats() engine.Stats {
	return s.engine.Stats()
}

// writeLoop drains queued frames to the connection and keeps it alive with
// pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.done:
			return

		case data := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Error("write error", "err", err)
				return
			}
			s.metrics.framesSent.Inc()

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop reads client frames until the connection drops.
func (s *Session) readLoop() {
	defer s.Close()

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "err", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Error("frame decode error", "err", err)
			continue
		}

		switch frame.Type {
		case FrameEvent:
			s.metrics.eventsReceived.Inc()
			var payload any
			if len(frame.Payload) > 0 {
				if err := json.Unmarshal(frame.Payload, &payload); err != nil {
					s.logger.Error("event payload decode error", "err", err)
					continue
				}
			}
			if !s.adapter.dispatchEvent(frame.Node, frame.Event, payload) {
				// The node was removed before the event arrived.
				s.metrics.eventsDropped.Inc()
				s.logger.Debug("event for unknown node dropped",
					"node", frame.Node, "event", frame.Event)
			}

		case FramePing:
			s.reply(&Frame{Type: FramePong})

		case FramePong:
			// Deadline already extended above.

		default:
			s.logger.Warn("unknown frame type", "type", frame.Type)
		}
	}
}

func (s *Session) reply(f *Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case s.sendCh <- data:
	case <-s.done:
	default:
	}
}
