package notify

import (
	"fmt"
	"log"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	eventsDelivered = metrics.NewCounter("notify_events_delivered_total")
	eventsDropped   = metrics.NewCounter("notify_events_dropped_total")
	sessionsOpened  = metrics.NewCounter("notify_sessions_opened_total")
)

// HubConfig tunes the server side of the channel
type HubConfig struct {
	// AllowedOrigins for the upgrade; empty allows any origin
	AllowedOrigins []string
	// SendBuffer is the per-session outbound queue length
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	// PingPeriod must be shorter than PongWait
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// DefaultHubConfig returns the production settings
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:     16,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Hub fans events out to the live sessions of each user. It holds no
// events: a session that is not connected misses them.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	// userID -> immutable set of sessions, replaced on every change
	sessions *xsync.MapOf[string, map[uint64]*serverSession]
	nextID   atomic.Uint64
	now      func() time.Time
}

// NewHub creates a hub
func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait / 2
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	h := &Hub{
		cfg:      cfg,
		sessions: xsync.NewMapOf[string, map[uint64]*serverSession](),
		now:      time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and serves the session of userID until the
// connection drops. The caller has already authenticated userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Printf("notify: upgrade failed for user %s: %v", userID, err)
		return
	}

	s := &serverSession{
		id:     h.nextID.Add(1),
		userID: userID,
		ws:     ws,
		hub:    h,
		send:   make(chan Event, h.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	h.register(s)
	sessionsOpened.Inc()
	log.Printf("notify: session %d opened for user %s", s.id, userID)

	hello, err := NewEvent(EventConnection, ConnectionPayload{
		SessionID: fmt.Sprintf("%d", s.id),
		Message:   "Connected to notification channel",
	}, h.now())
	if err == nil {
		s.enqueue(hello)
	}

	go s.writePump()
	s.readPump()
}

// Publish pushes ev to every live session of userID. It returns
// ErrChannelUnavailable when no session accepted it.
func (h *Hub) Publish(userID string, ev Event) error {
	sessions, ok := h.sessions.Load(userID)
	if !ok || len(sessions) == 0 {
		eventsDropped.Inc()
		return fmt.Errorf("%w: user %s has no live session", ErrChannelUnavailable, userID)
	}

	delivered := 0
	for _, s := range sessions {
		if s.enqueue(ev) {
			delivered++
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%w: all %d sessions of user %s are saturated", ErrChannelUnavailable, len(sessions), userID)
	}
	return nil
}

// SessionCount reports the live sessions of userID
func (h *Hub) SessionCount(userID string) int {
	sessions, _ := h.sessions.Load(userID)
	return len(sessions)
}

// Close ends every session
func (h *Hub) Close() {
	h.sessions.Range(func(userID string, sessions map[uint64]*serverSession) bool {
		for _, s := range sessions {
			s.close()
		}
		return true
	})
}

func (h *Hub) register(s *serverSession) {
	h.sessions.Compute(s.userID, func(old map[uint64]*serverSession, loaded bool) (map[uint64]*serverSession, bool) {
		next := make(map[uint64]*serverSession, len(old)+1)
		maps.Copy(next, old)
		next[s.id] = s
		return next, false
	})
}

func (h *Hub) unregister(s *serverSession) {
	h.sessions.Compute(s.userID, func(old map[uint64]*serverSession, loaded bool) (map[uint64]*serverSession, bool) {
		if _, ok := old[s.id]; !ok {
			return old, !loaded || len(old) == 0
		}
		next := maps.Clone(old)
		delete(next, s.id)
		return next, len(next) == 0
	})
}

// serverSession is one WebSocket connection. readPump owns reads,
// writePump owns writes.
type serverSession struct {
	id     uint64
	userID string
	ws     *websocket.Conn
	hub    *Hub

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue never blocks: a full buffer drops the event
func (s *serverSession) enqueue(ev Event) bool {
	select {
	case <-s.done:
		eventsDropped.Inc()
		return false
	default:
	}

	select {
	case s.send <- ev:
		eventsDelivered.Inc()
		return true
	default:
		eventsDropped.Inc()
		log.Printf("notify: session %d of user %s is saturated, dropping %s", s.id, s.userID, ev.Type)
		return false
	}
}

func (s *serverSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.unregister(s)
		s.ws.Close()
		log.Printf("notify: session %d closed for user %s", s.id, s.userID)
	})
}

func (s *serverSession) readPump() {
	defer s.close()

	cfg := s.hub.cfg
	s.ws.SetReadLimit(cfg.MaxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("notify: session %d read error: %v", s.id, err)
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *serverSession) handleFrame(data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		log.Printf("notify: session %d sent a bad frame: %v", s.id, err)
		return
	}
	if ev.Type != EventInit {
		log.Printf("notify: session %d sent unexpected %q frame, ignoring", s.id, ev.Type)
		return
	}

	var init InitPayload
	if len(ev.Payload) > 0 {
		if err := ev.DecodePayload(&init); err != nil {
			log.Printf("notify: session %d sent a bad init: %v", s.id, err)
			return
		}
	}
	// the client clock is only diagnostic
	log.Printf("notify: session %d init %q (client time %s, skew %s)",
		s.id, init.Message, ev.Timestamp.Format(time.RFC3339), s.hub.now().Sub(ev.Timestamp).Round(time.Millisecond))

	ack, err := NewEvent(EventAcknowledgment, AcknowledgmentPayload{
		Message:         "init received",
		ClientTimestamp: ev.Timestamp,
	}, s.hub.now())
	if err == nil {
		s.enqueue(ack)
	}
}

func (s *serverSession) writePump() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case ev := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.ws.WriteJSON(ev); err != nil {
				log.Printf("notify: session %d write error: %v", s.id, err)
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		}
	}
}
