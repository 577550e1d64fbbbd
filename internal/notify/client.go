package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// SessionConfig configures a client Session
type SessionConfig struct {
	// URL of the channel, e.g. ws://localhost:8080/v1/ws?userId=u1
	URL    string
	Header http.Header

	// ReconnectDelay is the fixed wait between connection attempts
	ReconnectDelay time.Duration
	// PollInterval is the period of Poll while disconnected
	PollInterval time.Duration

	// OnEvent receives every server event. It runs on the read goroutine and
	// must not call Close.
	OnEvent func(Event)
	// Poll refreshes state from the read API while the channel is down.
	// Optional.
	Poll func(ctx context.Context) error

	InitMessage string
	Dialer      *websocket.Dialer
}

// Session is a client connection to the channel. It owns its reconnect timer
// and poll ticker; Close releases both.
//
// Retries are unbounded with a fixed delay.
type Session struct {
	cfg SessionConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu       sync.Mutex
	conn     *websocket.Conn
	pollStop chan struct{}

	connects atomic.Int64
}

// Open starts a session. The first connection attempt happens in the
// background; a failed attempt puts the session in polling mode like any
// later disconnect.
func Open(cfg SessionConfig) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("notify: session URL is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.InitMessage == "" {
		cfg.InitMessage = "client connected"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{cfg: cfg, ctx: ctx, cancel: cancel}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Connected reports whether the live channel is up
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Polling reports whether the poll fallback is running
func (s *Session) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollStop != nil
}

// Connects counts successful connections, reconnects included
func (s *Session) Connects() int64 {
	return s.connects.Load()
}

// Close stops reconnecting and polling, closes the socket and waits for the
// session goroutines. Safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return nil
}

func (s *Session) run() {
	defer s.wg.Done()
	defer s.stopPolling()

	for {
		err := s.connectAndServe()
		if s.ctx.Err() != nil {
			return
		}
		log.Printf("notify: channel down (%v), retrying in %s", err, s.cfg.ReconnectDelay)
		s.startPolling()

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndServe returns when the connection fails or drops
func (s *Session) connectAndServe() error {
	conn, _, err := s.cfg.Dialer.DialContext(s.ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return s.ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()
	s.connects.Add(1)
	s.stopPolling()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	init, err := NewEvent(EventInit, InitPayload{Message: s.cfg.InitMessage}, time.Now())
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(init); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, err := ParseEvent(data)
		if err != nil {
			log.Printf("notify: ignoring server frame: %v", err)
			continue
		}
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
	}
}

func (s *Session) startPolling() {
	if s.cfg.Poll == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	s.pollStop = stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.cfg.Poll(s.ctx); err != nil && s.ctx.Err() == nil {
					log.Printf("notify: poll failed: %v", err)
				}
			}
		}
	}()
}

func (s *Session) stopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
}
