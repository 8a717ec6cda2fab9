// Package server streams live tracking results over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/vit-tracker/internal/report"
	"github.com/menta2k/vit-tracker/pkg/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	queueSize = 256
)

// Message is one JSON document sent to clients
type Message struct {
	// Type is "hello", "session", "frame" or "finish"
	Type    string             `json:"type"`
	Session *types.SessionInfo `json:"session,omitempty"`
	Frame   *types.FrameRecord `json:"frame,omitempty"`
	Summary *report.Summary    `json:"summary,omitempty"`
}

// Status is served on /status
type Status struct {
	Session   *types.SessionInfo `json:"session,omitempty"`
	Last      *types.FrameRecord `json:"last,omitempty"`
	Frames    int                `json:"frames"`
	Dropped   int                `json:"dropped"`
	Finished  bool               `json:"finished"`
	WSClients int                `json:"ws_clients"`
}

// Server fans frame records out to WebSocket clients
type Server struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	messages chan Message

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex

	statusMu sync.Mutex
	status   Status
}

// New creates a server. Call Run to start delivering messages.
func New(logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:      logger.WithField("component", "server"),
		messages: make(chan Message, queueSize),
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.Run(ctx)

	s.log.WithField("addr", addr).Info("Serving live results")
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start announces a new session
func (s *Server) Start(info types.SessionInfo) {
	s.statusMu.Lock()
	s.status = Status{Session: &info}
	s.statusMu.Unlock()
	s.enqueue(Message{Type: "session", Session: &info})
}

// Publish queues a frame record. A full queue drops the message rather than
// stalling the tracking loop.
func (s *Server) Publish(rec types.FrameRecord) {
	s.statusMu.Lock()
	s.status.Last = &rec
	s.status.Frames++
	s.statusMu.Unlock()
	s.enqueue(Message{Type: "frame", Frame: &rec})
}

// Finish announces the end of a session
func (s *Server) Finish(summary report.Summary) {
	s.statusMu.Lock()
	s.status.Finished = true
	s.statusMu.Unlock()
	s.enqueue(Message{Type: "finish", Summary: &summary})
}

func (s *Server) enqueue(m Message) {
	select {
	case s.messages <- m:
	default:
		s.statusMu.Lock()
		s.status.Dropped++
		s.statusMu.Unlock()
		s.log.WithField("type", m.Type).Debug("Dropped live message, queue full")
	}
}

// Run delivers queued messages until ctx is done
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case message := <-s.messages:
			payload, err := json.Marshal(message)
			if err != nil {
				s.log.WithError(err).Warn("Failed to encode live message")
				continue
			}
			s.broadcast(payload)
		}
	}
}

func (s *Server) broadcast(payload []byte) {
	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.removeClient(conn)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	st := s.snapshot()
	hello := Message{Type: "hello", Session: st.Session, Frame: st.Last}

	// hold the write lock until hello is out so broadcasts queue behind it
	writeMu := &sync.Mutex{}
	writeMu.Lock()
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(hello)
	writeMu.Unlock()
	if err != nil {
		s.removeClient(conn)
		return
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		// clients only send control frames; reading keeps pongs flowing
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) snapshot() Status {
	s.statusMu.Lock()
	st := s.status
	s.statusMu.Unlock()
	st.WSClients = s.clientCount()
	return st
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
