// Package cachetest provides an in-process stand-in for the remote LRU cache
// service. It speaks the same REST routes and push channel as the real one
// and lets tests inject frames, drop sockets and force failures.
package cachetest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/lru-mirror/pkg/mirror"
)

// ExpiryLayout is the format the cache service uses for the expiry it
// reports.
const ExpiryLayout = "02/01/06 15:04:05"

// SetRequest is the decoded body of a POST /api/cache/{key}.
type SetRequest struct {
	Key    string
	Value  string `json:"value"`
	Expiry int    `json:"expiry"`
}

type Server struct {
	router *mux.Router

	mu      sync.Mutex
	entries map[string]mirror.Entry
	conns   map[*websocket.Conn]*sync.Mutex
	sets    []SetRequest
	status  int

	connects       atomic.Int64
	closeOnConnect atomic.Bool
	received       chan []byte
}

func NewServer() *Server {
	s := &Server{
		entries:  make(map[string]mirror.Entry),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
		received: make(chan []byte, 64),
	}

	r := mux.NewRouter().UseEncodedPath()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Debug("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Use(s.failureMiddleware)

	r.Methods(http.MethodGet).Path("/api/cache").HandlerFunc(s.getAll)
	r.Methods(http.MethodGet).Path("/api/cache/{key}").HandlerFunc(s.getItem)
	r.Methods(http.MethodPost).Path("/api/cache/{key}").HandlerFunc(s.setItem)
	r.Methods(http.MethodDelete).Path("/api/cache/{key}").HandlerFunc(s.deleteItem)
	r.Path("/ws").HandlerFunc(s.stream)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Put seeds an entry without broadcasting it.
func (s *Server) Put(key string, e mirror.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

// FailWith makes every REST call answer with status. Zero restores normal
// behaviour.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// CloseOnConnect makes the push endpoint close every socket right after the
// upgrade.
func (s *Server) CloseOnConnect(v bool) {
	s.closeOnConnect.Store(v)
}

// Connects is the number of push channel upgrades served so far.
func (s *Server) Connects() int {
	return int(s.connects.Load())
}

// OpenConns is the number of currently connected push clients.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Sets returns every decoded POST body in arrival order.
func (s *Server) Sets() []SetRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SetRequest, len(s.sets))
	copy(out, s.sets)
	return out
}

// Received yields text frames sent by clients.
func (s *Server) Received() <-chan []byte {
	return s.received
}

// Broadcast writes a raw text frame to every connected client.
func (s *Server) Broadcast(frame []byte) {
	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		conns[c] = m
	}
	s.mu.Unlock()

	for c, m := range conns {
		m.Lock()
		err := c.WriteMessage(websocket.TextMessage, frame)
		m.Unlock()
		if err != nil {
			slog.Debug("failed to write frame", "err", err)
			s.drop(c)
		}
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (s *Server) BroadcastJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.Broadcast(raw)
}

// DropConnections abruptly closes every push socket.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.drop(c)
	}
}

func (s *Server) drop(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) failureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		s.mu.Lock()
		status := s.status
		s.mu.Unlock()
		if status != 0 && request.URL.Path != "/ws" {
			writer.WriteHeader(status)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func keyVar(request *http.Request) string {
	raw := mux.Vars(request)["key"]
	if k, err := url.PathUnescape(raw); err == nil {
		return k
	}
	return raw
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getAll(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	items := make(map[string]mirror.Entry, len(s.entries))
	for k, e := range s.entries {
		items[k] = e
	}
	s.mu.Unlock()
	writeJSON(writer, map[string]any{"items": items})
}

func (s *Server) getItem(writer http.ResponseWriter, request *http.Request) {
	key := keyVar(request)
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		http.NotFound(writer, request)
		return
	}
	writeJSON(writer, map[string]any{"value": e.Value})
}

func (s *Server) setItem(writer http.ResponseWriter, request *http.Request) {
	key := keyVar(request)
	var body SetRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "Invalid request payload", http.StatusBadRequest)
		return
	}
	body.Key = key
	expiry := time.Now().Add(time.Duration(body.Expiry) * time.Second).Format(ExpiryLayout)

	s.mu.Lock()
	s.sets = append(s.sets, body)
	s.entries[key] = mirror.Entry{Value: body.Value, Expiry: expiry}
	s.mu.Unlock()

	s.BroadcastJSON(map[string]any{"action": "set", "key": key, "value": body.Value, "expiry": expiry})
	writer.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteItem(writer http.ResponseWriter, request *http.Request) {
	key := keyVar(request)
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if !ok {
		http.NotFound(writer, request)
		return
	}
	s.BroadcastJSON(map[string]any{"action": "delete", "key": key})
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) stream(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.connects.Add(1)
	if s.closeOnConnect.Load() {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.conns[conn] = new(sync.Mutex)
	s.mu.Unlock()
	defer s.drop(conn)

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case s.received <- p:
		default:
		}
	}
}
