package statusui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/statestore"
)

// Server serves the read-only diagnostics surface over one daemon's
// ports. It holds no state of its own beyond the registered port list
// and the live websocket client set; every query is answered straight from the shared
// statestore.Store/AuditLog.
type Server struct {
	cfg   *Config
	store *statestore.Store
	audit *statestore.AuditLog
	log   *logrus.Entry

	portsMu sync.RWMutex
	ports   []string

	httpServer *http.Server

	wsMu      sync.RWMutex
	wsClients map[*WSClient]bool

	eventChan chan *Event
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewServer constructs a Server. audit may be nil (switch history
// becomes unavailable, matching statestore.Store's own nil-audit
// tolerance). ports seeds the initial port list shown by /api/ports;
// RegisterPort adds more as the daemon brings up additional ports.
func NewServer(cfg *Config, store *statestore.Store, audit *statestore.AuditLog, ports []string, log *logrus.Entry) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		audit:     audit,
		log:       log,
		ports:     append([]string(nil), ports...),
		wsClients: make(map[*WSClient]bool),
		eventChan: make(chan *Event, 1000),
		stopCh:    make(chan struct{}),
	}
	store.Subscribe(s.onStoreUpdate)
	return s
}

// RegisterPort adds a port to the set surfaced by /api/ports. Safe to
// call concurrently with serving requests.
func (s *Server) RegisterPort(port string) {
	s.portsMu.Lock()
	defer s.portsMu.Unlock()
	for _, p := range s.ports {
		if p == port {
			return
		}
	}
	s.ports = append(s.ports, port)
}

// Start begins serving HTTP in the background. It returns at once,
// without waiting for the listener to bind; a listen failure is logged,
// not returned. Request handling and event broadcasting continue until
// Stop is called or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc("/api/ports", s.handlePorts).Methods(http.MethodGet)
	router.HandleFunc("/api/ports/{port}", s.handlePortSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/ports/{port}/history", s.handlePortHistory).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.ListenPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.broadcastEvents()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("statusui server exited")
		}
	}()

	return nil
}

// Stop shuts the HTTP server and event broadcaster down.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	s.portsMu.RLock()
	ports := append([]string(nil), s.ports...)
	s.portsMu.RUnlock()

	s.sendJSON(w, APIResponse{Success: true, Data: ports})
}

func (s *Server) handlePortSnapshot(w http.ResponseWriter, r *http.Request) {
	port := mux.Vars(r)["port"]
	record := s.store.Get(port)
	s.sendJSON(w, APIResponse{Success: true, Data: toSnapshot(port, record)})
}

func (s *Server) handlePortHistory(w http.ResponseWriter, r *http.Request) {
	port := mux.Vars(r)["port"]

	if s.audit == nil {
		s.sendJSON(w, APIResponse{Success: true, Data: []SwitchHistoryEntry{}})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.audit.SwitchHistory(port, limit)
	if err != nil {
		s.sendError(w, fmt.Sprintf("failed to read switch history: %v", err), http.StatusInternalServerError)
		return
	}

	entries := make([]SwitchHistoryEntry, len(events))
	for i, e := range events {
		entries[i] = SwitchHistoryEntry{Starting: e.Starting, Cause: e.Cause, Recorded: e.Recorded}
	}
	s.sendJSON(w, APIResponse{Success: true, Data: entries})
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}

// onStoreUpdate is the statestore.Subscriber the server registers at
// construction; it turns every published port mutation into a
// websocket event. Runs on the publishing goroutine (the port's own
// strand), so it must not block — PublishEvent below is non-blocking.
func (s *Server) onStoreUpdate(port string, record statestore.PortRecord) {
	s.PublishEvent(&Event{
		Type:      EventPortUpdate,
		Timestamp: time.Now(),
		Port:      port,
		Data:      toSnapshot(port, record),
	})
}

// PublishEvent enqueues an event for delivery to connected websocket
// clients, dropping it if the broadcaster is backed up.
func (s *Server) PublishEvent(event *Event) {
	select {
	case s.eventChan <- event:
	default:
	}
}

func (s *Server) broadcastEvents() {
	for {
		select {
		case <-s.stopCh:
			return
		case event := <-s.eventChan:
			s.wsMu.RLock()
			for client := range s.wsClients {
				select {
				case client.send <- event:
				default:
				}
			}
			s.wsMu.RUnlock()
		}
	}
}

func toSnapshot(port string, r statestore.PortRecord) PortSnapshot {
	return PortSnapshot{
		Port:          port,
		ServerIPv4:    ipString(r.ServerIPv4),
		SoCIPv4:       ipString(r.SoCIPv4),
		ServerMAC:     macString(r.ServerMAC),
		LinkState:     r.LinkState.String(),
		PeerLinkState: r.PeerLinkState.String(),
		PeerMuxState:  r.PeerMuxState.String(),
		MuxMode:       r.MuxMode.String(),
		DefaultRoute:  defaultRouteString(r.DefaultRoute),
		MuxState:      r.MuxState.String(),
		Health:        r.Health.String(),
		UnknownPkts:   r.UnknownPackets,
		TotalPkts:     r.TotalPackets,
	}
}
