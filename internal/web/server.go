// Package web implements the HTTP server for the vrm relay. It mounts the
// JSON API, the live results websocket and the Prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/api"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/types"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Finality delivers finalized transactions. Implemented by relay.Service.
type Finality interface {
	Subscribe() (<-chan relay.Finalized, func())
}

// Tallies reads the current candidate list.
type Tallies interface {
	Candidates(ctx context.Context) ([]types.Candidate, error)
}

// Server is the web server for the relay API.
type Server struct {
	apiService *api.Service
	finality   Finality
	tallies    Tallies
	registry   *prometheus.Registry
	port       int
	log        *zap.Logger

	results *broker
	srv     *http.Server
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new web server. registry may be nil, in which case
// /metrics is not mounted.
func NewServer(apiService *api.Service, finality Finality, tallies Tallies, registry *prometheus.Registry, port int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		apiService: apiService,
		finality:   finality,
		tallies:    tallies,
		registry:   registry,
		port:       port,
		log:        log.Named("web"),
		results:    newBroker(),
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)

	// API routes (delegated to apiService)
	mux.HandleFunc("/api/health", s.apiService.HandleHealth)
	mux.HandleFunc("/api/version", s.apiService.HandleVersion)
	mux.HandleFunc("/api/candidates", s.apiService.HandleCandidates)
	mux.HandleFunc("/api/voters", s.apiService.HandleVoter)
	mux.HandleFunc("/api/register", s.apiService.HandleRegister)
	mux.HandleFunc("/api/unregister", s.apiService.HandleUnregister)
	mux.HandleFunc("/api/vote", s.apiService.HandleVote)
	mux.HandleFunc("/api/relay/status", s.apiService.HandleRelayStatus)
	mux.HandleFunc("/api/logs", s.apiService.HandleLogs)
	mux.HandleFunc("/api/docs", s.apiService.HandleDocs)
	mux.HandleFunc("/api/ledger/backup", s.apiService.HandleLedgerBackup)
	mux.HandleFunc("/api/ledger/export", s.apiService.HandleLedgerExport)

	// WebSocket routes
	mux.HandleFunc("/ws/results", s.handleResultsWS)
	mux.HandleFunc("/ws/activity", s.handleActivityWS)

	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on the configured port and serves in the background. The
// returned channel yields the listener's terminal error.
func (s *Server) Start() <-chan error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- fmt.Errorf("listen %s: %w", s.srv.Addr, err)
		close(errCh)
		return errCh
	}
	s.log.Info("relay API listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", s.port)))
	return s.Serve(l)
}

// Serve forwards finality events to results clients and serves HTTP on l.
func (s *Server) Serve(l net.Listener) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	if s.finality != nil {
		events, unsubscribe := s.finality.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.watchResults(ctx, events)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones, which
// includes any finality wait they are in.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
	s.results.closeAll()
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/api/docs?name=relay", http.StatusFound)
}

// watchResults pushes the candidate list to every results client after
// each finalized vote or new candidate.
func (s *Server) watchResults(ctx context.Context, events <-chan relay.Finalized) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op != "vote" && ev.Op != "add_candidate" {
				continue
			}
			if s.results.count() == 0 {
				continue
			}
			data, err := s.tallyMessage(ctx)
			if err != nil {
				s.log.Warn("read tallies", zap.Error(err))
				continue
			}
			s.results.broadcast(data)
		}
	}
}

type tallyMessage struct {
	Candidates []types.Candidate `json:"candidates"`
	Time       time.Time         `json:"time"`
}

func (s *Server) tallyMessage(ctx context.Context) ([]byte, error) {
	candidates, err := s.tallies.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tallyMessage{Candidates: candidates, Time: time.Now().UTC()})
}

// handleResultsWS sends the current tallies, then every update.
func (s *Server) handleResultsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := make(chan []byte, 8)
	s.results.register(client)
	defer s.results.unregister(client)

	initial, err := s.tallyMessage(r.Context())
	if err != nil {
		s.log.Warn("read tallies", zap.Error(err))
		return
	}
	if err := writeMessage(conn, initial); err != nil {
		return
	}

	closed := readUntilClosed(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case data, ok := <-client:
			if !ok {
				return
			}
			if err := writeMessage(conn, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleActivityWS streams the relay activity feed, oldest first.
func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	feed := s.apiService.Logger()

	// GetRecent returns newest first.
	initial := feed.GetRecent(50)
	for i := len(initial) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(initial[i]); err != nil {
			return
		}
	}
	var last time.Time
	if len(initial) > 0 {
		last = initial[0].Timestamp
	}

	closed := readUntilClosed(conn)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			recent := feed.GetRecent(20)
			for i := len(recent) - 1; i >= 0; i-- {
				if !recent[i].Timestamp.After(last) {
					continue
				}
				if err := conn.WriteJSON(recent[i]); err != nil {
					return
				}
				last = recent[i].Timestamp
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readUntilClosed drains client frames so control messages are handled and
// reports when the peer goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
