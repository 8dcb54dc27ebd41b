package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"clusterpos/pkg/commitpos"
	"clusterpos/pkg/counters"
	"clusterpos/pkg/raftadapter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iStoreAPI interface {
	GetString(key string) (string, bool, error)
}

type iRaftNode interface {
	IsLeader() bool
	LeaderAddr() string
	CommitIndex() uint64
	Execute(ctx context.Context, cmd raftadapter.Cmd) error
	Handle(ctx context.Context, message raftpb.Message) error
}

// iCounters is the read side of the counters registry the server reports on.
type iCounters interface {
	commitpos.MetaDataView
	CounterLabel(id int32) string
	CounterValue(id int32) int64
	ForEach(fn func(id, typeID int32, key []byte, label string) bool)
}

// Server exposes the node's store, raft ingress and counters registry.
type Server struct {
	node       iRaftNode
	store      iStoreAPI
	counters   iCounters
	clusterID  int32
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance
func NewServer(node iRaftNode, store iStoreAPI, reg iCounters, clusterID int32, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		node:      node,
		store:     store,
		counters:  reg,
		clusterID: clusterID,
		URL:       "http://localhost:" + port,
		addr:      ":" + port,
	}
}

// Start starts the HTTP listener in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/counters", s.handleCounters)
	r.Get("/api/commit-position", s.handleCommitPosition)
	r.Put("/api/string", s.handlePut)
	r.Get("/api/string", s.handleGet)
	r.Delete("/api", s.handleDelete)
	r.Post(raftadapter.RaftEndpoint, s.handleRaft)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) redirectLeader(w http.ResponseWriter, r *http.Request) (bool, error) {
	if s.node.IsLeader() {
		return false, nil
	}

	leaderAddr := s.node.LeaderAddr()
	// лидер ещё не известен или это мы сами - обрабатываем локально
	if leaderAddr == "" || leaderAddr == s.URL {
		return false, nil
	}

	leaderURL, err := url.JoinPath(leaderAddr, r.URL.Path)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse("Failed to get leader URL"))
		return false, fmt.Errorf("failed to join leader path: %w", err)
	}
	if r.URL.RawQuery != "" {
		leaderURL += "?" + r.URL.RawQuery
	}

	http.Redirect(w, r, leaderURL, http.StatusTemporaryRedirect)
	return true, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	resp := CountersResponse{Status: StatusSuccess, Counters: []CounterInfo{}}
	s.counters.ForEach(func(id, typeID int32, _ []byte, label string) bool {
		resp.Counters = append(resp.Counters, CounterInfo{
			ID:     id,
			TypeID: typeID,
			Label:  label,
			Value:  s.counters.CounterValue(id),
		})
		return true
	})
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCommitPosition locates the commit-position counter of the requested
// cluster (this node's cluster when clusterId is omitted).
func (s *Server) handleCommitPosition(w http.ResponseWriter, r *http.Request) {
	clusterID := s.clusterID
	if raw := r.URL.Query().Get("clusterId"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid clusterId"))
			return
		}
		clusterID = int32(v)
	}

	id := commitpos.FindCounterID(s.counters, clusterID)
	if id == counters.NullCounterID {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Commit position counter not found"))
		return
	}

	resp := CommitPositionResponse{
		Status:    StatusSuccess,
		ClusterID: clusterID,
		CounterID: id,
		Value:     s.counters.CounterValue(id),
	}
	if clusterID == s.clusterID {
		resp.Applied = s.node.CommitIndex()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")
	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	s.execute(w, r, raftadapter.NewCmd(raftadapter.InsertOp, []byte(key), []byte(value)))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	value, found, err := s.store.GetString(key)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(value))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	s.execute(w, r, raftadapter.NewCmd(raftadapter.DeleteOp, []byte(key), nil))
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd raftadapter.Cmd) {
	if redirected, err := s.redirectLeader(w, r); redirected || err != nil {
		if err != nil {
			slog.Error("Failed to redirect to leader", "error", err)
		}
		return
	}

	if err := s.node.Execute(r.Context(), cmd); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleRaft(w http.ResponseWriter, r *http.Request) {
	var msg raftpb.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if err := s.node.Handle(r.Context(), msg); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}
