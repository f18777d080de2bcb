package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"lealone/pkg/btree"
	"lealone/pkg/metrics"
	"lealone/pkg/pagestore"
	"lealone/pkg/replication"
	"lealone/pkg/types"
)

// Server is the external HTTP surface: health/metrics, the client-facing
// key/value operations, and the inbound side of every logical replication
// RPC a remote pkg/replication.Coordinator or MoveCoordinator addresses at
// this node. Grounded on the teacher's internal/http.Server, generalized
// from one fixed store to a registry of named maps.
type Server struct {
	httpServer *http.Server
	URL        string
	addr       string

	mu           sync.RWMutex
	maps         map[string]*btree.Map
	coordinators map[string]*replication.Coordinator

	move    *replication.MoveCoordinator
	metrics metrics.Collector

	// names enforces spec.md §4.5's replica-side total order: a write
	// addressed directly at this node (the "no Coordinator registered, this
	// node is a replica" branch of every handler below) only applies if its
	// ReplicationName is newer than the last one admitted for that key,
	// discarding a stale or duplicate retry instead of letting it clobber a
	// write that already settled.
	names *replication.NameGate
}

// NewServer builds a Server listening on port (defaultHTTPPort if empty).
func NewServer(port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		URL:          "http://localhost:" + port,
		addr:         ":" + port,
		maps:         make(map[string]*btree.Map),
		coordinators: make(map[string]*replication.Coordinator),
		metrics:      metrics.NoopCollector{},
		names:        replication.NewNameGate(),
	}
}

// RegisterMap makes m reachable as mapName by every handler below.
func (s *Server) RegisterMap(mapName string, m *btree.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[mapName] = m
}

// RegisterCoordinator installs c as mapName's front door: client get/put/
// replace/remove/append requests against mapName fan out through c rather
// than hitting the local map directly, matching spec.md's sharded-map mode.
// A map with no registered coordinator is served directly, the single-node
// (or "I am a replica, not the coordinator") case.
func (s *Server) RegisterCoordinator(mapName string, c *replication.Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinators[mapName] = c
}

// SetMoveCoordinator installs the handler for the four leaf-page-move RPCs.
func (s *Server) SetMoveCoordinator(mc *replication.MoveCoordinator) { s.move = mc }

func (s *Server) SetMetrics(c metrics.Collector) {
	if c != nil {
		s.metrics = c
	}
}

func (s *Server) resolveMap(name string) (*btree.Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.maps[name]
	return m, ok
}

func (s *Server) resolveCoordinator(name string) (*replication.Coordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coordinators[name]
	return c, ok
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/maps/{map}", func(r chi.Router) {
		r.Post("/get", s.handleGet)
		r.Post("/put", s.handlePut)
		r.Post("/replace", s.handleReplace)
		r.Post("/remove", s.handleRemove)
		r.Post("/append", s.handleAppend)
		r.Post("/commit", s.handleReplicationCommit)

		r.Route("/move", func(r chi.Router) {
			r.Post("/prepare", s.handlePrepareMove)
			r.Post("/leaf", s.handleMoveLeaf)
			r.Post("/remove-leaf", s.handleRemoveLeaf)
			r.Post("/read", s.handleReadRemote)
		})
	})

	return r
}

// Start begins serving in the background; the listen error (if any) is
// logged rather than returned, matching the teacher's fire-and-forget
// ListenAndServe goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("rpc: server error", "err", err)
		}
	}()
	slog.Info("rpc: server started", "addr", s.URL)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data Response) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("rpc: error encoding response", "err", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("# lealone metrics\n")); err != nil {
		slog.Warn("rpc: failed to write metrics response", "err", err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req getRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if c, ok := s.resolveCoordinator(mapName); ok {
		v, found, err := c.Get(mapName, req.Key)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Value: v, Found: found})
		return
	}

	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	v, found := m.Get(req.Key)
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Value: v, Found: found})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req putRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if c, ok := s.resolveCoordinator(mapName); ok {
		old, had, err := c.Put(mapName, req.Key, req.Value, req.AddIfAbsent)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
		return
	}

	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	if !s.names.Admit(mapName, req.Key, req.Name) {
		old, had := m.Get(req.Key)
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
		return
	}
	var old types.Value
	var had bool
	var err error
	if req.AddIfAbsent {
		old, had, err = m.PutIfAbsent(req.Key, req.Value)
	} else {
		old, had, err = m.Put(req.Key, req.Value)
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req replaceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if c, ok := s.resolveCoordinator(mapName); ok {
		ok, err := c.Replace(mapName, req.Key, req.OldValue, req.NewValue)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, OK: ok})
		return
	}

	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	if !s.names.Admit(mapName, req.Key, req.Name) {
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, OK: false})
		return
	}
	okReplaced, err := m.Replace(req.Key, req.OldValue, req.NewValue)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, OK: okReplaced})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req removeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if c, ok := s.resolveCoordinator(mapName); ok {
		old, had, err := c.Remove(mapName, req.Key)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
		return
	}

	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	if !s.names.Admit(mapName, req.Key, req.Name) {
		old, had := m.Get(req.Key)
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
		return
	}
	old, had, err := m.Remove(req.Key)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Old: old, HadOld: had})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req appendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if c, ok := s.resolveCoordinator(mapName); ok {
		key, err := c.Append(mapName, req.Value)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Key: key})
		return
	}

	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	key, err := m.Append(req.Value)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	// Append always assigns a fresh key, so there's no prior write to order
	// against; the gate is still seeded with req.Name for the new key so a
	// later write to it carrying an older name is rejected. A redelivered
	// append is not detected: it runs again and gets another fresh key.
	s.names.Admit(mapName, key, req.Name)
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Key: key})
}

func (s *Server) handleReplicationCommit(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req replicationCommitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	if !s.names.Admit(mapName, req.Commit.Key, req.Commit.Name) {
		slog.Debug("rpc: dropped stale replicationCommit", "map", mapName, "key", req.Commit.Key.Describe(),
			"name", req.Commit.Name, "retryNames", req.Commit.RetryReplicationNames)
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
		return
	}
	if req.Commit.Removed {
		if _, _, err := m.Remove(req.Commit.Key); err != nil {
			s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
			return
		}
	} else if _, _, err := m.Put(req.Commit.Key, req.Commit.Value); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
}

func (s *Server) handlePrepareMove(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req prepareMoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if s.move == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse("move coordinator not configured"))
		return
	}
	plan := s.move.PrepareMoveLeafPage(mapName, req.Plan)
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Plan: plan})
}

func (s *Server) handleMoveLeaf(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req moveLeafRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	if !req.AddPage {
		// A stale-notice settlement call (MoveCoordinator.NotifyStale): no
		// page bytes travel, this node just drops any plan it remembered
		// for the key so it stops waiting on a round that already settled
		// elsewhere, matching the Java source's otherNodes branch of
		// moveLeafPage.
		if s.move != nil {
			s.move.ForgetPlan(req.PageKey)
		}
		s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
		return
	}
	leaf, err := pagestore.DecodeLeaf(req.Page, m.Serializer())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	m.AdoptRemoteLeaf(req.PageKey, leaf)
	if s.move != nil {
		s.move.ForgetPlan(req.PageKey)
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
}

func (s *Server) handleRemoveLeaf(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req removeLeafRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	m.SwapLeafToRemote(req.PageKey, nil)
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
}

func (s *Server) handleReadRemote(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	var req readRemoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	m, ok := s.resolveMap(mapName)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("unknown map "+mapName))
		return
	}
	leaf, ok := m.LeafAt(req.PageKey)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("page not held locally"))
		return
	}
	data, err := pagestore.EncodeLeaf(leaf, m.Serializer())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Page: data})
}
