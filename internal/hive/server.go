// Package hive is the clone-to-clone surface: an HTTP server publishing this
// instance's knowledge deltas and accepting outcomes, a client for reading
// peers, and the syncer that keeps the clones converging.
package hive

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/decisionlog"
	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/feedback"
	"github.com/albertklubabot-sketch/gie20/internal/knowledge"
	"github.com/pkg/errors"
)

var log = logrus.WithField("component", "hive")

// Server exposes this clone's knowledge and decision state to peers and to
// the outcome-reporting execution side.
type Server struct {
	instanceID string
	store      *knowledge.Store
	dlog       *decisionlog.Log
	loop       *feedback.Loop

	httpSrv *http.Server
}

func NewServer(instanceID string, store *knowledge.Store, dlog *decisionlog.Log, loop *feedback.Loop) *Server {
	return &Server{instanceID: instanceID, store: store, dlog: dlog, loop: loop}
}

// Router builds the HTTP surface. Split out so tests can drive it through
// httptest without binding a port.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/knowledge/deltas", s.handleDeltas)
	api.GET("/knowledge/state/:engineID", s.handleState)
	api.POST("/outcomes", s.handleOutcome)
	api.GET("/stats", s.handleStats)
	api.GET("/decisions/recent", s.handleRecent)
	return r
}

// StartAsync serves in the background and shuts down when ctx is canceled.
func (s *Server) StartAsync(ctx context.Context, addr string) {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		log.Infof("hive server listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("hive server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
}

// Head is one engine's current position on a clone. Checksums let a peer
// detect divergence even when the version numbers agree.
type Head struct {
	Version  uint64 `json:"version"`
	Checksum string `json:"checksum"`
}

// DeltasResponse is the wire shape of the delta feed.
type DeltasResponse struct {
	Instance string                  `json:"instance"`
	LastSeq  uint64                  `json:"last_seq"`
	Heads    map[string]Head         `json:"heads"`
	Deltas   []domain.SequencedDelta `json:"deltas"`
}

func (s *Server) handleDeltas(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an unsigned integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	deltas, err := s.store.DeltasAfter(after, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	heads, err := s.heads()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, DeltasResponse{
		Instance: s.instanceID,
		LastSeq:  s.store.LastSeq(),
		Heads:    heads,
		Deltas:   deltas,
	})
}

func (s *Server) heads() (map[string]Head, error) {
	versions, err := s.store.Versions()
	if err != nil {
		return nil, err
	}
	heads := make(map[string]Head, len(versions))
	for engineID, version := range versions {
		state, err := s.store.Get(engineID)
		if err != nil {
			return nil, err
		}
		heads[engineID] = Head{Version: version, Checksum: domain.WeightsChecksum(state.Weights)}
	}
	return heads, nil
}

func (s *Server) handleState(c *gin.Context) {
	state, err := s.store.Get(c.Param("engineID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleOutcome(c *gin.Context) {
	var out domain.Outcome
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if out.DecisionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision_id is required"})
		return
	}
	if out.ResolvedAt.IsZero() {
		out.ResolvedAt = time.Now().UTC()
	}

	err := s.loop.Resolve(c.Request.Context(), out)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "resolved"})
	case errors.Is(err, feedback.ErrAlreadyResolved):
		// At-least-once delivery: a duplicate is success for the sender.
		c.JSON(http.StatusOK, gin.H{"status": "already_resolved"})
	case errors.Is(err, feedback.ErrUnknownDecision):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// StatsResponse aggregates what the monitor dashboard shows per clone.
type StatsResponse struct {
	Instance string                   `json:"instance"`
	Pending  int64                    `json:"pending"`
	Resolved int64                    `json:"resolved"`
	LastSeq  uint64                   `json:"last_seq"`
	Versions map[string]uint64        `json:"versions"`
	ByEngine []decisionlog.EngineStat `json:"by_engine"`
}

func (s *Server) handleStats(c *gin.Context) {
	pending, resolved, err := s.dlog.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	versions, err := s.store.Versions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byEngine, err := s.dlog.EngineStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		Instance: s.instanceID,
		Pending:  pending,
		Resolved: resolved,
		LastSeq:  s.store.LastSeq(),
		Versions: versions,
		ByEngine: byEngine,
	})
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	decisions, err := s.dlog.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decisions)
}
