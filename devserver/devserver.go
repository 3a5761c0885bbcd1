// Package devserver is an in-memory implementation of the remote API the
// sync engine talks to. It serves the same per-kind REST surface as the
// production backend, assigns server ids, and supports failure injection,
// which makes it the backing for integration tests and the demo command.
package devserver

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
)

// Request records one mutating call the server handled, in arrival order.
// Tests assert on this log to verify FIFO replay.
type Request struct {
	Op       tillsync.Operation
	Kind     entity.Kind
	EntityID string
}

// Server is the in-memory remote.
type Server struct {
	mu       sync.Mutex
	entities map[entity.Kind]map[string]entity.Entity
	requests []Request
	failures map[string]int

	engine *gin.Engine
}

// New creates a dev server with empty collections.
func New() *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		entities: map[entity.Kind]map[string]entity.Entity{},
		failures: map[string]int{},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.HEAD("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	for _, kind := range entity.Kinds() {
		group := engine.Group("/" + kind.String() + "s")
		group.POST("", s.handleCreate(kind))
		group.GET("", s.handleList(kind))
		group.PUT("/:id", s.handleUpdate(kind))
		group.DELETE("/:id", s.handleDelete(kind))
	}

	s.engine = engine
	return s
}

// Handler returns the HTTP handler, suitable for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Fail arms failure injection: the next n requests for kind+op answer 500.
func (s *Server) Fail(kind entity.Kind, op tillsync.Operation, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failKey(kind, op)] = n
}

// Requests returns the mutating calls handled so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Seed inserts an entity directly, bypassing the API and the request log.
func (s *Server) Seed(e entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(e)
}

// Entities returns the stored collection for a kind and scope, ordered by id.
func (s *Server) Entities(kind entity.Kind, scopeID string) []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(kind, scopeID)
}

func failKey(kind entity.Kind, op tillsync.Operation) string {
	return kind.String() + "/" + string(op)
}

// shouldFail consumes one armed failure if present. Caller holds the lock.
func (s *Server) shouldFail(kind entity.Kind, op tillsync.Operation) bool {
	key := failKey(kind, op)
	if s.failures[key] > 0 {
		s.failures[key]--
		return true
	}
	return false
}

func (s *Server) put(e entity.Entity) {
	byID, ok := s.entities[e.Kind()]
	if !ok {
		byID = map[string]entity.Entity{}
		s.entities[e.Kind()] = byID
	}
	byID[e.EntityID()] = e
}

func (s *Server) list(kind entity.Kind, scopeID string) []entity.Entity {
	result := []entity.Entity{}
	for _, e := range s.entities[kind] {
		if e.Scope() == scopeID {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID() < result[j].EntityID() })
	return result
}

func (s *Server) handleCreate(kind entity.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		e, err := entity.Decode(kind, body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.shouldFail(kind, tillsync.OpCreate) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}

		// The client's temporary id is discarded; the server owns ids.
		e.SetID("srv-" + uuid.NewString())
		e.Touch(time.Now().UTC())
		s.put(e)
		s.requests = append(s.requests, Request{Op: tillsync.OpCreate, Kind: kind, EntityID: e.EntityID()})

		c.JSON(http.StatusCreated, e)
	}
}

func (s *Server) handleUpdate(kind entity.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		patch, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.shouldFail(kind, tillsync.OpUpdate) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}

		existing, ok := s.entities[kind][id]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s %s not found", kind, id)})
			return
		}

		patched, err := entity.ApplyPatch(existing, patch)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		patched.Touch(time.Now().UTC())
		s.put(patched)
		s.requests = append(s.requests, Request{Op: tillsync.OpUpdate, Kind: kind, EntityID: id})

		c.JSON(http.StatusOK, patched)
	}
}

func (s *Server) handleDelete(kind entity.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.shouldFail(kind, tillsync.OpDelete) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}

		if _, ok := s.entities[kind][id]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s %s not found", kind, id)})
			return
		}

		delete(s.entities[kind], id)
		s.requests = append(s.requests, Request{Op: tillsync.OpDelete, Kind: kind, EntityID: id})

		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleList(kind entity.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := c.Query("scope")

		s.mu.Lock()
		defer s.mu.Unlock()

		c.JSON(http.StatusOK, s.list(kind, scope))
	}
}
