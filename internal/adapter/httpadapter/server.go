// Package httpadapter implements the HTTP adapter transport (spec §6):
// POST /adapter/messages accepts a batch of envelopes and returns a batch
// of responses, grounded in the teacher's gin handler/middleware
// conventions (internal/handlers, internal/middleware).
package httpadapter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// Server exposes the HTTP adapter transport over the given runtime.
type Server struct {
	runtime *bus.Runtime
	engine  *gin.Engine
}

// NewServer builds a gin engine with the adapter routes registered.
func NewServer(runtime *bus.Runtime) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), coreerrors.Recovery(), coreerrors.ErrorHandler())

	s := &Server{runtime: runtime, engine: engine}
	engine.POST("/adapter/messages", s.handleMessages)
	engine.GET("/healthz", s.handleHealth)
	return s
}

// Engine returns the underlying gin engine, for embedding or ListenAndServe.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMessages decodes a Batch, pushes each envelope into the runtime,
// and reports per-item acceptance (it does not wait for route handlers to
// finish, per spec §4.1 push_incoming semantics: "returns success after
// enqueue, never blocks on handler work").
func (s *Server) handleMessages(c *gin.Context) {
	var batch envelope.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		coreerrors.AbortWithError(c, coreerrors.InvalidEnvelope(err.Error()))
		return
	}

	results := make([]gin.H, 0, len(batch.Items))
	for i := range batch.Items {
		env := &batch.Items[i]
		if env.SchemaVersion == 0 {
			env.SchemaVersion = envelope.CurrentSchemaVersion
		}
		if err := s.runtime.PushIncoming(env); err != nil {
			ce, _ := coreerrors.As(err)
			logger.Adapter().Warn().Err(err).Str("message_id", env.MessageID).Msg("push_incoming rejected")
			results = append(results, gin.H{"message_id": env.MessageID, "accepted": false, "error": string(ce.Kind)})
			continue
		}
		results = append(results, gin.H{"message_id": env.MessageID, "accepted": true})
	}

	c.JSON(http.StatusAccepted, gin.H{"schema_version": envelope.CurrentSchemaVersion, "items": results})
}
