package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"readmodel.dev/projector/internal/pkg/worker"
	"readmodel.dev/projector/internal/projection"
)

// Health is the response of GET /healthz.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	// Checkpoints are the last positions persisted per slot by this process.
	Checkpoints map[string]int64            `json:"checkpoints,omitempty"`
	Workers     map[string]worker.PoolStats `json:"workers,omitempty"`
}

// GetHealth handles GET /healthz. A faulted slot or an unreachable database
// degrades the process.
func (s *Server) GetHealth(c *gin.Context) {
	checks := make(map[string]string)
	healthy := true

	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "error"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	for _, st := range s.engine.Status() {
		if st.State == projection.StateFaulted {
			checks["slot:"+st.Name] = "faulted"
			healthy = false
			continue
		}
		checks["slot:"+st.Name] = string(st.State)
	}

	h := Health{Status: "ok", Checks: checks}
	if s.progress != nil {
		snap := s.progress.Snapshot()
		h.Checkpoints = make(map[string]int64, len(snap))
		for slot, pos := range snap {
			h.Checkpoints[slot] = int64(pos)
		}
	}
	if s.workers != nil {
		h.Workers = s.workers.Metrics()
	}

	if !healthy {
		h.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, h)
		return
	}
	c.JSON(http.StatusOK, h)
}
