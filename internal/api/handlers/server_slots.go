package handlers

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/commitlog"
	apperrors "readmodel.dev/projector/internal/pkg/errors"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/projection"
	"readmodel.dev/projector/internal/readmodel"
)

// ListSlots handles GET /api/v1/slots.
func (s *Server) ListSlots(c *gin.Context) {
	c.JSON(http.StatusOK, s.slotList())
}

// PollSlots handles POST /api/v1/slots/poll. It processes the visible
// backlog of every slot and returns once all of them are done.
func (s *Server) PollSlots(c *gin.Context) {
	logger.Info("Manual poll requested",
		zap.String("subject", middleware.GetSubject(c.Request.Context())),
		zap.String("request_id", middleware.GetRequestID(c.Request.Context())),
	)
	if err := s.engine.Tick(c.Request.Context()); err != nil {
		_ = c.Error(pollError(err))
		return
	}
	c.JSON(http.StatusOK, s.slotList())
}

func pollError(err error) error {
	switch {
	case errors.Is(err, projection.ErrManualPollDisabled):
		return apperrors.ErrManualPollDisabled()
	case errors.Is(err, projection.ErrNotRunning):
		return apperrors.Wrap(err, apperrors.CodeEngineNotRunning, "projection engine is not running", http.StatusConflict)
	case errors.Is(err, commitlog.ErrUnavailable):
		return apperrors.Wrap(err, apperrors.CodeCommitLogUnavailable, "commit log is unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, readmodel.ErrStoreUnavailable):
		return apperrors.Wrap(err, apperrors.CodeReadModelUnavailable, "read model store is unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, projection.ErrSlotFaulted):
		return apperrors.Wrap(err, apperrors.CodeSlotFaulted, "a projection slot is faulted", http.StatusServiceUnavailable)
	default:
		return err
	}
}

// Checkpoint is the response of GET /api/v1/checkpoints/{slot}.
type Checkpoint struct {
	Slot     string `json:"slot"`
	Position int64  `json:"position"`
}

// GetCheckpoint handles GET /api/v1/checkpoints/{slot}.
func (s *Server) GetCheckpoint(c *gin.Context, slot string) {
	if !slices.Contains(s.engine.Slots(), slot) {
		_ = c.Error(apperrors.ErrSlotNotFoundf(slot))
		return
	}
	pos, err := s.checkpoints.GetCheckpoint(c.Request.Context(), slot)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInternal, "failed to read checkpoint", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, Checkpoint{Slot: slot, Position: int64(pos)})
}
