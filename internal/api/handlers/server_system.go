package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/api/middleware"
	apperrors "readmodel.dev/projector/internal/pkg/errors"
	"readmodel.dev/projector/internal/pkg/logger"
)

// LogLevel is the body of the log level endpoints.
type LogLevel struct {
	Level string `json:"level"`
}

// GetLogLevel handles GET /api/v1/log/level.
func (s *Server) GetLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}

// SetLogLevel handles PUT /api/v1/log/level.
func (s *Server) SetLogLevel(c *gin.Context) {
	var req LogLevel
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "invalid request body", http.StatusBadRequest))
		return
	}
	if err := logger.SetLevel(req.Level); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidLogLevel, "unknown log level", http.StatusBadRequest).
			WithParams(map[string]interface{}{"level": req.Level}))
		return
	}
	logger.Warn("Log level changed",
		zap.String("level", req.Level),
		zap.String("subject", middleware.GetSubject(c.Request.Context())),
	)
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}
