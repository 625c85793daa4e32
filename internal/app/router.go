package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"readmodel.dev/projector/internal/api/handlers"
	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/api/openapi"
	"readmodel.dev/projector/internal/config"
)

// defaultAllowedOrigins is used when no origin is configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	doc, err := openapi.GetSwagger()
	if err != nil {
		panic("load embedded openapi document: " + err.Error())
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		cors.New(buildCORSConfig(cfg)),
		// The validator buffers what ErrorHandler writes, so it goes first.
		middleware.MustOpenAPIValidator(doc),
		middleware.ErrorHandler(),
	)

	handlers.RegisterHandlers(router, server,
		middleware.JWTAuth(jwtCfg),
		middleware.RequireRole(middleware.RoleOperator),
	)
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 && len(cfg.Server.AllowedOrigins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	out.AllowOrigins = origins
	return out
}
