package handlers

import "github.com/gin-gonic/gin"

// RegisterHandlers binds the server to the admin API paths. mutate guards
// the routes that change process state.
func RegisterHandlers(router gin.IRouter, s *Server, mutate ...gin.HandlerFunc) {
	guarded := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mutate...), h)
	}

	router.GET("/healthz", s.GetHealth)

	v1 := router.Group("/api/v1")
	v1.GET("/slots", s.ListSlots)
	v1.POST("/slots/poll", guarded(s.PollSlots)...)
	v1.GET("/checkpoints/:slot", func(c *gin.Context) {
		s.GetCheckpoint(c, c.Param("slot"))
	})
	v1.GET("/aliases/:kind/:alias", func(c *gin.Context) {
		s.ResolveAlias(c, c.Param("kind"), c.Param("alias"))
	})
	v1.GET("/identities/:identity/alias", func(c *gin.Context) {
		s.GetIdentityAlias(c, c.Param("identity"))
	})
	v1.GET("/log/level", s.GetLogLevel)
	v1.PUT("/log/level", guarded(s.SetLogLevel)...)
}
