package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every route on a new gin engine
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(logger))

	r.GET("/health", h.Health)

	loopers := r.Group("/api/loopers")
	loopers.GET("", h.ListLoopers)
	loopers.GET("/:id/snapshot", h.GetSnapshot)
	loopers.POST("/:id/sync", h.Synchronize)
	loopers.GET("/:id/timeline", h.GetTimeline)
	loopers.GET("/:id/override", h.GetOverride)
	loopers.GET("/:id/targets", h.GetTargets)

	commands := loopers.Group("/:id/commands")
	commands.POST("/bolus", h.PostBolus)
	commands.POST("/carbs", h.PostCarbs)
	commands.POST("/override", h.PostOverride)
	commands.POST("/override-cancel", h.PostCancelOverride)
	commands.POST("/autobolus", h.PostAutobolus)
	commands.POST("/closed-loop", h.PostClosedLoop)
	commands.DELETE("", h.DeleteCommands)

	return r
}
