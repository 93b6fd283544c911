package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/adapters/signal"
	"github.com/saffronlab/loom/internal/config"
)

// ReattachTokenMiddleware issues each browser a stable opaque token used
// as the default reattachment key, so a reconnect resumes the same
// identity. An explicit reattachment_key query param still wins.
func ReattachTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("rk").(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set("rk", token)
			_ = sess.Save()
		}
		c.Set("reattach_key", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SessionController, h *Handlers) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("LoomSession", store))
	r.Use(ReattachTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	// SPA fallback for client-side routes.
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && !strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.File(cfg.StaticPath + "/index.html")
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleSession(ctx, c)
	})

	api.GET("/projects", h.listProjects)
	api.DELETE("/projects/:id", h.requireAdmin, h.deleteProject)
	api.GET("/projects/:id/state", h.getState)
	api.PUT("/projects/:id/state", h.putState)
	api.GET("/projects/:id/backup", h.downloadBackup)
	api.POST("/projects/:id/load", h.loadBackup)
	api.GET("/projects/:id/export/word", h.exportWord)
	api.GET("/projects/:id/export/excel", h.exportExcel)

	return r
}
