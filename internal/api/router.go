package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/api/handler"
)

// NewRouter 组装路由：静态页 + 授权流程 + 队列/状态 API。
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	if cfg.Trace.Enabled {
		r.Use(otelgin.Middleware("viewerqueue"))
	}

	staticDir := cfg.Server.StaticDir
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/admin")
	})
	r.StaticFile("/obs", filepath.Join(staticDir, "obs.html"))
	r.StaticFile("/admin", filepath.Join(staticDir, "admin.html"))
	r.StaticFile("/admin/rewards", filepath.Join(staticDir, "rewards.html"))
	r.StaticFile("/admin/css", filepath.Join(staticDir, "css_creator.html"))
	r.Static("/assets", filepath.Join(staticDir, "assets"))

	auth := r.Group("/auth")
	{
		auth.GET("/start", h.AuthStart)
		auth.GET("/callback", h.AuthCallback)
		auth.POST("/logout", h.AuthLogout)
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", h.Status)
		apiGroup.GET("/queue", h.ListQueue)
		apiGroup.POST("/queue/:id/delete", h.DeleteQueueItem)
		apiGroup.POST("/queue/:id/move_up", h.MoveQueueItemUp)
		apiGroup.POST("/queue/:id/move_down", h.MoveQueueItemDown)
		apiGroup.GET("/rewards", h.ListRewards)
	}

	return r
}
