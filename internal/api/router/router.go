package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/api/handler"
	"kudos-engine/backend/internal/api/middleware"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/jwt"
	"kudos-engine/backend/pkg/redis"
)

// maxBodyBytes 评论与配置请求体上限
const maxBodyBytes = 1 << 20

// Setup 初始化并返回 Gin 路由引擎；rdb 可为 nil
func Setup(cfg *config.Config, h *handler.Handler, resolver service.IdentityResolver, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 / 指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── API v1（均需认证） ──
	v1 := r.Group("/api/v1")
	v1.Use(
		middleware.JWTAuth(jwtMgr, rdb),
		middleware.TZOffset(),
		middleware.Identity(resolver, logger),
	)
	{
		kudos := v1.Group("/kudos")
		{
			kudos.POST("",
				middleware.RateLimit(rdb, cfg.Kudos.RateLimitPerMinute, time.Minute, middleware.ByEmployee),
				h.Kudos.Send)
			kudos.GET("/quota", h.Kudos.GetQuota)
			kudos.POST("/:id/reactions", h.Kudos.React)
			kudos.POST("/:id/comments", h.Kudos.Comment)
			kudos.GET("/:id/comments", h.Kudos.ListComments)
			kudos.POST("/comments/:id/reactions", h.Kudos.ReactToComment)
		}

		admin := v1.Group("/admin", middleware.RoleAuth("admin"))
		{
			admin.POST("/kudos/:id/delete", h.Admin.Delete)
			admin.POST("/kudos/:id/flag", h.Admin.Flag)
			admin.POST("/kudos/:id/restore", h.Admin.Restore)
			admin.GET("/kudos/export", h.Admin.Export)
			admin.GET("/company-setting", h.Admin.GetSetting)
			admin.PUT("/company-setting", h.Admin.UpdateSetting)
			admin.POST("/quota-reset/run", h.Admin.RunQuotaReset)
		}
	}

	return r
}
