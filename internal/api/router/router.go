package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noorqidam/satam-kahiji-sub002/config"
	"github.com/noorqidam/satam-kahiji-sub002/internal/api/handler"
	"github.com/noorqidam/satam-kahiji-sub002/internal/api/middleware"
	"github.com/noorqidam/satam-kahiji-sub002/pkg/jwt"
)

// Setup 初始化并返回 Gin 路由引擎
// limiter 为 nil 时批量保存接口不限流
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, limiter middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	v1.Use(middleware.RoleAuth(middleware.RoleSuperAdmin, middleware.RoleHeadmaster))
	{
		// 学科分配模块
		assignments := v1.Group("/subject-assignments")
		{
			assignments.GET("", h.Assignment.GetOverview)
			assignments.GET("/matrix", h.Assignment.GetMatrix)
			assignments.GET("/export", h.Assignment.ExportMatrix)
			assignments.POST("/bulk-update",
				middleware.RateLimit(limiter, cfg.Assignment.BulkRateLimit, time.Minute),
				h.Assignment.BulkUpdate)
		}

		// 单个教职工
		staff := v1.Group("/staff/:id/subjects")
		{
			staff.PUT("", h.Assignment.UpdateStaffSubjects)
			staff.DELETE("/:subject_id", h.Assignment.RemoveAssignment)
		}
	}

	return r
}
