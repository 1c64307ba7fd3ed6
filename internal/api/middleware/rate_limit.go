package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/redis"
	"kudos-engine/backend/pkg/response"
)

// KeyFunc 限流维度
type KeyFunc func(c *gin.Context) string

// ByClientIP 按来源 IP + 路由限流
func ByClientIP(c *gin.Context) string {
	return "kudos:rate:ip:" + c.ClientIP() + ":" + c.FullPath()
}

// ByEmployee 按员工 + 路由限流；需位于 Identity 之后
func ByEmployee(c *gin.Context) string {
	v, _ := c.Get(IdentityKey)
	ident, ok := v.(*service.ResolvedIdentity)
	if !ok {
		return ByClientIP(c)
	}
	return "kudos:rate:emp:" + ident.EmployeeID() + ":" + c.FullPath()
}

// RateLimit 基于 Redis 滑动窗口的速率限制
// rdb 为 nil 或 Redis 出错时降级放行
func RateLimit(rdb *redis.Client, limit int, window time.Duration, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}

		allowed, err := rdb.CheckRateLimit(c.Request.Context(), key(c), limit, window)
		if err != nil {
			c.Next()
			return
		}

		if !allowed {
			response.TooManyRequests(c)
			c.Abort()
			return
		}

		c.Next()
	}
}
