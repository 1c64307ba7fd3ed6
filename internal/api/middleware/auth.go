package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/jwt"
	"kudos-engine/backend/pkg/redis"
	"kudos-engine/backend/pkg/response"
)

// 上下文键
const (
	ClaimsKey   = "claims"
	RoleKey     = "role"
	IdentityKey = "identity"
)

// JWTAuth 校验 Authorization: Bearer <token>，直连与联邦两种凭证均可
// rdb 为 nil 时跳过黑名单检查
func JWTAuth(jwtMgr *jwt.Manager, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, 10002, "缺少认证头")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, 10002, "认证头格式无效")
			c.Abort()
			return
		}

		claims, err := jwtMgr.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, 10002, "Token 无效或已过期")
			c.Abort()
			return
		}

		if rdb != nil && claims.ID != "" {
			revoked, err := rdb.IsBlacklisted(c.Request.Context(), claims.ID)
			if err == nil && revoked {
				response.Unauthorized(c, 10002, "Token 已注销")
				c.Abort()
				return
			}
		}

		c.Set(ClaimsKey, claims)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// Identity 将凭证解析为员工身份，需位于 JWTAuth 与 TZOffset 之后
func Identity(resolver service.IdentityResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(ClaimsKey)
		claims, ok := v.(*jwt.Claims)
		if !ok {
			response.Unauthorized(c, 10002, "未认证")
			c.Abort()
			return
		}

		ident, err := resolver.Resolve(c.Request.Context(), claims, c.GetInt(OffsetKey))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotEnabled):
				response.Forbidden(c, 20004, err.Error())
			case errors.Is(err, service.ErrIdentityNotFound):
				response.Unauthorized(c, 20201, err.Error())
			case errors.Is(err, service.ErrUnsupportedScheme):
				response.Unauthorized(c, 20202, err.Error())
			default:
				logger.Error("解析身份失败", zap.Error(err))
				response.InternalError(c)
			}
			c.Abort()
			return
		}

		c.Set(IdentityKey, ident)
		c.Next()
	}
}

// RoleAuth 检查凭证角色是否在允许列表中
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		if role == "" {
			response.Unauthorized(c, 10002, "未认证")
			c.Abort()
			return
		}

		for _, r := range allowedRoles {
			if role == r {
				c.Next()
				return
			}
		}

		response.Forbidden(c, 10003, "无权限访问")
		c.Abort()
	}
}
