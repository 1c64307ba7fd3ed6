package handler

import (
	"github.com/gin-gonic/gin"

	"kudos-engine/backend/internal/api/middleware"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/response"
)

// MustGetIdentity 从 Gin 上下文中提取已解析的员工身份。
// Identity 中间件未执行时写入 401，调用方应在 ok=false 时直接 return。
func MustGetIdentity(c *gin.Context) (*service.ResolvedIdentity, bool) {
	v, exists := c.Get(middleware.IdentityKey)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	ident, ok := v.(*service.ResolvedIdentity)
	if !ok || ident == nil || ident.Employee == nil {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	return ident, true
}
