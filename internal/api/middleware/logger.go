package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kudos-engine/backend/internal/service"
	applogger "kudos-engine/backend/pkg/logger"
)

// Logger 请求日志；已解析身份时附带员工与公司
// 同时把带 request_id 的 logger 放入请求 context，供下游业务日志使用
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		rid := c.GetString(requestIDKey)

		scoped := logger.With(zap.String("request_id", rid))
		c.Request = c.Request.WithContext(applogger.WithContext(c.Request.Context(), scoped))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", rid),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if v, ok := c.Get(IdentityKey); ok {
			if ident, ok := v.(*service.ResolvedIdentity); ok {
				fields = append(fields,
					zap.String("employee_id", ident.EmployeeID()),
					zap.String("company_id", ident.CompanyID()),
					zap.Int("tz_offset", ident.OffsetHours),
				)
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
		}

		switch {
		case status >= 500:
			logger.Error("请求处理失败", fields...)
		case status >= 400:
			logger.Warn("客户端错误", fields...)
		default:
			logger.Info("请求完成", fields...)
		}
	}
}
