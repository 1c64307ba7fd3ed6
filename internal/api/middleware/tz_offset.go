package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"kudos-engine/backend/pkg/response"
	"kudos-engine/backend/pkg/weekclock"
)

// OffsetKey 调用方时区偏移（整数小时）
const OffsetKey = "tz_offset"

// TZOffset 读取 X-Timezone-Offset；缺省为 0，越界钳制到 [-12, 14]
func TZOffset() gin.HandlerFunc {
	return func(c *gin.Context) {
		offset := 0
		if raw := strings.TrimSpace(c.GetHeader("X-Timezone-Offset")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				response.BadRequest(c, 10001, "X-Timezone-Offset 必须为整数小时")
				c.Abort()
				return
			}
			offset = weekclock.ClampOffset(n)
		}

		c.Set(OffsetKey, offset)
		c.Next()
	}
}
