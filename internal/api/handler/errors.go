package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kudos-engine/backend/internal/api/middleware"
	"kudos-engine/backend/internal/service"
	apperrors "kudos-engine/backend/pkg/errors"
	"kudos-engine/backend/pkg/response"
)

// errorCode 业务错误到 HTTP 状态与业务码的映射
type errorCode struct {
	err    error
	status int
	code   int
}

// 顺序即匹配优先级
var errorCodes = []errorCode{
	{service.ErrSelfRecognition, http.StatusBadRequest, 20001},
	{service.ErrCrossTenant, http.StatusForbidden, 20002},
	{service.ErrQuantityOutOfRange, http.StatusBadRequest, 20003},
	{service.ErrNotEnabled, http.StatusForbidden, 20004},
	{service.ErrEmptyComment, http.StatusBadRequest, 20005},
	{service.ErrMessageTooLong, http.StatusBadRequest, 20006},

	{service.ErrInsufficientQuota, http.StatusConflict, 20101},
	{service.ErrAlreadyReacted, http.StatusConflict, 20102},

	{service.ErrIdentityNotFound, http.StatusUnauthorized, 20201},
	{service.ErrUnsupportedScheme, http.StatusUnauthorized, 20202},
	{service.ErrReceiverNotFound, http.StatusNotFound, 20203},

	{service.ErrTransactionNotFound, http.StatusNotFound, 20301},
	{service.ErrCommentNotFound, http.StatusNotFound, 20302},
	{service.ErrInvalidStatusTransition, http.StatusConflict, 20303},
	{apperrors.ErrOptimisticLock, http.StatusConflict, 20304},
	{service.ErrCompanySettingNotFound, http.StatusNotFound, 20305},
	{service.ErrInvalidStatus, http.StatusBadRequest, 10001},
}

// handleServiceError 写出业务错误；未识别的错误记入 c.Errors 后返回 500
func handleServiceError(c *gin.Context, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			response.Error(c, ec.status, ec.code, ec.err.Error())
			return
		}
	}
	_ = c.Error(err)
	response.InternalError(c)
}

// handleBindError 参数绑定失败
func handleBindError(c *gin.Context, err error) {
	if middleware.IsBodyTooLarge(err) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return
	}
	response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
}
