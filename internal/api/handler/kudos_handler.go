package handler

import (
	"github.com/gin-gonic/gin"

	"kudos-engine/backend/internal/dto"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/response"
)

// KudosHandler 点赞模块 HTTP 处理器
type KudosHandler struct {
	svc service.RecognitionService
}

// NewKudosHandler 创建 KudosHandler
func NewKudosHandler(svc service.RecognitionService) *KudosHandler {
	return &KudosHandler{svc: svc}
}

// Send 发送点赞
// POST /api/v1/kudos
func (h *KudosHandler) Send(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	var req dto.SendKudosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	result, err := h.svc.Send(c.Request.Context(), ident, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// GetQuota 查询本周额度
// GET /api/v1/kudos/quota
func (h *KudosHandler) GetQuota(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := h.svc.GetQuota(c.Request.Context(), ident)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// React 回应点赞
// POST /api/v1/kudos/:id/reactions
func (h *KudosHandler) React(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := h.svc.React(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// Comment 评论点赞
// POST /api/v1/kudos/:id/comments
func (h *KudosHandler) Comment(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	result, err := h.svc.Comment(c.Request.Context(), ident, c.Param("id"), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// ListComments 评论列表（按时间正序）
// GET /api/v1/kudos/:id/comments
func (h *KudosHandler) ListComments(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := h.svc.ListComments(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ReactToComment 回应评论
// POST /api/v1/kudos/comments/:id/reactions
func (h *KudosHandler) ReactToComment(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := h.svc.ReactToComment(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}
