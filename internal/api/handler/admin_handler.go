package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"kudos-engine/backend/internal/dto"
	"kudos-engine/backend/internal/scheduler"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/response"
)

const (
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultExportWindow = 7 * 24 * time.Hour
)

// QuotaResetRunner 手动触发一次额度重置
type QuotaResetRunner interface {
	RunOnce(ctx context.Context, now time.Time) (scheduler.Result, error)
}

// AdminHandler 管理员审核、配置与运维接口
type AdminHandler struct {
	svc    service.ModerationService
	runner QuotaResetRunner
	now    func() time.Time
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(svc service.ModerationService, runner QuotaResetRunner) *AdminHandler {
	return &AdminHandler{svc: svc, runner: runner, now: func() time.Time { return time.Now().UTC() }}
}

// Delete 软删除点赞
// POST /api/v1/admin/kudos/:id/delete
func (h *AdminHandler) Delete(c *gin.Context) {
	h.transition(c, h.svc.SoftDelete)
}

// Flag 标记点赞
// POST /api/v1/admin/kudos/:id/flag
func (h *AdminHandler) Flag(c *gin.Context) {
	h.transition(c, h.svc.Flag)
}

// Restore 恢复点赞
// POST /api/v1/admin/kudos/:id/restore
func (h *AdminHandler) Restore(c *gin.Context) {
	h.transition(c, h.svc.Restore)
}

type transitionFunc func(ctx context.Context, ident *service.ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error)

func (h *AdminHandler) transition(c *gin.Context, fn transitionFunc) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Export 导出审核清单
// GET /api/v1/admin/kudos/export?from=RFC3339&to=RFC3339（默认最近 7 天）
func (h *AdminHandler) Export(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	var q dto.ExportModerationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindError(c, err)
		return
	}

	to := h.now()
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			response.BadRequest(c, 10001, "to 必须为 RFC3339 时间")
			return
		}
		to = t.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			response.BadRequest(c, 10001, "from 必须为 RFC3339 时间")
			return
		}
		from = t.UTC()
	}
	if !from.Before(to) {
		response.BadRequest(c, 10001, "from 必须早于 to")
		return
	}

	buf, filename, err := h.svc.ExportModeration(c.Request.Context(), ident, from, to)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetSetting 查询本公司点赞配置
// GET /api/v1/admin/company-setting
func (h *AdminHandler) GetSetting(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	result, err := h.svc.GetSetting(c.Request.Context(), ident)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// UpdateSetting 更新本公司点赞配置
// PUT /api/v1/admin/company-setting
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	ident, ok := MustGetIdentity(c)
	if !ok {
		return
	}

	var req dto.UpdateCompanySettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	result, err := h.svc.UpdateSetting(c.Request.Context(), ident, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// RunQuotaReset 立即执行一次额度重置
// POST /api/v1/admin/quota-reset/run
func (h *AdminHandler) RunQuotaReset(c *gin.Context) {
	if h.runner == nil {
		response.Error(c, http.StatusServiceUnavailable, 50001, "额度重置调度未启用")
		return
	}

	res, err := h.runner.RunOnce(c.Request.Context(), h.now())
	if err != nil {
		_ = c.Error(err)
		response.InternalError(c)
		return
	}
	if res.Skipped {
		response.Conflict(c, 20306, "其他实例正在执行额度重置")
		return
	}
	response.OK(c, dto.QuotaResetResponse{Reset: res.Reset, Failed: res.Failed, Buckets: res.Buckets})
}
