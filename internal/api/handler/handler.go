package handler

import "kudos-engine/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Kudos *KudosHandler
	Admin *AdminHandler
}

// NewHandler 创建 Handler 聚合；runner 为 nil 时手动重置接口返回 503
func NewHandler(svc *service.Service, runner QuotaResetRunner) *Handler {
	return &Handler{
		Kudos: NewKudosHandler(svc.Recognition),
		Admin: NewAdminHandler(svc.Moderation, runner),
	}
}
