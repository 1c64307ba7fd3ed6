package dto

// ── 公司配置 ──

// ProviderConfigItem 通知渠道配置
type ProviderConfigItem struct {
	Name         string            `json:"name"          binding:"required"`
	ProviderType string            `json:"provider_type" binding:"required"`
	Domains      []string          `json:"domains"       binding:"required,min=1"`
	Active       bool              `json:"active"`
	Settings     map[string]string `json:"settings"`
}

// UpdateCompanySettingRequest 更新公司配置（仅更新非空字段）
type UpdateCompanySettingRequest struct {
	IsEnabled                 *bool                 `json:"is_enabled"`
	DefaultWeeklyQuota        *int                  `json:"default_weekly_quota"         binding:"omitempty,min=1,max=1000"`
	MaxQuantityPerTransaction *int                  `json:"max_quantity_per_transaction" binding:"omitempty,min=1,max=1000"`
	QuotaResetWeekday         *int                  `json:"quota_reset_weekday"          binding:"omitempty,min=0,max=6"`
	Providers                 *[]ProviderConfigItem `json:"providers"                    binding:"omitempty,dive"`
}

// CompanySettingResponse 公司配置
type CompanySettingResponse struct {
	CompanyID                 string               `json:"company_id"`
	IsEnabled                 bool                 `json:"is_enabled"`
	DefaultWeeklyQuota        int                  `json:"default_weekly_quota"`
	MaxQuantityPerTransaction int                  `json:"max_quantity_per_transaction"`
	QuotaResetWeekday         int                  `json:"quota_reset_weekday"`
	Providers                 []ProviderConfigItem `json:"providers"`
	UpdatedAt                 string               `json:"updated_at"`
}

// ── 审核 / 运维 ──

// ExportModerationQuery 审核导出的时间范围（RFC3339，可选）
type ExportModerationQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// QuotaResetResponse 手动触发一次额度重置的结果
type QuotaResetResponse struct {
	Reset   int `json:"reset"`
	Failed  int `json:"failed"`
	Buckets int `json:"buckets"`
}
