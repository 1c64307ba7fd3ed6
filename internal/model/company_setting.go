package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// 通知提供方类型
const (
	ProviderTypeTeams = "teams"
)

// ProviderConfig 外部通知提供方配置（值对象，嵌入 company_settings.providers）
type ProviderConfig struct {
	Name         string            `json:"name"`
	ProviderType string            `json:"provider_type"`
	Domains      []string          `json:"domains"`
	Active       bool              `json:"active"`
	Settings     map[string]string `json:"settings,omitempty"` // tenant_id 等提供方私有配置
}

// TenantID 外部租户 ID
func (p ProviderConfig) TenantID() string {
	return p.Settings["tenant_id"]
}

// OwnsDomain 域名是否归属该提供方（大小写不敏感的完全匹配）
func (p ProviderConfig) OwnsDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, d := range p.Domains {
		if strings.ToLower(strings.TrimSpace(d)) == domain {
			return true
		}
	}
	return false
}

// ProviderConfigs 以 JSONB 存储的提供方列表
type ProviderConfigs []ProviderConfig

// Scan 将 JSONB 文本解析为提供方列表
func (p *ProviderConfigs) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("ProviderConfigs.Scan: %w", err)
	}
	if b == nil {
		*p = ProviderConfigs{}
		return nil
	}
	var out []ProviderConfig
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("ProviderConfigs.Scan: %w", err)
	}
	*p = out
	return nil
}

// Value 序列化为 JSON 文本
func (p ProviderConfigs) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]ProviderConfig(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CompanySetting 公司点赞配置表，对应 company_settings
type CompanySetting struct {
	CompanyID                 string          `gorm:"type:uuid;primaryKey"          json:"company_id"`
	IsEnabled                 bool            `gorm:"not null"                      json:"is_enabled"`
	DefaultWeeklyQuota        int             `gorm:"not null;default:5"            json:"default_weekly_quota"`
	MaxQuantityPerTransaction int             `gorm:"not null;default:5"            json:"max_quantity_per_transaction"`
	QuotaResetWeekday         int             `gorm:"not null"                      json:"quota_reset_weekday"` // 0=周日 ... 6=周六
	Providers                 ProviderConfigs `gorm:"type:jsonb;not null;default:'[]'" json:"providers"`
	Version                   int             `gorm:"not null;default:1"            json:"version"`
	BaseModel
}

// TableName 指定表名
func (CompanySetting) TableName() string { return "company_settings" }

// ResetWeekday 额度重置日
func (c *CompanySetting) ResetWeekday() time.Weekday {
	if c.QuotaResetWeekday < 0 || c.QuotaResetWeekday > 6 {
		return time.Monday
	}
	return time.Weekday(c.QuotaResetWeekday)
}
