package repository

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
	pkgerrors "kudos-engine/backend/pkg/errors"
)

// CompanySettingRepository 公司配置数据访问接口
type CompanySettingRepository interface {
	Create(ctx context.Context, setting *model.CompanySetting) error
	GetByCompany(ctx context.Context, companyID string) (*model.CompanySetting, error)
	// FindByDomain 按邮箱域名反查公司（联邦身份使用）
	FindByDomain(ctx context.Context, domain string) (*model.CompanySetting, error)
	Update(ctx context.Context, setting *model.CompanySetting) error
}

type companySettingRepo struct {
	db *gorm.DB
}

// NewCompanySettingRepo 创建 CompanySettingRepository 实例
func NewCompanySettingRepo(db *gorm.DB) CompanySettingRepository {
	return &companySettingRepo{db: db}
}

func (r *companySettingRepo) Create(ctx context.Context, setting *model.CompanySetting) error {
	return r.db.WithContext(ctx).Create(setting).Error
}

func (r *companySettingRepo) GetByCompany(ctx context.Context, companyID string) (*model.CompanySetting, error) {
	var s model.CompanySetting
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByDomain 依赖 PostgreSQL JSONB 包含查询（GIN 索引）
// 多家公司声明同一域名时取最早创建的一家
func (r *companySettingRepo) FindByDomain(ctx context.Context, domain string) (*model.CompanySetting, error) {
	filter, err := json.Marshal([]map[string]interface{}{
		{"domains": []string{strings.ToLower(domain)}, "active": true},
	})
	if err != nil {
		return nil, err
	}

	var s model.CompanySetting
	err = r.db.WithContext(ctx).
		Where("providers @> ?::jsonb", string(filter)).
		Order("created_at ASC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *companySettingRepo) Update(ctx context.Context, setting *model.CompanySetting) error {
	oldVersion := setting.Version
	result := r.db.WithContext(ctx).
		Model(setting).
		Where("company_id = ? AND version = ?", setting.CompanyID, oldVersion).
		Updates(map[string]interface{}{
			"is_enabled":                   setting.IsEnabled,
			"default_weekly_quota":         setting.DefaultWeeklyQuota,
			"max_quantity_per_transaction": setting.MaxQuantityPerTransaction,
			"quota_reset_weekday":          setting.QuotaResetWeekday,
			"providers":                    setting.Providers,
			"updated_by":                   setting.UpdatedBy,
			"version":                      oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	setting.Version = oldVersion + 1
	return nil
}
