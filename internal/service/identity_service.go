package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/pkg/jwt"
	"kudos-engine/backend/pkg/weekclock"
)

// SettingCache 公司配置缓存（由 Redis 客户端实现）
type SettingCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, obj interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	settingCachePrefix = "kudos:company_setting:"
	domainCachePrefix  = "kudos:company_domain:"
)

// ResolvedIdentity 凭证解析结果
type ResolvedIdentity struct {
	Employee    *model.Employee
	Setting     *model.CompanySetting
	OffsetHours int
	Role        string
}

// EmployeeID 便捷访问
func (r *ResolvedIdentity) EmployeeID() string { return r.Employee.EmployeeID }

// CompanyID 便捷访问
func (r *ResolvedIdentity) CompanyID() string { return r.Employee.CompanyID }

// IdentityResolver 将调用方凭证解析为 (员工, 公司配置)
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *jwt.Claims, offsetHours int) (*ResolvedIdentity, error)
	// Setting 读取公司配置（带缓存）
	Setting(ctx context.Context, companyID string) (*model.CompanySetting, error)
	// Invalidate 公司配置变更后清除缓存
	Invalidate(ctx context.Context, setting *model.CompanySetting)
}

type identityResolver struct {
	repo   *repository.Repository
	cache  SettingCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdentityResolver 创建 IdentityResolver；cache 可为 nil
func NewIdentityResolver(repo *repository.Repository, cache SettingCache, ttl time.Duration, logger *zap.Logger) IdentityResolver {
	return &identityResolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func (r *identityResolver) Resolve(ctx context.Context, claims *jwt.Claims, offsetHours int) (*ResolvedIdentity, error) {
	if claims == nil {
		return nil, ErrIdentityNotFound
	}

	var (
		setting *model.CompanySetting
		emp     *model.Employee
		err     error
	)

	switch claims.Scheme {
	case jwt.SchemeDirect:
		if !validID(claims.EmployeeID) || !validID(claims.CompanyID) {
			return nil, ErrIdentityNotFound
		}
		if setting, err = r.Setting(ctx, claims.CompanyID); err != nil {
			return nil, err
		}
		if !setting.IsEnabled {
			return nil, ErrNotEnabled
		}
		emp, err = r.repo.Employee.GetByID(ctx, claims.EmployeeID)
		if err == nil && emp.CompanyID != claims.CompanyID {
			return nil, ErrIdentityNotFound
		}

	case jwt.SchemeFederated:
		domain := emailDomain(claims.Email)
		if domain == "" || claims.TenantID == "" {
			return nil, ErrIdentityNotFound
		}
		if setting, err = r.settingByDomain(ctx, domain); err != nil {
			return nil, err
		}
		if !tenantMatches(setting.Providers, domain, claims.TenantID) {
			r.logger.Warn("联邦凭证租户不匹配",
				zap.String("company_id", setting.CompanyID),
				zap.String("domain", domain))
			return nil, ErrIdentityNotFound
		}
		if !setting.IsEnabled {
			return nil, ErrNotEnabled
		}
		emp, err = r.repo.Employee.GetByEmail(ctx, setting.CompanyID, claims.Email)

	default:
		return nil, ErrUnsupportedScheme
	}

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		r.logger.Error("查询员工失败", zap.Error(err))
		return nil, err
	}
	if !emp.IsActive {
		return nil, ErrIdentityNotFound
	}

	return &ResolvedIdentity{
		Employee:    emp,
		Setting:     setting,
		OffsetHours: weekclock.ClampOffset(offsetHours),
		Role:        claims.Role,
	}, nil
}

func (r *identityResolver) Setting(ctx context.Context, companyID string) (*model.CompanySetting, error) {
	key := settingCachePrefix + companyID
	if r.cache != nil {
		var cached model.CompanySetting
		hit, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("读取公司配置缓存失败，降级查库", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	setting, err := r.repo.CompanySetting.GetByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		r.logger.Error("查询公司配置失败", zap.String("company_id", companyID), zap.Error(err))
		return nil, err
	}

	r.store(ctx, key, setting)
	return setting, nil
}

func (r *identityResolver) settingByDomain(ctx context.Context, domain string) (*model.CompanySetting, error) {
	if r.cache != nil {
		var companyID string
		if hit, err := r.cache.GetJSON(ctx, domainCachePrefix+domain, &companyID); err == nil && hit {
			return r.Setting(ctx, companyID)
		}
	}

	setting, err := r.repo.CompanySetting.FindByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		r.logger.Error("按域名查询公司失败", zap.String("domain", domain), zap.Error(err))
		return nil, err
	}

	r.store(ctx, domainCachePrefix+domain, setting.CompanyID)
	r.store(ctx, settingCachePrefix+setting.CompanyID, setting)
	return setting, nil
}

func (r *identityResolver) store(ctx context.Context, key string, obj interface{}) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJSON(ctx, key, obj, r.ttl); err != nil {
		r.logger.Warn("写入缓存失败", zap.String("key", key), zap.Error(err))
	}
}

func (r *identityResolver) Invalidate(ctx context.Context, setting *model.CompanySetting) {
	if r.cache == nil || setting == nil {
		return
	}
	keys := []string{settingCachePrefix + setting.CompanyID}
	for _, p := range setting.Providers {
		for _, d := range p.Domains {
			keys = append(keys, domainCachePrefix+strings.ToLower(strings.TrimSpace(d)))
		}
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn("清除公司配置缓存失败", zap.Error(err))
	}
}

// emailDomain 取最后一个 @ 之后的部分，小写并去空白
func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func tenantMatches(providers []model.ProviderConfig, domain, tenantID string) bool {
	for _, p := range providers {
		if p.Active && p.OwnsDomain(domain) && p.TenantID() == tenantID {
			return true
		}
	}
	return false
}
