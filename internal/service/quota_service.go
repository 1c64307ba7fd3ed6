package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/pkg/metrics"
	"kudos-engine/backend/pkg/weekclock"
)

// QuotaStore 员工周额度：懒创建、跨周重置、原子扣减
type QuotaStore interface {
	// GetOrCreate 读取额度，不存在时按公司默认额度创建
	GetOrCreate(ctx context.Context, ident *ResolvedIdentity, weekStart time.Time) (*model.UserQuota, error)
	// EnsureCurrentWeek 周起点落后时清零，幂等且周起点单调不减
	EnsureCurrentWeek(ctx context.Context, quota *model.UserQuota, weekStart time.Time) (*model.UserQuota, error)
	// Consume 原子扣减，余额不足返回 ErrInsufficientQuota
	Consume(ctx context.Context, quota *model.UserQuota, qty int) (*model.UserQuota, error)
	// Refund 流水写入失败后的补偿
	Refund(ctx context.Context, employeeID string, qty int) error
	// Get 当前周的额度（含懒重置）
	Get(ctx context.Context, ident *ResolvedIdentity) (*model.UserQuota, error)
}

type quotaStore struct {
	repo   *repository.Repository
	now    Clock
	logger *zap.Logger
}

// NewQuotaStore 创建 QuotaStore 实例
func NewQuotaStore(repo *repository.Repository, now Clock, logger *zap.Logger) QuotaStore {
	return &quotaStore{repo: repo, now: now, logger: logger}
}

func (s *quotaStore) GetOrCreate(ctx context.Context, ident *ResolvedIdentity, weekStart time.Time) (*model.UserQuota, error) {
	empID := ident.EmployeeID()
	weekday := int(ident.Setting.ResetWeekday())

	quota, err := s.repo.Quota.Get(ctx, empID)
	if err == nil {
		if quota.TZOffsetHours != ident.OffsetHours || quota.ResetWeekday != weekday {
			if err := s.repo.Quota.Touch(ctx, empID, ident.OffsetHours, weekday); err != nil {
				s.logger.Warn("更新额度时区失败", zap.String("employee_id", empID), zap.Error(err))
			} else {
				quota.TZOffsetHours = ident.OffsetHours
				quota.ResetWeekday = weekday
			}
		}
		return quota, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询额度失败", zap.String("employee_id", empID), zap.Error(err))
		return nil, err
	}

	fresh := &model.UserQuota{
		EmployeeID:       empID,
		CompanyID:        ident.CompanyID(),
		WeeklyQuotaTotal: ident.Setting.DefaultWeeklyQuota,
		CurrentWeekStart: weekStart,
		TZOffsetHours:    ident.OffsetHours,
		ResetWeekday:     weekday,
		Version:          1,
	}
	if err := s.repo.Quota.CreateIfAbsent(ctx, fresh); err != nil {
		s.logger.Error("创建额度失败", zap.String("employee_id", empID), zap.Error(err))
		return nil, err
	}

	// 并发首次访问时以落库结果为准
	return s.repo.Quota.Get(ctx, empID)
}

func (s *quotaStore) EnsureCurrentWeek(ctx context.Context, quota *model.UserQuota, weekStart time.Time) (*model.UserQuota, error) {
	if !quota.CurrentWeekStart.Before(weekStart) {
		return quota, nil
	}

	now := s.now()
	advanced, err := s.repo.Quota.AdvanceWeek(ctx, quota.EmployeeID, weekStart, now)
	if err != nil {
		s.logger.Error("重置周额度失败", zap.String("employee_id", quota.EmployeeID), zap.Error(err))
		return nil, err
	}
	if !advanced {
		// 其他请求或调度器已推进
		return s.repo.Quota.Get(ctx, quota.EmployeeID)
	}

	metrics.QuotaResets.WithLabelValues("request").Inc()
	// 重置时周总额已按公司当前默认值刷新，重新读取
	return s.repo.Quota.Get(ctx, quota.EmployeeID)
}

func (s *quotaStore) Consume(ctx context.Context, quota *model.UserQuota, qty int) (*model.UserQuota, error) {
	if err := s.repo.Quota.Consume(ctx, quota.EmployeeID, qty); err != nil {
		if errors.Is(err, repository.ErrQuotaExhausted) {
			return nil, ErrInsufficientQuota
		}
		s.logger.Error("扣减额度失败", zap.String("employee_id", quota.EmployeeID), zap.Error(err))
		return nil, err
	}
	return s.repo.Quota.Get(ctx, quota.EmployeeID)
}

func (s *quotaStore) Refund(ctx context.Context, employeeID string, qty int) error {
	if err := s.repo.Quota.Refund(ctx, employeeID, qty); err != nil {
		s.logger.Error("回补额度失败",
			zap.String("employee_id", employeeID),
			zap.Int("quantity", qty),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *quotaStore) Get(ctx context.Context, ident *ResolvedIdentity) (*model.UserQuota, error) {
	weekStart := weekclock.WeekStartOn(ident.OffsetHours, ident.Setting.ResetWeekday(), s.now())
	quota, err := s.GetOrCreate(ctx, ident, weekStart)
	if err != nil {
		return nil, err
	}
	return s.EnsureCurrentWeek(ctx, quota, weekStart)
}
