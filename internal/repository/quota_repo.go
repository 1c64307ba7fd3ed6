package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kudos-engine/backend/internal/model"
)

// QuotaRepository 周额度数据访问接口
//
// 所有写操作均为单条条件 UPDATE，保证同一行上的扣减可线性化，
// 不做"先读后写"。
type QuotaRepository interface {
	Get(ctx context.Context, employeeID string) (*model.UserQuota, error)
	// CreateIfAbsent 不存在时插入；并发首次访问只有一条成功，其余静默忽略
	CreateIfAbsent(ctx context.Context, quota *model.UserQuota) error
	// Touch 更新员工最近上报的时区偏移与公司重置日
	Touch(ctx context.Context, employeeID string, offsetHours, resetWeekday int) error
	// AdvanceWeek 仅当 current_week_start < weekStart 时清零并推进周起点，
	// 同时将周总额刷新为公司当前的默认额度
	AdvanceWeek(ctx context.Context, employeeID string, weekStart, now time.Time) (bool, error)
	// Consume 仅当 used + qty <= total 时扣减；否则返回 ErrQuotaExhausted
	Consume(ctx context.Context, employeeID string, qty int) error
	// Refund 回滚扣减（流水写入失败时的补偿）
	Refund(ctx context.Context, employeeID string, qty int) error
	// ListResetWeekdays 当前数据中出现过的重置日
	ListResetWeekdays(ctx context.Context) ([]int, error)
	// ListDue 按主键游标分页列出周起点已过期的员工 ID
	ListDue(ctx context.Context, offsetHours, resetWeekday int, boundary time.Time, afterID string, limit int) ([]string, error)
}

type quotaRepo struct {
	db *gorm.DB
}

// NewQuotaRepo 创建 QuotaRepository 实例
func NewQuotaRepo(db *gorm.DB) QuotaRepository {
	return &quotaRepo{db: db}
}

func (r *quotaRepo) Get(ctx context.Context, employeeID string) (*model.UserQuota, error) {
	var q model.UserQuota
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quotaRepo) CreateIfAbsent(ctx context.Context, quota *model.UserQuota) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "employee_id"}}, DoNothing: true}).
		Create(quota).Error
}

func (r *quotaRepo) Touch(ctx context.Context, employeeID string, offsetHours, resetWeekday int) error {
	return r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("employee_id = ? AND (tz_offset_hours <> ? OR reset_weekday <> ?)", employeeID, offsetHours, resetWeekday).
		Updates(map[string]interface{}{
			"tz_offset_hours": offsetHours,
			"reset_weekday":   resetWeekday,
		}).Error
}

// currentDefaultQuota 公司配置缺失时保留原周总额
const currentDefaultQuota = `COALESCE((SELECT cs.default_weekly_quota FROM company_settings cs ` +
	`WHERE cs.company_id = user_quotas.company_id), weekly_quota_total)`

func (r *quotaRepo) AdvanceWeek(ctx context.Context, employeeID string, weekStart, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("employee_id = ? AND current_week_start < ?", employeeID, weekStart).
		Updates(map[string]interface{}{
			"weekly_quota_used":  0,
			"weekly_quota_total": gorm.Expr(currentDefaultQuota),
			"current_week_start": weekStart,
			"last_reset_at":      now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *quotaRepo) Consume(ctx context.Context, employeeID string, qty int) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("employee_id = ? AND weekly_quota_used + ? <= weekly_quota_total", employeeID, qty).
		Updates(map[string]interface{}{
			"weekly_quota_used": gorm.Expr("weekly_quota_used + ?", qty),
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

func (r *quotaRepo) Refund(ctx context.Context, employeeID string, qty int) error {
	return r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("employee_id = ? AND weekly_quota_used >= ?", employeeID, qty).
		Updates(map[string]interface{}{
			"weekly_quota_used": gorm.Expr("weekly_quota_used - ?", qty),
			"version":           gorm.Expr("version + 1"),
		}).Error
}

func (r *quotaRepo) ListResetWeekdays(ctx context.Context) ([]int, error) {
	var days []int
	err := r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Distinct("reset_weekday").
		Order("reset_weekday ASC").
		Pluck("reset_weekday", &days).Error
	return days, err
}

func (r *quotaRepo) ListDue(ctx context.Context, offsetHours, resetWeekday int, boundary time.Time, afterID string, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("tz_offset_hours = ? AND reset_weekday = ? AND current_week_start < ?", offsetHours, resetWeekday, boundary)
	if afterID != "" {
		q = q.Where("employee_id > ?", afterID)
	}
	err := q.Order("employee_id ASC").
		Limit(limit).
		Pluck("employee_id", &ids).Error
	return ids, err
}
