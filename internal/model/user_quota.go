package model

import "time"

// UserQuota 员工周额度，对应 user_quotas（每位员工一行）
type UserQuota struct {
	EmployeeID       string     `gorm:"type:uuid;primaryKey"     json:"employee_id"`
	CompanyID        string     `gorm:"type:uuid;not null"       json:"company_id"`
	WeeklyQuotaTotal int        `gorm:"not null"                 json:"weekly_quota_total"`
	WeeklyQuotaUsed  int        `gorm:"not null;default:0"       json:"weekly_quota_used"`
	CurrentWeekStart time.Time  `gorm:"not null"                 json:"current_week_start"`
	LastResetAt      *time.Time `json:"last_reset_at,omitempty"`
	TZOffsetHours    int        `gorm:"not null;default:0"       json:"tz_offset_hours"` // 最近一次请求上报的时区偏移
	ResetWeekday     int        `gorm:"not null"                 json:"reset_weekday"`
	Version          int        `gorm:"not null;default:1"       json:"version"`
	Timestamps
}

// TableName 指定表名
func (UserQuota) TableName() string { return "user_quotas" }

// Remaining 剩余额度
func (q *UserQuota) Remaining() int {
	if r := q.WeeklyQuotaTotal - q.WeeklyQuotaUsed; r > 0 {
		return r
	}
	return 0
}

// CanSend 是否还能发送
func (q *UserQuota) CanSend() bool { return q.Remaining() > 0 }
