// Package weekclock 计算各 UTC 偏移时区下的周起点。
//
// 所有返回值均为 UTC 时刻，表示"该时区本地时间的周 X 00:00"。
// 偏移量以整小时表示，支持范围 [-12, +14]。
package weekclock

import "time"

const (
	MinOffset = -12
	MaxOffset = 14
)

// Offsets 返回全部支持的整小时偏移（-12..+14，共 27 个桶）
func Offsets() []int {
	out := make([]int, 0, MaxOffset-MinOffset+1)
	for o := MinOffset; o <= MaxOffset; o++ {
		out = append(out, o)
	}
	return out
}

// ValidOffset 判断偏移量是否在支持范围内
func ValidOffset(offsetHours int) bool {
	return offsetHours >= MinOffset && offsetHours <= MaxOffset
}

// ClampOffset 将偏移量收敛到支持范围内
func ClampOffset(offsetHours int) int {
	if offsetHours < MinOffset {
		return MinOffset
	}
	if offsetHours > MaxOffset {
		return MaxOffset
	}
	return offsetHours
}

// WeekStartFor 返回 now 所在周的周一 00:00（本地时间），以 UTC 表示
func WeekStartFor(offsetHours int, now time.Time) time.Time {
	return WeekStartOn(offsetHours, time.Monday, now)
}

// WeekStartOn 返回最近一个 weekday 00:00（本地时间，含当天），以 UTC 表示
func WeekStartOn(offsetHours int, weekday time.Weekday, now time.Time) time.Time {
	shift := time.Duration(offsetHours) * time.Hour
	local := now.UTC().Add(shift)

	days := (int(local.Weekday()) - int(weekday) + 7) % 7
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	return midnight.AddDate(0, 0, -days).Add(-shift)
}

// NextWeekStart 返回下一个周起点（用于展示额度刷新时间）
func NextWeekStart(offsetHours int, weekday time.Weekday, now time.Time) time.Time {
	return WeekStartOn(offsetHours, weekday, now).AddDate(0, 0, 7)
}
