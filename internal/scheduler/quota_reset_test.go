package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/pkg/redis"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// 2026-10-19 周一 00:30 UTC
var now = time.Date(2026, 10, 19, 0, 30, 0, 0, time.UTC)

var lastMonday = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:sched_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&model.CompanySetting{}, &model.UserQuota{}); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}
	return db
}

func newTestRepo(t *testing.T) repository.QuotaRepository {
	t.Helper()
	return repository.NewQuotaRepo(newTestDB(t))
}

func seed(t *testing.T, repo repository.QuotaRepository, id string, offset int, weekday time.Weekday, weekStart time.Time, used int) {
	t.Helper()
	err := repo.CreateIfAbsent(context.Background(), &model.UserQuota{
		EmployeeID:       id,
		CompanyID:        "co-1",
		WeeklyQuotaTotal: 5,
		WeeklyQuotaUsed:  used,
		CurrentWeekStart: weekStart,
		TZOffsetHours:    offset,
		ResetWeekday:     int(weekday),
		Version:          1,
	})
	if err != nil {
		t.Fatalf("创建额度失败: %v", err)
	}
}

func newTestScheduler(repo repository.QuotaRepository, locker Locker, batch int) *QuotaResetScheduler {
	return New(&config.SchedulerConfig{
		Interval:             time.Hour,
		BatchSize:            batch,
		MaxConcurrentBatches: 3,
		PassTimeout:          time.Minute,
		LockTTL:              time.Minute,
	}, repo, locker, zap.NewNop())
}

func mustGet(t *testing.T, repo repository.QuotaRepository, id string) *model.UserQuota {
	t.Helper()
	q, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("查询额度 %s 失败: %v", id, err)
	}
	return q
}

func used(t *testing.T, repo repository.QuotaRepository, id string) int {
	t.Helper()
	return mustGet(t, repo, id).WeeklyQuotaUsed
}

func runOnce(t *testing.T, s *QuotaResetScheduler) Result {
	t.Helper()
	res, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce 失败: %v", err)
	}
	return res
}

type fakeLocker struct {
	held     bool
	obtained int32
	released int32
}

func (l *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if l.held {
		return nil, redis.ErrLockNotObtained
	}
	if key != lockKey {
		return nil, errors.New("unexpected key " + key)
	}
	atomic.AddInt32(&l.obtained, 1)
	return func(context.Context) error {
		atomic.AddInt32(&l.released, 1)
		return nil
	}, nil
}

// failingRepo 对指定员工的推进总是失败
type failingRepo struct {
	repository.QuotaRepository
	failID string
}

func (r *failingRepo) AdvanceWeek(ctx context.Context, id string, weekStart, at time.Time) (bool, error) {
	if id == r.failID {
		return false, errors.New("deadlock detected")
	}
	return r.QuotaRepository.AdvanceWeek(ctx, id, weekStart, at)
}

// =============================================================================
// RunOnce
// =============================================================================

func TestRunOnce_ResetsOnlyDueRows(t *testing.T) {
	repo := newTestRepo(t)

	// UTC 已进入新周
	seed(t, repo, "utc-due", 0, time.Monday, lastMonday, 5)
	// UTC-5 本地仍是周日 19:30，本周起点为 10-12 05:00 UTC
	seed(t, repo, "west-current", -5, time.Monday, lastMonday.Add(5*time.Hour), 4)
	// UTC+9 已是周一 09:30
	seed(t, repo, "east-due", 9, time.Monday, lastMonday.Add(-9*time.Hour), 3)
	// 周日重置的公司：UTC 的本周起点为 10-18
	seed(t, repo, "sunday-current", 0, time.Sunday, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), 2)
	seed(t, repo, "sunday-due", 0, time.Sunday, time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC), 2)

	res := runOnce(t, newTestScheduler(repo, nil, 100))

	if res.Reset != 3 || res.Failed != 0 || res.Buckets != 3 {
		t.Errorf("期望 reset=3 failed=0 buckets=3，实际 %+v", res)
	}
	for _, id := range []string{"utc-due", "east-due", "sunday-due"} {
		if got := used(t, repo, id); got != 0 {
			t.Errorf("%s 应清零，实际 used=%d", id, got)
		}
	}
	if got := used(t, repo, "west-current"); got != 4 {
		t.Errorf("未到边界的行不应被触及，实际 used=%d", got)
	}
	if got := used(t, repo, "sunday-current"); got != 2 {
		t.Errorf("sunday-current 不应被触及，实际 used=%d", got)
	}

	q := mustGet(t, repo, "east-due")
	if want := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC); !q.CurrentWeekStart.Equal(want) {
		t.Errorf("周起点期望 %v，实际 %v", want, q.CurrentWeekStart)
	}
	if q.LastResetAt == nil {
		t.Error("应记录 last_reset_at")
	}
}

func TestRunOnce_Idempotent(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "a", 0, time.Monday, lastMonday, 5)
	s := newTestScheduler(repo, nil, 100)

	first := runOnce(t, s)
	second := runOnce(t, s)

	if first.Reset != 1 {
		t.Errorf("首轮期望 reset=1，实际 %d", first.Reset)
	}
	if second.Reset != 0 || second.Buckets != 0 {
		t.Errorf("第二轮应为空操作，实际 %+v", second)
	}
}

func TestRunOnce_PagesThroughBatches(t *testing.T) {
	repo := newTestRepo(t)
	for i := 0; i < 7; i++ {
		seed(t, repo, fmt.Sprintf("emp-%02d", i), 0, time.Monday, lastMonday, 1)
	}

	res := runOnce(t, newTestScheduler(repo, nil, 2))

	if res.Reset != 7 || res.Buckets != 1 {
		t.Errorf("期望 reset=7 buckets=1，实际 %+v", res)
	}
	for i := 0; i < 7; i++ {
		if got := used(t, repo, fmt.Sprintf("emp-%02d", i)); got != 0 {
			t.Errorf("emp-%02d 应清零，实际 used=%d", i, got)
		}
	}
}

func TestRunOnce_IsolatesRowFailures(t *testing.T) {
	repo := newTestRepo(t)
	for _, id := range []string{"a", "b", "c"} {
		seed(t, repo, id, 0, time.Monday, lastMonday, 2)
	}

	res := runOnce(t, newTestScheduler(&failingRepo{QuotaRepository: repo, failID: "b"}, nil, 100))

	if res.Reset != 2 || res.Failed != 1 {
		t.Errorf("期望 reset=2 failed=1，实际 %+v", res)
	}
	if got := used(t, repo, "b"); got != 2 {
		t.Errorf("失败行应保持原值，实际 used=%d", got)
	}
	if got := used(t, repo, "c"); got != 0 {
		t.Errorf("其余行应继续重置，实际 used=%d", got)
	}
}

func TestRunOnce_AppliesCurrentCompanyDefault(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewQuotaRepo(db)
	seed(t, repo, "a", 0, time.Monday, lastMonday, 3)

	setting := &model.CompanySetting{CompanyID: "co-1", IsEnabled: true, DefaultWeeklyQuota: 10, MaxQuantityPerTransaction: 5}
	if err := db.Create(setting).Error; err != nil {
		t.Fatalf("创建公司配置失败: %v", err)
	}

	if res := runOnce(t, newTestScheduler(repo, nil, 100)); res.Reset != 1 {
		t.Fatalf("期望 reset=1，实际 %+v", res)
	}
	q := mustGet(t, repo, "a")
	if q.WeeklyQuotaTotal != 10 || q.WeeklyQuotaUsed != 0 {
		t.Errorf("调度重置后期望 total=10 used=0，实际 %d/%d", q.WeeklyQuotaTotal, q.WeeklyQuotaUsed)
	}
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "a", 0, time.Monday, lastMonday, 5)
	locker := &fakeLocker{held: true}

	res := runOnce(t, newTestScheduler(repo, locker, 100))

	if !res.Skipped {
		t.Error("锁被占用时应跳过")
	}
	if got := used(t, repo, "a"); got != 5 {
		t.Errorf("跳过时不应重置，实际 used=%d", got)
	}
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	repo := newTestRepo(t)
	locker := &fakeLocker{}

	runOnce(t, newTestScheduler(repo, locker, 100))

	if got := atomic.LoadInt32(&locker.obtained); got != 1 {
		t.Errorf("期望加锁 1 次，实际 %d", got)
	}
	if got := atomic.LoadInt32(&locker.released); got != 1 {
		t.Errorf("期望释放 1 次，实际 %d", got)
	}
}

// =============================================================================
// Start / Stop
// =============================================================================

func TestScheduler_StartRunsImmediately(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "a", 0, time.Monday, time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC), 5)

	s := newTestScheduler(repo, nil, 100)
	s.Start()
	s.Start() // 重复启动无副作用
	defer func() {
		s.Stop()
		s.Stop()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		q, err := repo.Get(context.Background(), "a")
		if err == nil && q.WeeklyQuotaUsed == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("启动后应立即执行一轮重置")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
