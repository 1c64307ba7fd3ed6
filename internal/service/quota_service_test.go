package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kudos-engine/backend/internal/dto"
	"kudos-engine/backend/pkg/weekclock"
)

func TestQuotaStore_GetOrCreate_UsesCompanyDefault(t *testing.T) {
	env := setupTestEnv(t)
	ident := env.identity(t, alice, 3)

	q, err := env.svc.Quota.Get(context.Background(), ident)
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if q.WeeklyQuotaTotal != 5 || q.WeeklyQuotaUsed != 0 {
		t.Errorf("期望 5/0，实际 %d/%d", q.WeeklyQuotaTotal, q.WeeklyQuotaUsed)
	}
	if q.TZOffsetHours != 3 || q.ResetWeekday != int(time.Monday) {
		t.Errorf("应记录时区与重置日，实际 %d/%d", q.TZOffsetHours, q.ResetWeekday)
	}
	want := weekclock.WeekStartOn(3, time.Monday, wednesday)
	if !q.CurrentWeekStart.Equal(want) {
		t.Errorf("周起点期望 %v，实际 %v", want, q.CurrentWeekStart)
	}
}

func TestRecognitionService_GetQuota_PicksUpNewDefaultAfterReset(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := send(env, t, alice, bob, 1); err != nil {
		t.Fatalf("Send 失败: %v", err)
	}

	ten := 10
	if _, err := env.svc.Moderation.UpdateSetting(ctx, env.identity(t, carol, 0), &dto.UpdateCompanySettingRequest{
		DefaultWeeklyQuota: &ten,
	}); err != nil {
		t.Fatalf("UpdateSetting 失败: %v", err)
	}

	// 周内已有额度保持原总额
	q, err := env.svc.Recognition.GetQuota(ctx, env.identity(t, alice, 0))
	if err != nil {
		t.Fatalf("GetQuota 失败: %v", err)
	}
	if q.WeeklyQuotaTotal != 5 || q.Remaining != 4 {
		t.Errorf("周内期望 total=5 remaining=4，实际 %d/%d", q.WeeklyQuotaTotal, q.Remaining)
	}

	env.clock.Advance(14 * 24 * time.Hour)
	q, err = env.svc.Recognition.GetQuota(ctx, env.identity(t, alice, 0))
	if err != nil {
		t.Fatalf("GetQuota 失败: %v", err)
	}
	if q.WeeklyQuotaTotal != 10 || q.WeeklyQuotaUsed != 0 || q.Remaining != 10 {
		t.Errorf("重置后期望 10/0/10，实际 %d/%d/%d", q.WeeklyQuotaTotal, q.WeeklyQuotaUsed, q.Remaining)
	}

	fresh, err := env.svc.Recognition.GetQuota(ctx, env.identity(t, bob, 0))
	if err != nil {
		t.Fatalf("GetQuota 失败: %v", err)
	}
	if fresh.WeeklyQuotaTotal != q.WeeklyQuotaTotal {
		t.Errorf("老员工与新建额度应一致: %d != %d", q.WeeklyQuotaTotal, fresh.WeeklyQuotaTotal)
	}
}

func TestQuotaStore_GetOrCreate_TouchesOffset(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Quota.Get(ctx, env.identity(t, alice, 0)); err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	q, err := env.svc.Quota.Get(ctx, env.identity(t, alice, -7))
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if q.TZOffsetHours != -7 {
		t.Errorf("偏移应更新为 -7，实际 %d", q.TZOffsetHours)
	}
	stored, _ := env.repo.Quota.Get(ctx, alice)
	if stored.TZOffsetHours != -7 {
		t.Errorf("库中偏移应为 -7，实际 %d", stored.TZOffsetHours)
	}
}

func TestQuotaStore_EnsureCurrentWeek_Monotonic(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	ident := env.identity(t, alice, 0)

	thisWeek := weekclock.WeekStartOn(0, time.Monday, wednesday)
	q, _ := env.svc.Quota.GetOrCreate(ctx, ident, thisWeek)
	if _, err := env.svc.Quota.Consume(ctx, q, 2); err != nil {
		t.Fatalf("Consume 失败: %v", err)
	}

	// 更早的周起点不应回退也不应清零
	q, err := env.svc.Quota.EnsureCurrentWeek(ctx, q, thisWeek.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("EnsureCurrentWeek 失败: %v", err)
	}
	if env.usedQuota(t, alice) != 2 {
		t.Errorf("旧周起点不应重置额度")
	}

	next := thisWeek.AddDate(0, 0, 7)
	q, _ = env.repo.Quota.Get(ctx, alice)
	q, err = env.svc.Quota.EnsureCurrentWeek(ctx, q, next)
	if err != nil {
		t.Fatalf("EnsureCurrentWeek 失败: %v", err)
	}
	if q.WeeklyQuotaUsed != 0 || !q.CurrentWeekStart.Equal(next) || q.LastResetAt == nil {
		t.Errorf("跨周后应清零并推进: %+v", q)
	}

	// 幂等：同一周起点再次调用不变
	again, err := env.svc.Quota.EnsureCurrentWeek(ctx, q, next)
	if err != nil || !again.CurrentWeekStart.Equal(next) {
		t.Errorf("重复调用应幂等: %v %v", again, err)
	}
}

func TestQuotaStore_EnsureCurrentWeek_StaleCopy(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	ident := env.identity(t, alice, 0)

	thisWeek := weekclock.WeekStartOn(0, time.Monday, wednesday)
	next := thisWeek.AddDate(0, 0, 7)
	stale, _ := env.svc.Quota.GetOrCreate(ctx, ident, thisWeek)
	copyOfStale := *stale

	if _, err := env.svc.Quota.EnsureCurrentWeek(ctx, stale, next); err != nil {
		t.Fatalf("EnsureCurrentWeek 失败: %v", err)
	}
	fresh, _ := env.repo.Quota.Get(ctx, alice)
	if _, err := env.svc.Quota.Consume(ctx, fresh, 1); err != nil {
		t.Fatalf("Consume 失败: %v", err)
	}

	// 另一请求持有旧副本，不应再次清零
	got, err := env.svc.Quota.EnsureCurrentWeek(ctx, &copyOfStale, next)
	if err != nil {
		t.Fatalf("EnsureCurrentWeek 失败: %v", err)
	}
	if got.WeeklyQuotaUsed != 1 {
		t.Errorf("已推进的周不应再次清零，used=%d", got.WeeklyQuotaUsed)
	}
}

func TestQuotaStore_Consume_Insufficient(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	ident := env.identity(t, alice, 0)

	q, _ := env.svc.Quota.Get(ctx, ident)
	if _, err := env.svc.Quota.Consume(ctx, q, 6); !errors.Is(err, ErrInsufficientQuota) {
		t.Errorf("期望 ErrInsufficientQuota，实际: %v", err)
	}
	q, err := env.svc.Quota.Consume(ctx, q, 5)
	if err != nil || q.Remaining() != 0 {
		t.Errorf("恰好用尽应成功: %v", err)
	}
}

func TestQuotaStore_Refund(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	q, _ := env.svc.Quota.Get(ctx, env.identity(t, alice, 0))
	env.svc.Quota.Consume(ctx, q, 3)
	if err := env.svc.Quota.Refund(ctx, alice, 3); err != nil {
		t.Fatalf("Refund 失败: %v", err)
	}
	if env.usedQuota(t, alice) != 0 {
		t.Errorf("回补后应为 0，实际 %d", env.usedQuota(t, alice))
	}
}

func TestQuotaStore_ConcurrentConsume(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.db.Exec("UPDATE company_settings SET default_weekly_quota = 20 WHERE company_id = ?", companyA)

	q, err := env.svc.Quota.Get(ctx, env.identity(t, alice, 0))
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}

	var ok, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := *q
			_, err := env.svc.Quota.Consume(ctx, &local, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrInsufficientQuota):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("非预期错误: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 20 || rejected != 30 {
		t.Errorf("期望 20 成功 30 拒绝，实际 %d/%d", ok, rejected)
	}
	if env.usedQuota(t, alice) != 20 {
		t.Errorf("最终 used 应为 20，实际 %d", env.usedQuota(t, alice))
	}
}

func TestRecognitionService_GetQuota(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	ident := env.identity(t, alice, 0)

	if _, err := env.svc.Recognition.Send(ctx, ident, &dto.SendKudosRequest{ReceiverID: bob, Quantity: 2}); err != nil {
		t.Fatalf("Send 失败: %v", err)
	}
	resp, err := env.svc.Recognition.GetQuota(ctx, ident)
	if err != nil {
		t.Fatalf("GetQuota 失败: %v", err)
	}
	if resp.Remaining != 3 || resp.WeeklyQuotaUsed != 2 {
		t.Errorf("期望剩余 3，实际 %+v", resp)
	}
	if resp.CurrentWeekStart != "2026-10-12T00:00:00Z" || resp.NextResetAt != "2026-10-19T00:00:00Z" {
		t.Errorf("周边界错误: %s / %s", resp.CurrentWeekStart, resp.NextResetAt)
	}
}
