package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"kudos-engine/backend/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	if err != nil {
		t.Fatalf("连接 miniredis 失败: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestBlacklist(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if err := c.BlacklistToken(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("BlacklistToken 失败: %v", err)
	}
	ok, err := c.IsBlacklisted(ctx, "jti-1")
	if err != nil || !ok {
		t.Fatalf("期望已拉黑，实际 ok=%v err=%v", ok, err)
	}

	// 过期后自动移出
	mr.FastForward(2 * time.Minute)
	if ok, _ = c.IsBlacklisted(ctx, "jti-1"); ok {
		t.Error("过期后应移出黑名单")
	}

	// 已过期的 token 不写入
	if err := c.BlacklistToken(ctx, "jti-2", 0); err != nil {
		t.Fatalf("BlacklistToken 失败: %v", err)
	}
	if mr.Exists(blacklistPrefix + "jti-2") {
		t.Error("剩余有效期为 0 时不应写入")
	}
}

func TestCheckRateLimit(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.CheckRateLimit(ctx, "kudos:rate:test", 3, time.Minute)
		if err != nil {
			t.Fatalf("CheckRateLimit 失败: %v", err)
		}
		if !ok {
			t.Errorf("第 %d 次应放行", i+1)
		}
	}
	ok, err := c.CheckRateLimit(ctx, "kudos:rate:test", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckRateLimit 失败: %v", err)
	}
	if ok {
		t.Error("超过上限应拒绝")
	}

	if ok, _ = c.CheckRateLimit(ctx, "kudos:rate:other", 3, time.Minute); !ok {
		t.Error("不同键互不影响")
	}
}

func TestJSONCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	type item struct {
		ID    string `json:"id"`
		Quota int    `json:"quota"`
	}

	var got item
	hit, err := c.GetJSON(ctx, "k", &got)
	if err != nil || hit {
		t.Fatalf("空缓存应未命中，实际 hit=%v err=%v", hit, err)
	}

	want := item{ID: "co-1", Quota: 5}
	if err := c.SetJSON(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("SetJSON 失败: %v", err)
	}
	hit, err = c.GetJSON(ctx, "k", &got)
	if err != nil || !hit {
		t.Fatalf("写入后应命中，实际 hit=%v err=%v", hit, err)
	}
	if got != want {
		t.Errorf("期望 %+v，实际 %+v", want, got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}
	if hit, _ = c.GetJSON(ctx, "k", &got); hit {
		t.Error("删除后不应命中")
	}
}

func TestLock(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	release, err := c.Lock(ctx, "kudos:quota-reset", time.Minute)
	if err != nil {
		t.Fatalf("首次加锁失败: %v", err)
	}

	if _, err = c.Lock(ctx, "kudos:quota-reset", time.Minute); !errors.Is(err, ErrLockNotObtained) {
		t.Errorf("锁被持有时期望 ErrLockNotObtained，实际: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	release, err = c.Lock(ctx, "kudos:quota-reset", time.Minute)
	if err != nil {
		t.Fatalf("释放后重新加锁失败: %v", err)
	}
	if err := release(ctx); err != nil {
		t.Errorf("释放锁失败: %v", err)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	if _, err := NewClient(&config.RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop()); err == nil {
		t.Error("无法连接时应返回错误")
	}
}
