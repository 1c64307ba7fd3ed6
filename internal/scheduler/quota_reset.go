// Package scheduler 周额度的后台重置
//
// 请求路径上的懒重置保证正确性；调度器只是提前把已过周边界的行清零，
// 让报表与额度查询在员工下次访问前也能看到新一周的数据。
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/pkg/metrics"
	"kudos-engine/backend/pkg/redis"
	"kudos-engine/backend/pkg/weekclock"
)

const lockKey = "kudos:quota-reset"

// Locker 多实例互斥（由 Redis 客户端实现）；nil 表示单实例部署
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Result 单次调度结果
type Result struct {
	Reset   int  // 成功推进的行数
	Failed  int  // 推进失败的行数
	Buckets int  // 存在到期行的 (时区, 重置日) 组合数
	Skipped bool // 锁被其他实例持有
}

// QuotaResetScheduler 按 (时区偏移, 重置日) 分桶扫描到期额度
type QuotaResetScheduler struct {
	cfg    config.SchedulerConfig
	quotas repository.QuotaRepository
	locker Locker
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建调度器
func New(cfg *config.SchedulerConfig, quotas repository.QuotaRepository, locker Locker, logger *zap.Logger) *QuotaResetScheduler {
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 5
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 10 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.PassTimeout + 5*time.Minute
	}
	return &QuotaResetScheduler{
		cfg:    c,
		quotas: quotas,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Start 立即执行一次，之后按间隔执行；重复调用无效
func (s *QuotaResetScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info("额度重置调度器已启动",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize))
}

// Stop 取消进行中的调度并等待退出
func (s *QuotaResetScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("额度重置调度器已停止")
}

func (s *QuotaResetScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *QuotaResetScheduler) pass(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.PassTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.RunOnce(ctx, s.now())
	metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.Int("reset", res.Reset),
		zap.Int("failed", res.Failed),
		zap.Int("buckets", res.Buckets),
		zap.Bool("skipped", res.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Error("额度重置调度失败", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("额度重置调度完成", fields...)
}

// RunOnce 执行一次完整扫描；单行失败不影响其余行
func (s *QuotaResetScheduler) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, redis.ErrLockNotObtained) {
				res.Skipped = true
				return res, nil
			}
			return res, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("释放调度锁失败", zap.Error(err))
			}
		}()
	}

	weekdays, err := s.quotas.ListResetWeekdays(ctx)
	if err != nil {
		return res, err
	}

	var (
		reset, failed atomic.Int64
		listErrs      []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxConcurrentBatches)

	for _, wd := range weekdays {
		weekday := time.Weekday(wd)
		for _, offset := range weekclock.Offsets() {
			boundary := weekclock.WeekStartOn(offset, weekday, now)

			after := ""
			for {
				ids, err := s.quotas.ListDue(ctx, offset, wd, boundary, after, s.cfg.BatchSize)
				if err != nil {
					listErrs = append(listErrs, err)
					break
				}
				if len(ids) == 0 {
					break
				}
				if after == "" {
					res.Buckets++
				}

				batch := ids
				g.Go(func() error {
					for _, id := range batch {
						ok, err := s.quotas.AdvanceWeek(ctx, id, boundary, now)
						if err != nil {
							failed.Add(1)
							s.logger.Warn("重置员工额度失败", zap.String("employee_id", id), zap.Error(err))
							continue
						}
						if ok {
							reset.Add(1)
						}
					}
					return nil
				})

				if len(ids) < s.cfg.BatchSize {
					break
				}
				after = ids[len(ids)-1]
			}
		}
	}
	_ = g.Wait()

	res.Reset = int(reset.Load())
	res.Failed = int(failed.Load())
	metrics.QuotaResets.WithLabelValues("scheduler").Add(float64(res.Reset))
	return res, errors.Join(listErrs...)
}
