package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/pkg/metrics"
)

// ErrQueueFull 投递队列已满
var ErrQueueFull = errors.New("dispatch queue full")

// OutcomeRecorder 回写投递结果
type OutcomeRecorder interface {
	RecordNotification(ctx context.Context, transactionID string, sent bool, errMsg *string) error
}

// Outcome 单次投递结果
type Outcome struct {
	Sent     bool
	Provider string // 命中的渠道名；未命中为空
	Err      error
}

type job struct {
	tx        model.RecognitionTransaction
	email     string
	providers []model.ProviderConfig
}

// Dispatcher 有界队列 + 固定 worker 的异步投递器
// 调用方永不阻塞；队满直接记为失败，不做重试
type Dispatcher struct {
	registry *Registry
	recorder OutcomeRecorder
	timeout  time.Duration
	workers  int
	logger   *zap.Logger

	queue   chan job
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher 创建投递器，Start 之前不会消费队列
func NewDispatcher(cfg *config.NotificationConfig, registry *Registry, logger *zap.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		workers:  workers,
		logger:   logger,
		queue:    make(chan job, size),
	}
}

// Start 绑定结果回写方并启动 worker
func (d *Dispatcher) Start(recorder OutcomeRecorder) {
	d.recorder = recorder
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.Info("通知投递器已启动", zap.Int("workers", d.workers), zap.Int("queue", cap(d.queue)))
}

// Stop 停止接收新任务并等待队列排空
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch 非阻塞入队
func (d *Dispatcher) Dispatch(tx model.RecognitionTransaction, recipientEmail string, providers []model.ProviderConfig) {
	j := job{tx: tx, email: recipientEmail, providers: providers}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.drop(j, errors.New("dispatcher stopped"))
		return
	}
	select {
	case d.queue <- j:
	default:
		d.drop(j, ErrQueueFull)
	}
}

// DispatchSync 同步投递一次并回写结果
func (d *Dispatcher) DispatchSync(ctx context.Context, tx model.RecognitionTransaction, recipientEmail string, providers []model.ProviderConfig) Outcome {
	return d.run(ctx, job{tx: tx, email: recipientEmail, providers: providers})
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(context.Background(), j)
	}
}

func (d *Dispatcher) run(parent context.Context, j job) Outcome {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	out := d.deliver(ctx, j)
	switch {
	case out.Err != nil:
		metrics.NotificationOutcomes.WithLabelValues("failed").Inc()
		d.logger.Warn("通知投递失败",
			zap.String("transaction_id", j.tx.TransactionID),
			zap.String("provider", out.Provider),
			zap.Error(out.Err))
	case out.Sent:
		metrics.NotificationOutcomes.WithLabelValues("sent").Inc()
	default:
		metrics.NotificationOutcomes.WithLabelValues("no_provider").Inc()
	}

	d.record(j.tx.TransactionID, out)
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, j job) Outcome {
	cfg, ok := MatchProvider(j.providers, j.email)
	if !ok {
		return Outcome{}
	}
	p, ok := d.registry.Get(cfg.ProviderType)
	if !ok {
		return Outcome{Provider: cfg.Name, Err: fmt.Errorf("unsupported provider type %q", cfg.ProviderType)}
	}
	if err := p.Deliver(ctx, cfg, j.email, messageFrom(&j.tx)); err != nil {
		return Outcome{Provider: cfg.Name, Err: err}
	}
	return Outcome{Sent: true, Provider: cfg.Name}
}

// drop 未入队的任务直接记为失败；回写放到后台避免阻塞调用方
func (d *Dispatcher) drop(j job, reason error) {
	metrics.NotificationOutcomes.WithLabelValues("dropped").Inc()
	d.logger.Warn("通知未入队", zap.String("transaction_id", j.tx.TransactionID), zap.Error(reason))
	go d.record(j.tx.TransactionID, Outcome{Err: reason})
}

func (d *Dispatcher) record(transactionID string, out Outcome) {
	if d.recorder == nil {
		return
	}
	var errMsg *string
	if out.Err != nil {
		s := out.Err.Error()
		errMsg = &s
	}

	// 回写使用独立超时，不受投递超时影响
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordNotification(ctx, transactionID, out.Sent, errMsg); err != nil {
		d.logger.Error("回写通知结果失败", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}
