package service

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/pkg/redis"
)

// Clock 可注入的时钟，测试中用于跨越周边界
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// validID 所有实体主键均为 UUID，格式不合法的 ID 直接视为不存在
func validID(id string) bool { return uuid.Validate(id) == nil }

// Service 所有 Service 的聚合入口
type Service struct {
	Identity    IdentityResolver
	Quota       QuotaStore
	Ledger      TransactionLedger
	Recognition RecognitionService
	Moderation  ModerationService
}

// NewService 创建 Service 聚合
// rdb 可为 nil（Redis 不可用时降级为直接读库）
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	dispatcher NotificationDispatcher,
	logger *zap.Logger,
) *Service {
	var cache SettingCache
	if rdb != nil {
		cache = rdb
	}

	identity := NewIdentityResolver(repo, cache, cfg.Kudos.SettingCacheTTL, logger)
	quota := NewQuotaStore(repo, utcNow, logger)
	ledger := NewTransactionLedger(repo, &cfg.Kudos, utcNow, logger)

	return &Service{
		Identity:    identity,
		Quota:       quota,
		Ledger:      ledger,
		Recognition: NewRecognitionService(&cfg.Kudos, repo, identity, quota, ledger, dispatcher, utcNow, logger),
		Moderation:  NewModerationService(repo, identity, ledger, utcNow, logger),
	}
}
