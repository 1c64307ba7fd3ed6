package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
	pkgerrors "kudos-engine/backend/pkg/errors"
)

// TransactionRepository 点赞流水数据访问接口
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.RecognitionTransaction) error
	GetByID(ctx context.Context, id string) (*model.RecognitionTransaction, error)
	// FindReciprocal 查询 from→to 方向 since 之后的最近 limit 条未删除流水
	FindReciprocal(ctx context.Context, fromID, toID string, since time.Time, limit int) ([]model.RecognitionTransaction, error)
	UpdateNotification(ctx context.Context, id string, sent bool, errMsg *string) error
	// UpdateStatus 管理员审核状态变更（乐观锁）
	UpdateStatus(ctx context.Context, tx *model.RecognitionTransaction) error
	// ListForModeration 导出需审核关注的流水
	ListForModeration(ctx context.Context, companyID string, from, to time.Time) ([]model.RecognitionTransaction, error)
}

type transactionRepo struct {
	db *gorm.DB
}

// NewTransactionRepo 创建 TransactionRepository 实例
func NewTransactionRepo(db *gorm.DB) TransactionRepository {
	return &transactionRepo{db: db}
}

func (r *transactionRepo) Create(ctx context.Context, tx *model.RecognitionTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*model.RecognitionTransaction, error) {
	var tx model.RecognitionTransaction
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", id).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepo) FindReciprocal(ctx context.Context, fromID, toID string, since time.Time, limit int) ([]model.RecognitionTransaction, error) {
	var txs []model.RecognitionTransaction
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ? AND sent_at >= ? AND status <> ?",
			fromID, toID, since, model.TransactionStatusDeleted).
		Order("sent_at DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepo) UpdateNotification(ctx context.Context, id string, sent bool, errMsg *string) error {
	return r.db.WithContext(ctx).
		Model(&model.RecognitionTransaction{}).
		Where("transaction_id = ?", id).
		Updates(map[string]interface{}{
			"notification_sent":  sent,
			"notification_error": errMsg,
		}).Error
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, tx *model.RecognitionTransaction) error {
	oldVersion := tx.Version
	result := r.db.WithContext(ctx).
		Model(tx).
		Where("transaction_id = ? AND version = ?", tx.TransactionID, oldVersion).
		Updates(map[string]interface{}{
			"status":       tx.Status,
			"moderated_by": tx.ModeratedBy,
			"moderated_at": tx.ModeratedAt,
			"version":      oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	tx.Version = oldVersion + 1
	return nil
}

func (r *transactionRepo) ListForModeration(ctx context.Context, companyID string, from, to time.Time) ([]model.RecognitionTransaction, error) {
	var txs []model.RecognitionTransaction
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND sent_at >= ? AND sent_at < ?", companyID, from, to).
		Where("(status <> ? OR is_potentially_circular = ? OR notification_error IS NOT NULL)",
			model.TransactionStatusValid, true).
		Order("sent_at ASC").
		Find(&txs).Error
	return txs, err
}
