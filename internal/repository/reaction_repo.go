package repository

import (
	"context"

	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
)

// ReactionRepository 回应数据访问接口
// 重复回应依赖唯一约束拦截，返回 gorm.ErrDuplicatedKey
type ReactionRepository interface {
	Create(ctx context.Context, reaction *model.Reaction) error
	CountByTransaction(ctx context.Context, transactionID string) (int64, error)
	CreateForComment(ctx context.Context, reaction *model.CommentReaction) error
	CountByComment(ctx context.Context, commentID string) (int64, error)
}

type reactionRepo struct {
	db *gorm.DB
}

// NewReactionRepo 创建 ReactionRepository 实例
func NewReactionRepo(db *gorm.DB) ReactionRepository {
	return &reactionRepo{db: db}
}

func (r *reactionRepo) Create(ctx context.Context, reaction *model.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *reactionRepo) CountByTransaction(ctx context.Context, transactionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Reaction{}).
		Where("transaction_id = ?", transactionID).
		Count(&n).Error
	return n, err
}

func (r *reactionRepo) CreateForComment(ctx context.Context, reaction *model.CommentReaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *reactionRepo) CountByComment(ctx context.Context, commentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.CommentReaction{}).
		Where("comment_id = ?", commentID).
		Count(&n).Error
	return n, err
}
