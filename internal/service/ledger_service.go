package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
	pkgerrors "kudos-engine/backend/pkg/errors"
	applogger "kudos-engine/backend/pkg/logger"
	"kudos-engine/backend/pkg/metrics"
)

// NewTransaction 写入流水所需字段（已通过校验）
type NewTransaction struct {
	CompanyID  string
	SenderID   string
	ReceiverID string
	Quantity   int
	Message    string
	Tags       model.StringSet
}

// ReactionSummary 回应后的计数
type ReactionSummary struct {
	TargetID string
	Count    int64
}

// TransactionLedger 点赞流水与社交互动
type TransactionLedger interface {
	CreateTransaction(ctx context.Context, in *NewTransaction) (*model.RecognitionTransaction, error)
	GetTransaction(ctx context.Context, id string) (*model.RecognitionTransaction, error)
	React(ctx context.Context, transactionID, reactorID string) (*ReactionSummary, error)
	ReactToComment(ctx context.Context, commentID, reactorID string) (*ReactionSummary, error)
	Comment(ctx context.Context, transactionID, authorID, text string) (*model.Comment, error)
	GetComment(ctx context.Context, commentID string) (*model.Comment, error)
	ListComments(ctx context.Context, transactionID string) ([]model.Comment, error)
	RecordNotification(ctx context.Context, transactionID string, sent bool, errMsg *string) error
	// SetStatus 审核状态变更；目标状态与当前相同返回 ErrInvalidStatusTransition
	SetStatus(ctx context.Context, transactionID, status, actorID string) (*model.RecognitionTransaction, error)
}

type transactionLedger struct {
	repo   *repository.Repository
	cfg    *config.KudosConfig
	now    Clock
	logger *zap.Logger
}

// NewTransactionLedger 创建 TransactionLedger 实例
func NewTransactionLedger(repo *repository.Repository, cfg *config.KudosConfig, now Clock, logger *zap.Logger) TransactionLedger {
	return &transactionLedger{repo: repo, cfg: cfg, now: now, logger: logger}
}

// ────────────────────── 流水 ──────────────────────

func (l *transactionLedger) CreateTransaction(ctx context.Context, in *NewTransaction) (*model.RecognitionTransaction, error) {
	now := l.now()

	circular := l.isCircular(ctx, in.SenderID, in.ReceiverID, now)

	tags := in.Tags
	if tags == nil {
		tags = model.StringSet{}
	}
	tx := &model.RecognitionTransaction{
		CompanyID:             in.CompanyID,
		SenderID:              in.SenderID,
		ReceiverID:            in.ReceiverID,
		Quantity:              in.Quantity,
		Message:               in.Message,
		Tags:                  tags,
		SentAt:                now,
		Status:                model.TransactionStatusValid,
		IsPotentiallyCircular: circular,
		Version:               1,
	}
	if err := l.repo.Transaction.Create(ctx, tx); err != nil {
		l.log(ctx).Error("写入点赞流水失败",
			zap.String("sender_id", in.SenderID),
			zap.String("receiver_id", in.ReceiverID),
			zap.Error(err))
		return nil, err
	}

	if circular {
		metrics.CircularFlagged.Inc()
		l.log(ctx).Info("疑似互赞",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("sender_id", in.SenderID),
			zap.String("receiver_id", in.ReceiverID))
	}
	return tx, nil
}

// isCircular 窗口内是否存在 receiver→sender 的反向流水（仅检测两跳）
// 查询失败只记日志并按非互赞处理，标记仅供审计，不阻断发送
func (l *transactionLedger) isCircular(ctx context.Context, senderID, receiverID string, now time.Time) bool {
	since := now.Add(-l.cfg.CircularWindow)
	hits, err := l.repo.Transaction.FindReciprocal(ctx, receiverID, senderID, since, l.cfg.CircularLookback)
	if err != nil {
		l.log(ctx).Warn("互赞检测查询失败，按非互赞处理",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.Error(err))
		return false
	}
	return len(hits) > 0
}

func (l *transactionLedger) GetTransaction(ctx context.Context, id string) (*model.RecognitionTransaction, error) {
	if !validID(id) {
		return nil, ErrTransactionNotFound
	}
	tx, err := l.repo.Transaction.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		l.log(ctx).Error("查询点赞流水失败", zap.String("transaction_id", id), zap.Error(err))
		return nil, err
	}
	return tx, nil
}

// visible 已删除的流水对普通用户不可见
func (l *transactionLedger) visible(ctx context.Context, id string) (*model.RecognitionTransaction, error) {
	tx, err := l.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status == model.TransactionStatusDeleted {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (l *transactionLedger) RecordNotification(ctx context.Context, transactionID string, sent bool, errMsg *string) error {
	if err := l.repo.Transaction.UpdateNotification(ctx, transactionID, sent, errMsg); err != nil {
		l.log(ctx).Error("记录通知结果失败", zap.String("transaction_id", transactionID), zap.Error(err))
		return err
	}
	return nil
}

// ────────────────────── 回应 ──────────────────────

func (l *transactionLedger) React(ctx context.Context, transactionID, reactorID string) (*ReactionSummary, error) {
	if _, err := l.visible(ctx, transactionID); err != nil {
		return nil, err
	}

	err := l.repo.Reaction.Create(ctx, &model.Reaction{
		TransactionID: transactionID,
		SenderID:      reactorID,
		CreatedAt:     l.now(),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyReacted
		}
		l.log(ctx).Error("写入回应失败", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, err
	}

	count, err := l.repo.Reaction.CountByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &ReactionSummary{TargetID: transactionID, Count: count}, nil
}

func (l *transactionLedger) ReactToComment(ctx context.Context, commentID, reactorID string) (*ReactionSummary, error) {
	comment, err := l.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if _, err := l.visible(ctx, comment.TransactionID); err != nil {
		return nil, err
	}

	err = l.repo.Reaction.CreateForComment(ctx, &model.CommentReaction{
		CommentID: commentID,
		SenderID:  reactorID,
		CreatedAt: l.now(),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyReacted
		}
		l.log(ctx).Error("写入评论回应失败", zap.String("comment_id", commentID), zap.Error(err))
		return nil, err
	}

	count, err := l.repo.Reaction.CountByComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return &ReactionSummary{TargetID: commentID, Count: count}, nil
}

// ────────────────────── 评论 ──────────────────────

func (l *transactionLedger) Comment(ctx context.Context, transactionID, authorID, text string) (*model.Comment, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, ErrEmptyComment
	}
	if utf8.RuneCountInString(content) > l.cfg.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if _, err := l.visible(ctx, transactionID); err != nil {
		return nil, err
	}

	comment := &model.Comment{
		TransactionID: transactionID,
		AuthorID:      authorID,
		Content:       content,
		CreatedAt:     l.now(),
	}
	if err := l.repo.Comment.Create(ctx, comment); err != nil {
		l.log(ctx).Error("写入评论失败", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, err
	}
	return comment, nil
}

func (l *transactionLedger) GetComment(ctx context.Context, commentID string) (*model.Comment, error) {
	if !validID(commentID) {
		return nil, ErrCommentNotFound
	}
	comment, err := l.repo.Comment.GetByID(ctx, commentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	return comment, nil
}

func (l *transactionLedger) ListComments(ctx context.Context, transactionID string) ([]model.Comment, error) {
	if _, err := l.visible(ctx, transactionID); err != nil {
		return nil, err
	}
	return l.repo.Comment.ListByTransaction(ctx, transactionID)
}

// ────────────────────── 审核 ──────────────────────

func (l *transactionLedger) SetStatus(ctx context.Context, transactionID, status, actorID string) (*model.RecognitionTransaction, error) {
	switch status {
	case model.TransactionStatusValid, model.TransactionStatusDeleted, model.TransactionStatusFlagged:
	default:
		return nil, ErrInvalidStatus
	}

	tx, err := l.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status == status {
		return nil, ErrInvalidStatusTransition
	}

	now := l.now()
	tx.Status = status
	tx.ModeratedBy = &actorID
	tx.ModeratedAt = &now
	if err := l.repo.Transaction.UpdateStatus(ctx, tx); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			l.log(ctx).Error("更新流水状态失败", zap.String("transaction_id", transactionID), zap.Error(err))
		}
		return nil, err
	}

	l.log(ctx).Info("流水状态变更",
		zap.String("transaction_id", transactionID),
		zap.String("status", status),
		zap.String("actor_id", actorID))
	return tx, nil
}

// log 优先使用请求级 logger（携带 request_id）
func (l *transactionLedger) log(ctx context.Context) *zap.Logger {
	return applogger.FromContext(ctx, l.logger)
}
