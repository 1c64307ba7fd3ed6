package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/dto"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
	applogger "kudos-engine/backend/pkg/logger"
	"kudos-engine/backend/pkg/metrics"
	"kudos-engine/backend/pkg/weekclock"
)

// NotificationDispatcher 异步通知投递（不得阻塞调用方）
type NotificationDispatcher interface {
	Dispatch(tx model.RecognitionTransaction, recipientEmail string, providers []model.ProviderConfig)
}

// 通知状态
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationSkipped = "skipped"
)

// RecognitionService 点赞业务编排
type RecognitionService interface {
	Send(ctx context.Context, ident *ResolvedIdentity, req *dto.SendKudosRequest) (*dto.TransactionResponse, error)
	React(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.ReactionResponse, error)
	ReactToComment(ctx context.Context, ident *ResolvedIdentity, commentID string) (*dto.ReactionResponse, error)
	Comment(ctx context.Context, ident *ResolvedIdentity, transactionID string, req *dto.CommentRequest) (*dto.CommentResponse, error)
	ListComments(ctx context.Context, ident *ResolvedIdentity, transactionID string) ([]dto.CommentResponse, error)
	GetQuota(ctx context.Context, ident *ResolvedIdentity) (*dto.QuotaResponse, error)
}

type recognitionService struct {
	cfg        *config.KudosConfig
	repo       *repository.Repository
	identity   IdentityResolver
	quota      QuotaStore
	ledger     TransactionLedger
	dispatcher NotificationDispatcher
	now        Clock
	logger     *zap.Logger
}

// NewRecognitionService 创建 RecognitionService；dispatcher 为 nil 时不发送通知
func NewRecognitionService(
	cfg *config.KudosConfig,
	repo *repository.Repository,
	identity IdentityResolver,
	quota QuotaStore,
	ledger TransactionLedger,
	dispatcher NotificationDispatcher,
	now Clock,
	logger *zap.Logger,
) RecognitionService {
	return &recognitionService{
		cfg:        cfg,
		repo:       repo,
		identity:   identity,
		quota:      quota,
		ledger:     ledger,
		dispatcher: dispatcher,
		now:        now,
		logger:     logger,
	}
}

// ────────────────────── Send ──────────────────────

func (s *recognitionService) Send(ctx context.Context, ident *ResolvedIdentity, req *dto.SendKudosRequest) (*dto.TransactionResponse, error) {
	resp, err := s.send(ctx, ident, req)
	switch {
	case err == nil:
		metrics.KudosSent.WithLabelValues("ok").Inc()
	case isRejection(err):
		metrics.KudosSent.WithLabelValues("rejected").Inc()
	default:
		metrics.KudosSent.WithLabelValues("error").Inc()
	}
	return resp, err
}

func (s *recognitionService) send(ctx context.Context, ident *ResolvedIdentity, req *dto.SendKudosRequest) (*dto.TransactionResponse, error) {
	senderID := ident.EmployeeID()
	if req.ReceiverID == senderID {
		return nil, ErrSelfRecognition
	}
	if !validID(req.ReceiverID) {
		return nil, ErrReceiverNotFound
	}

	receiver, err := s.repo.Employee.GetByID(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiverNotFound
		}
		s.log(ctx).Error("查询接收人失败", zap.String("receiver_id", req.ReceiverID), zap.Error(err))
		return nil, err
	}
	if receiver.CompanyID != ident.CompanyID() {
		return nil, ErrCrossTenant
	}
	if !receiver.IsActive {
		return nil, ErrReceiverNotFound
	}

	if req.Quantity < 1 || req.Quantity > ident.Setting.MaxQuantityPerTransaction {
		return nil, ErrQuantityOutOfRange
	}
	if utf8.RuneCountInString(req.Message) > s.cfg.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	tags := model.NormalizeTags(req.Tags, s.cfg.MaxTags)

	// 额度：懒创建 → 跨周重置 → 原子扣减
	weekStart := weekclock.WeekStartOn(ident.OffsetHours, ident.Setting.ResetWeekday(), s.now())
	quota, err := s.quota.GetOrCreate(ctx, ident, weekStart)
	if err != nil {
		return nil, err
	}
	if quota, err = s.quota.EnsureCurrentWeek(ctx, quota, weekStart); err != nil {
		return nil, err
	}
	if quota, err = s.quota.Consume(ctx, quota, req.Quantity); err != nil {
		return nil, err
	}

	tx, err := s.ledger.CreateTransaction(ctx, &NewTransaction{
		CompanyID:  ident.CompanyID(),
		SenderID:   senderID,
		ReceiverID: receiver.EmployeeID,
		Quantity:   req.Quantity,
		Message:    req.Message,
		Tags:       tags,
	})
	if err != nil {
		if rerr := s.quota.Refund(context.WithoutCancel(ctx), senderID, req.Quantity); rerr != nil {
			s.log(ctx).Error("流水失败后回补额度失败",
				zap.String("employee_id", senderID),
				zap.Int("quantity", req.Quantity),
				zap.Error(rerr))
		}
		return nil, err
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(*tx, receiver.Email, ident.Setting.Providers)
	}

	remaining := quota.Remaining()
	resp := toTransactionResponse(tx)
	resp.NotificationStatus = NotificationPending
	resp.RemainingQuota = &remaining
	return resp, nil
}

// ────────────────────── 回应 / 评论 ──────────────────────

func (s *recognitionService) React(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.ReactionResponse, error) {
	if err := s.ownTransaction(ctx, ident, transactionID); err != nil {
		return nil, err
	}
	sum, err := s.ledger.React(ctx, transactionID, ident.EmployeeID())
	if err != nil {
		return nil, err
	}
	return &dto.ReactionResponse{TargetID: sum.TargetID, Count: sum.Count}, nil
}

func (s *recognitionService) ReactToComment(ctx context.Context, ident *ResolvedIdentity, commentID string) (*dto.ReactionResponse, error) {
	comment, err := s.ledger.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := s.ownTransaction(ctx, ident, comment.TransactionID); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	sum, err := s.ledger.ReactToComment(ctx, commentID, ident.EmployeeID())
	if err != nil {
		return nil, err
	}
	return &dto.ReactionResponse{TargetID: sum.TargetID, Count: sum.Count}, nil
}

func (s *recognitionService) Comment(ctx context.Context, ident *ResolvedIdentity, transactionID string, req *dto.CommentRequest) (*dto.CommentResponse, error) {
	if err := s.ownTransaction(ctx, ident, transactionID); err != nil {
		return nil, err
	}
	c, err := s.ledger.Comment(ctx, transactionID, ident.EmployeeID(), req.Content)
	if err != nil {
		return nil, err
	}
	resp := toCommentResponse(c)
	return &resp, nil
}

func (s *recognitionService) ListComments(ctx context.Context, ident *ResolvedIdentity, transactionID string) ([]dto.CommentResponse, error) {
	if err := s.ownTransaction(ctx, ident, transactionID); err != nil {
		return nil, err
	}
	comments, err := s.ledger.ListComments(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	list := make([]dto.CommentResponse, 0, len(comments))
	for i := range comments {
		list = append(list, toCommentResponse(&comments[i]))
	}
	return list, nil
}

// ownTransaction 其他公司的流水按不存在处理
func (s *recognitionService) ownTransaction(ctx context.Context, ident *ResolvedIdentity, transactionID string) error {
	tx, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.CompanyID != ident.CompanyID() {
		return ErrTransactionNotFound
	}
	return nil
}

// ────────────────────── 额度 ──────────────────────

func (s *recognitionService) GetQuota(ctx context.Context, ident *ResolvedIdentity) (*dto.QuotaResponse, error) {
	q, err := s.quota.Get(ctx, ident)
	if err != nil {
		return nil, err
	}
	next := weekclock.NextWeekStart(ident.OffsetHours, ident.Setting.ResetWeekday(), s.now())
	return &dto.QuotaResponse{
		EmployeeID:       q.EmployeeID,
		WeeklyQuotaTotal: q.WeeklyQuotaTotal,
		WeeklyQuotaUsed:  q.WeeklyQuotaUsed,
		Remaining:        q.Remaining(),
		CurrentWeekStart: q.CurrentWeekStart.UTC().Format(time.RFC3339),
		NextResetAt:      next.UTC().Format(time.RFC3339),
		TZOffsetHours:    q.TZOffsetHours,
	}, nil
}

// ────────────────────── 转换 ──────────────────────

func toTransactionResponse(tx *model.RecognitionTransaction) *dto.TransactionResponse {
	tags := []string(tx.Tags)
	if tags == nil {
		tags = []string{}
	}
	return &dto.TransactionResponse{
		TransactionID:         tx.TransactionID,
		SenderID:              tx.SenderID,
		ReceiverID:            tx.ReceiverID,
		Quantity:              tx.Quantity,
		Message:               tx.Message,
		Tags:                  tags,
		SentAt:                tx.SentAt.UTC().Format(time.RFC3339),
		Status:                tx.Status,
		IsPotentiallyCircular: tx.IsPotentiallyCircular,
		NotificationStatus:    notificationStatus(tx),
	}
}

func notificationStatus(tx *model.RecognitionTransaction) string {
	switch {
	case tx.NotificationSent:
		return NotificationSent
	case tx.NotificationError != nil:
		return NotificationFailed
	default:
		return NotificationSkipped
	}
}

func toCommentResponse(c *model.Comment) dto.CommentResponse {
	return dto.CommentResponse{
		CommentID:     c.CommentID,
		TransactionID: c.TransactionID,
		AuthorID:      c.AuthorID,
		Content:       c.Content,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// isRejection 业务校验类错误（非系统故障）
func isRejection(err error) bool {
	for _, target := range []error{
		ErrSelfRecognition, ErrCrossTenant, ErrQuantityOutOfRange, ErrMessageTooLong,
		ErrInsufficientQuota, ErrReceiverNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *recognitionService) log(ctx context.Context) *zap.Logger {
	return applogger.FromContext(ctx, s.logger)
}
