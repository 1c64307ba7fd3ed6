package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrQuotaExhausted 条件扣减未命中：剩余额度不足
var ErrQuotaExhausted = errors.New("剩余额度不足")

// Repository 所有 Repository 的聚合入口
type Repository struct {
	CompanySetting CompanySettingRepository
	Employee       EmployeeRepository
	Quota          QuotaRepository
	Transaction    TransactionRepository
	Reaction       ReactionRepository
	Comment        CommentRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		CompanySetting: NewCompanySettingRepo(db),
		Employee:       NewEmployeeRepo(db),
		Quota:          NewQuotaRepo(db),
		Transaction:    NewTransactionRepo(db),
		Reaction:       NewReactionRepo(db),
		Comment:        NewCommentRepo(db),
	}
}
