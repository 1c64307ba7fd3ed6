package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"kudos-engine/backend/internal/model"
)

// EmployeeRepository 员工目录只读访问接口
type EmployeeRepository interface {
	GetByID(ctx context.Context, id string) (*model.Employee, error)
	GetByEmail(ctx context.Context, companyID, email string) (*model.Employee, error)
}

type employeeRepo struct {
	db *gorm.DB
}

// NewEmployeeRepo 创建 EmployeeRepository 实例
func NewEmployeeRepo(db *gorm.DB) EmployeeRepository {
	return &employeeRepo{db: db}
}

func (r *employeeRepo) GetByID(ctx context.Context, id string) (*model.Employee, error) {
	var e model.Employee
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", id).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *employeeRepo) GetByEmail(ctx context.Context, companyID, email string) (*model.Employee, error) {
	var e model.Employee
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND lower(email) = ?", companyID, strings.ToLower(strings.TrimSpace(email))).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}
