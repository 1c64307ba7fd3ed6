package model

// Employee 员工目录，对应 employees（由组织服务维护，本服务只读）
type Employee struct {
	EmployeeID string `gorm:"type:uuid;primaryKey"        json:"employee_id"`
	CompanyID  string `gorm:"type:uuid;not null;index"    json:"company_id"`
	Name       string `gorm:"type:varchar(100);not null"  json:"name"`
	Email      string `gorm:"type:varchar(255);not null"  json:"email"`
	IsActive   bool   `gorm:"not null"                    json:"is_active"`
	Timestamps
}

// TableName 指定表名
func (Employee) TableName() string { return "employees" }
