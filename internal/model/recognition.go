package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 点赞流水状态
const (
	TransactionStatusValid   = "valid"
	TransactionStatusDeleted = "deleted"
	TransactionStatusFlagged = "flagged"
)

// RecognitionTransaction 点赞流水表，对应 recognition_transactions
type RecognitionTransaction struct {
	TransactionID         string     `gorm:"type:uuid;primaryKey"                   json:"transaction_id"`
	CompanyID             string     `gorm:"type:uuid;not null"                     json:"company_id"`
	SenderID              string     `gorm:"type:uuid;not null"                     json:"sender_id"`
	ReceiverID            string     `gorm:"type:uuid;not null"                     json:"receiver_id"`
	Quantity              int        `gorm:"not null"                               json:"quantity"`
	Message               string     `gorm:"type:text;not null;default:''"          json:"message"`
	Tags                  StringSet  `gorm:"type:jsonb;not null;default:'[]'"       json:"tags"`
	SentAt                time.Time  `gorm:"not null"                               json:"sent_at"`
	Status                string     `gorm:"type:varchar(20);not null;default:'valid'" json:"status"`
	NotificationSent      bool       `gorm:"not null;default:false"                 json:"notification_sent"`
	NotificationError     *string    `gorm:"type:text"                              json:"notification_error,omitempty"`
	IsPotentiallyCircular bool       `gorm:"not null;default:false"                 json:"is_potentially_circular"`
	ModeratedBy           *string    `gorm:"type:uuid"                              json:"moderated_by,omitempty"`
	ModeratedAt           *time.Time `json:"moderated_at,omitempty"`
	Version               int        `gorm:"not null;default:1"                     json:"version"`
	Timestamps
}

// TableName 指定表名
func (RecognitionTransaction) TableName() string { return "recognition_transactions" }

// BeforeCreate 主键由应用侧生成
func (t *RecognitionTransaction) BeforeCreate(_ *gorm.DB) error {
	if t.TransactionID == "" {
		t.TransactionID = uuid.New().String()
	}
	return nil
}
