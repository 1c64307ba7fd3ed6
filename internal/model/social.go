package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reaction 点赞流水的回应，对应 reactions，(transaction_id, sender_id) 唯一
type Reaction struct {
	ReactionID    string    `gorm:"type:uuid;primaryKey"                                      json:"reaction_id"`
	TransactionID string    `gorm:"type:uuid;not null;uniqueIndex:uk_reactions_tx_sender"     json:"transaction_id"`
	SenderID      string    `gorm:"type:uuid;not null;uniqueIndex:uk_reactions_tx_sender"     json:"sender_id"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"                        json:"created_at"`
}

// TableName 指定表名
func (Reaction) TableName() string { return "reactions" }

// BeforeCreate 主键由应用侧生成
func (r *Reaction) BeforeCreate(_ *gorm.DB) error {
	if r.ReactionID == "" {
		r.ReactionID = uuid.New().String()
	}
	return nil
}

// Comment 评论，对应 comments（扁平结构，不支持回复）
type Comment struct {
	CommentID     string    `gorm:"type:uuid;primaryKey"               json:"comment_id"`
	TransactionID string    `gorm:"type:uuid;not null;index"           json:"transaction_id"`
	AuthorID      string    `gorm:"type:uuid;not null"                 json:"author_id"`
	Content       string    `gorm:"type:text;not null"                 json:"content"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (Comment) TableName() string { return "comments" }

// BeforeCreate 主键由应用侧生成
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.CommentID == "" {
		c.CommentID = uuid.New().String()
	}
	return nil
}

// CommentReaction 评论回应，对应 comment_reactions，(comment_id, sender_id) 唯一
type CommentReaction struct {
	CommentReactionID string    `gorm:"type:uuid;primaryKey"                                                 json:"comment_reaction_id"`
	CommentID         string    `gorm:"type:uuid;not null;uniqueIndex:uk_comment_reactions_comment_sender"   json:"comment_id"`
	SenderID          string    `gorm:"type:uuid;not null;uniqueIndex:uk_comment_reactions_comment_sender"   json:"sender_id"`
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"                                   json:"created_at"`
}

// TableName 指定表名
func (CommentReaction) TableName() string { return "comment_reactions" }

// BeforeCreate 主键由应用侧生成
func (r *CommentReaction) BeforeCreate(_ *gorm.DB) error {
	if r.CommentReactionID == "" {
		r.CommentReactionID = uuid.New().String()
	}
	return nil
}
