package dto

// ── 点赞请求 ──

// SendKudosRequest 发送点赞
type SendKudosRequest struct {
	ReceiverID string   `json:"receiver_id" binding:"required,uuid"`
	Quantity   int      `json:"quantity"`
	Message    string   `json:"message"`
	Tags       []string `json:"tags"`
}

// CommentRequest 发表评论；空白内容由业务层判定
type CommentRequest struct {
	Content string `json:"content"`
}

// ── 点赞响应 ──

// TransactionResponse 点赞流水
type TransactionResponse struct {
	TransactionID         string   `json:"transaction_id"`
	SenderID              string   `json:"sender_id"`
	ReceiverID            string   `json:"receiver_id"`
	Quantity              int      `json:"quantity"`
	Message               string   `json:"message"`
	Tags                  []string `json:"tags"`
	SentAt                string   `json:"sent_at"`
	Status                string   `json:"status"`
	IsPotentiallyCircular bool     `json:"is_potentially_circular"`
	NotificationStatus    string   `json:"notification_status"` // pending / sent / failed / skipped
	RemainingQuota        *int     `json:"remaining_quota,omitempty"`
}

// QuotaResponse 本周额度
type QuotaResponse struct {
	EmployeeID       string `json:"employee_id"`
	WeeklyQuotaTotal int    `json:"weekly_quota_total"`
	WeeklyQuotaUsed  int    `json:"weekly_quota_used"`
	Remaining        int    `json:"remaining"`
	CurrentWeekStart string `json:"current_week_start"`
	NextResetAt      string `json:"next_reset_at"`
	TZOffsetHours    int    `json:"tz_offset_hours"`
}

// ReactionResponse 回应后的计数
type ReactionResponse struct {
	TargetID string `json:"target_id"`
	Count    int64  `json:"count"`
}

// CommentResponse 评论
type CommentResponse struct {
	CommentID     string `json:"comment_id"`
	TransactionID string `json:"transaction_id"`
	AuthorID      string `json:"author_id"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
}
