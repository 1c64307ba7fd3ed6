package service

import "errors"

// ── 校验类错误（同步拒绝，不重试） ──

var (
	ErrSelfRecognition    = errors.New("不能给自己点赞")
	ErrCrossTenant        = errors.New("不能给其他公司的员工点赞")
	ErrQuantityOutOfRange = errors.New("点赞数量超出允许范围")
	ErrNotEnabled         = errors.New("公司未开启点赞功能")
	ErrEmptyComment       = errors.New("评论内容不能为空")
	ErrMessageTooLong     = errors.New("内容超出长度限制")
)

// ── 资源竞争类错误 ──

var (
	ErrInsufficientQuota = errors.New("本周剩余额度不足")
	ErrAlreadyReacted    = errors.New("已经回应过")
)

// ── 身份类错误 ──

var (
	ErrIdentityNotFound  = errors.New("身份无法识别")
	ErrUnsupportedScheme = errors.New("不支持的凭证类型")
	ErrReceiverNotFound  = errors.New("接收人不存在")
)

// ── 流水 / 审核 ──

var (
	ErrTransactionNotFound     = errors.New("点赞记录不存在")
	ErrCommentNotFound         = errors.New("评论不存在")
	ErrInvalidStatusTransition = errors.New("状态无需变更")
	ErrInvalidStatus           = errors.New("无效的状态")
	ErrCompanySettingNotFound  = errors.New("公司配置不存在")
)
