// Package notify 点赞通知投递：按收件人邮箱域名匹配公司配置的渠道，
// 由注册表中的 Provider 完成实际发送。
package notify

import (
	"context"
	"strings"
	"sync"

	"kudos-engine/backend/internal/model"
)

// Message 渠道无关的通知内容
type Message struct {
	TransactionID string
	SenderID      string
	ReceiverID    string
	Quantity      int
	Text          string
	Tags          []string
}

func messageFrom(tx *model.RecognitionTransaction) Message {
	return Message{
		TransactionID: tx.TransactionID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Quantity:      tx.Quantity,
		Text:          tx.Message,
		Tags:          []string(tx.Tags),
	}
}

// Provider 一种通知渠道
type Provider interface {
	Type() string
	Deliver(ctx context.Context, cfg model.ProviderConfig, recipientEmail string, msg Message) error
}

// Registry providerType → Provider
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建注册表
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 注册渠道；同类型后注册者覆盖
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get 按类型取渠道
func (r *Registry) Get(providerType string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerType]
	return p, ok
}

// MatchProvider 取第一个启用且声明了收件人域名的渠道
func MatchProvider(providers []model.ProviderConfig, email string) (model.ProviderConfig, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return model.ProviderConfig{}, false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" {
		return model.ProviderConfig{}, false
	}
	for _, p := range providers {
		if p.Active && p.OwnsDomain(domain) {
			return p, true
		}
	}
	return model.ProviderConfig{}, false
}
