package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kudos-engine/backend/internal/model"
)

// ErrMissingTenant 渠道配置缺少 tenant_id
var ErrMissingTenant = errors.New("provider settings missing tenant_id")

// Activity 发往 Teams 活动流的卡片
type Activity struct {
	Topic         string   `json:"topic"`
	Text          string   `json:"text"`
	PreviewText   string   `json:"preview_text"`
	TransactionID string   `json:"transaction_id"`
	Quantity      int      `json:"quantity"`
	Tags          []string `json:"tags,omitempty"`
}

// Gateway Teams 侧的三步操作
type Gateway interface {
	ResolveUser(ctx context.Context, tenantID, email string) (string, error)
	EnsureInstalled(ctx context.Context, tenantID, userID string) error
	SendActivity(ctx context.Context, tenantID, userID string, activity Activity) error
}

// TeamsProvider providerType = "teams"
type TeamsProvider struct {
	gw     Gateway
	logger *zap.Logger

	group     singleflight.Group
	mu        sync.Mutex
	installed map[string]struct{} // tenant/user
}

// NewTeamsProvider 创建 Teams 渠道
func NewTeamsProvider(gw Gateway, logger *zap.Logger) *TeamsProvider {
	return &TeamsProvider{gw: gw, logger: logger, installed: make(map[string]struct{})}
}

// Type 渠道类型
func (p *TeamsProvider) Type() string { return model.ProviderTypeTeams }

// Deliver 解析用户 → 确保已安装应用 → 发送活动
func (p *TeamsProvider) Deliver(ctx context.Context, cfg model.ProviderConfig, recipientEmail string, msg Message) error {
	tenantID := cfg.TenantID()
	if tenantID == "" {
		return ErrMissingTenant
	}

	userID, err := p.gw.ResolveUser(ctx, tenantID, recipientEmail)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	if err := p.ensureInstalled(ctx, tenantID, userID); err != nil {
		return fmt.Errorf("install app: %w", err)
	}

	if err := p.gw.SendActivity(ctx, tenantID, userID, toActivity(msg)); err != nil {
		return fmt.Errorf("send activity: %w", err)
	}

	p.logger.Debug("Teams 通知已发送",
		zap.String("transaction_id", msg.TransactionID),
		zap.String("tenant_id", tenantID))
	return nil
}

func (p *TeamsProvider) ensureInstalled(ctx context.Context, tenantID, userID string) error {
	key := tenantID + "/" + userID
	if p.isInstalled(key) {
		return nil
	}

	// 同一收件人的并发首投只触发一次安装
	_, err, _ := p.group.Do(key, func() (interface{}, error) {
		if p.isInstalled(key) {
			return nil, nil
		}
		if err := p.gw.EnsureInstalled(ctx, tenantID, userID); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.installed[key] = struct{}{}
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

func (p *TeamsProvider) isInstalled(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.installed[key]
	return ok
}

func toActivity(msg Message) Activity {
	unit := "kudo"
	if msg.Quantity > 1 {
		unit = "kudos"
	}
	preview := fmt.Sprintf("You received %d %s", msg.Quantity, unit)
	text := preview
	if m := strings.TrimSpace(msg.Text); m != "" {
		text = preview + ": " + m
	}
	return Activity{
		Topic:         "Kudos",
		Text:          text,
		PreviewText:   preview,
		TransactionID: msg.TransactionID,
		Quantity:      msg.Quantity,
		Tags:          msg.Tags,
	}
}
