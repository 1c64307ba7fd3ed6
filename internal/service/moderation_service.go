package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kudos-engine/backend/internal/dto"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
)

// ErrExportGenerateFail 生成导出文件失败
var ErrExportGenerateFail = errors.New("生成导出文件失败")

// ModerationService 管理员审核与公司配置
type ModerationService interface {
	SoftDelete(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error)
	Flag(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error)
	Restore(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error)
	// ExportModeration 导出区间内需关注的流水（已删除/已标记/疑似互赞/通知失败）
	ExportModeration(ctx context.Context, ident *ResolvedIdentity, from, to time.Time) (*bytes.Buffer, string, error)
	GetSetting(ctx context.Context, ident *ResolvedIdentity) (*dto.CompanySettingResponse, error)
	UpdateSetting(ctx context.Context, ident *ResolvedIdentity, req *dto.UpdateCompanySettingRequest) (*dto.CompanySettingResponse, error)
}

type moderationService struct {
	repo     *repository.Repository
	identity IdentityResolver
	ledger   TransactionLedger
	now      Clock
	logger   *zap.Logger
}

// NewModerationService 创建 ModerationService 实例
func NewModerationService(repo *repository.Repository, identity IdentityResolver, ledger TransactionLedger, now Clock, logger *zap.Logger) ModerationService {
	return &moderationService{repo: repo, identity: identity, ledger: ledger, now: now, logger: logger}
}

// ────────────────────── 状态变更 ──────────────────────

func (s *moderationService) SoftDelete(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error) {
	return s.transition(ctx, ident, transactionID, model.TransactionStatusDeleted)
}

func (s *moderationService) Flag(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error) {
	return s.transition(ctx, ident, transactionID, model.TransactionStatusFlagged)
}

func (s *moderationService) Restore(ctx context.Context, ident *ResolvedIdentity, transactionID string) (*dto.TransactionResponse, error) {
	return s.transition(ctx, ident, transactionID, model.TransactionStatusValid)
}

func (s *moderationService) transition(ctx context.Context, ident *ResolvedIdentity, transactionID, status string) (*dto.TransactionResponse, error) {
	tx, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.CompanyID != ident.CompanyID() {
		return nil, ErrTransactionNotFound
	}

	tx, err = s.ledger.SetStatus(ctx, transactionID, status, ident.EmployeeID())
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(tx), nil
}

// ────────────────────── 导出 ──────────────────────

var moderationHeaders = []string{"流水ID", "发送人", "接收人", "数量", "留言", "标签", "发送时间", "状态", "疑似互赞", "通知已送达", "通知错误", "审核人", "审核时间"}

func (s *moderationService) ExportModeration(ctx context.Context, ident *ResolvedIdentity, from, to time.Time) (*bytes.Buffer, string, error) {
	txs, err := s.repo.Transaction.ListForModeration(ctx, ident.CompanyID(), from, to)
	if err != nil {
		s.logger.Error("查询审核流水失败", zap.String("company_id", ident.CompanyID()), zap.Error(err))
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "审核"
	idx, _ := f.NewSheet(sheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	f.SetColWidth(sheet, "A", "C", 38)
	f.SetColWidth(sheet, "E", "E", 48)
	f.SetColWidth(sheet, "G", "G", 22)
	f.SetColWidth(sheet, "K", "K", 36)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	for i, h := range moderationHeaders {
		c, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, c, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(moderationHeaders), 1)
	f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i := range txs {
		tx := &txs[i]
		row := []interface{}{
			tx.TransactionID,
			tx.SenderID,
			tx.ReceiverID,
			tx.Quantity,
			tx.Message,
			fmt.Sprintf("%v", []string(tx.Tags)),
			tx.SentAt.UTC().Format(time.RFC3339),
			tx.Status,
			yesNo(tx.IsPotentiallyCircular),
			yesNo(tx.NotificationSent),
			deref(tx.NotificationError),
			deref(tx.ModeratedBy),
			formatTimePtr(tx.ModeratedAt),
		}
		start, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, start, &row); err != nil {
			s.logger.Error("写入导出行失败", zap.Error(err))
			return nil, "", ErrExportGenerateFail
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("kudos_moderation_%s.xlsx", s.now().UTC().Format("20060102"))
	return buf, filename, nil
}

// normalizeDomains 小写去空白去重；域名反查依赖存储值为小写
func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ────────────────────── 公司配置 ──────────────────────

func (s *moderationService) GetSetting(ctx context.Context, ident *ResolvedIdentity) (*dto.CompanySettingResponse, error) {
	setting, err := s.repo.CompanySetting.GetByCompany(ctx, ident.CompanyID())
	if err != nil {
		return nil, s.settingErr(err)
	}
	return toCompanySettingResponse(setting), nil
}

func (s *moderationService) UpdateSetting(ctx context.Context, ident *ResolvedIdentity, req *dto.UpdateCompanySettingRequest) (*dto.CompanySettingResponse, error) {
	setting, err := s.repo.CompanySetting.GetByCompany(ctx, ident.CompanyID())
	if err != nil {
		return nil, s.settingErr(err)
	}
	before := *setting

	if req.IsEnabled != nil {
		setting.IsEnabled = *req.IsEnabled
	}
	if req.DefaultWeeklyQuota != nil {
		setting.DefaultWeeklyQuota = *req.DefaultWeeklyQuota
	}
	if req.MaxQuantityPerTransaction != nil {
		setting.MaxQuantityPerTransaction = *req.MaxQuantityPerTransaction
	}
	if req.QuotaResetWeekday != nil {
		setting.QuotaResetWeekday = *req.QuotaResetWeekday
	}
	if req.Providers != nil {
		providers := make(model.ProviderConfigs, 0, len(*req.Providers))
		for _, p := range *req.Providers {
			providers = append(providers, model.ProviderConfig{
				Name:         p.Name,
				ProviderType: p.ProviderType,
				Domains:      normalizeDomains(p.Domains),
				Active:       p.Active,
				Settings:     p.Settings,
			})
		}
		setting.Providers = providers
	}

	callerID := ident.EmployeeID()
	setting.UpdatedBy = &callerID
	if err := s.repo.CompanySetting.Update(ctx, setting); err != nil {
		s.logger.Error("更新公司配置失败", zap.String("company_id", setting.CompanyID), zap.Error(err))
		return nil, err
	}

	// 旧域名与新域名的缓存都要失效
	s.identity.Invalidate(ctx, &before)
	s.identity.Invalidate(ctx, setting)
	return toCompanySettingResponse(setting), nil
}

func (s *moderationService) settingErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCompanySettingNotFound
	}
	s.logger.Error("查询公司配置失败", zap.Error(err))
	return err
}

func toCompanySettingResponse(c *model.CompanySetting) *dto.CompanySettingResponse {
	providers := make([]dto.ProviderConfigItem, 0, len(c.Providers))
	for _, p := range c.Providers {
		providers = append(providers, dto.ProviderConfigItem{
			Name:         p.Name,
			ProviderType: p.ProviderType,
			Domains:      p.Domains,
			Active:       p.Active,
			Settings:     p.Settings,
		})
	}
	return &dto.CompanySettingResponse{
		CompanyID:                 c.CompanyID,
		IsEnabled:                 c.IsEnabled,
		DefaultWeeklyQuota:        c.DefaultWeeklyQuota,
		MaxQuantityPerTransaction: c.MaxQuantityPerTransaction,
		QuotaResetWeekday:         c.QuotaResetWeekday,
		Providers:                 providers,
		UpdatedAt:                 c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
