package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/repository"
)

// ── 可控时钟 ──

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ── 内存缓存 ──

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	hits    int
	fail    bool
	deleted []string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return false, errors.New("redis down")
	}
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(b, dest)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, obj interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

// ── 通知投递记录 ──

type dispatched struct {
	tx        model.RecognitionTransaction
	email     string
	providers []model.ProviderConfig
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *fakeDispatcher) Dispatch(tx model.RecognitionTransaction, email string, providers []model.ProviderConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{tx: tx, email: email, providers: providers})
}

// ── 仓储替身 ──

// domainRepo SQLite 不支持 JSONB 包含查询，用内存映射代替 FindByDomain
type domainRepo struct {
	repository.CompanySettingRepository
	domains map[string]string // domain → company_id
}

func (r *domainRepo) FindByDomain(ctx context.Context, domain string) (*model.CompanySetting, error) {
	id, ok := r.domains[strings.ToLower(domain)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.CompanySettingRepository.GetByCompany(ctx, id)
}

// failingTxRepo 写入流水总是失败
type failingTxRepo struct {
	repository.TransactionRepository
}

func (r *failingTxRepo) Create(context.Context, *model.RecognitionTransaction) error {
	return errors.New("insert failed")
}

// failingReciprocalRepo 互赞检测查询总是失败，其余操作透传
type failingReciprocalRepo struct {
	repository.TransactionRepository
}

func (r *failingReciprocalRepo) FindReciprocal(context.Context, string, string, time.Time, int) ([]model.RecognitionTransaction, error) {
	return nil, errors.New("reciprocal lookup failed")
}

// ═══════════════════════════════════════════════════════════
// 测试环境
// ═══════════════════════════════════════════════════════════

const (
	companyA = "0a000000-0000-4000-8000-00000000000a"
	companyB = "0b000000-0000-4000-8000-00000000000b"
	alice    = "00000000-0000-4000-8000-000000000001"
	bob      = "00000000-0000-4000-8000-000000000002"
	carol    = "00000000-0000-4000-8000-000000000003"
	mallory  = "00000000-0000-4000-8000-000000000004"
	ghost    = "00000000-0000-4000-8000-000000000005" // 已停用
	nobody   = "00000000-0000-4000-8000-0000000000ff" // 不存在
)

// 2026-10-14 周三 12:00 UTC
var wednesday = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db         *gorm.DB
	repo       *repository.Repository
	cfg        *config.Config
	clock      *fakeClock
	cache      *fakeCache
	dispatcher *fakeDispatcher
	svc        *Service
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.CompanySetting{},
		&model.Employee{},
		&model.UserQuota{},
		&model.RecognitionTransaction{},
		&model.Reaction{},
		&model.Comment{},
		&model.CommentReaction{},
	); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Kudos: config.KudosConfig{
			CircularWindow:           10 * time.Minute,
			CircularLookback:         5,
			MaxMessageLength:         2000,
			MaxTags:                  10,
			DefaultWeeklyQuota:       5,
			DefaultMaxPerTransaction: 5,
			SettingCacheTTL:          time.Minute,
		},
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	repo := repository.NewRepository(db)
	repo.CompanySetting = &domainRepo{
		CompanySettingRepository: repo.CompanySetting,
		domains:                  map[string]string{"acme.com": companyA, "globex.com": companyB},
	}

	env := &testEnv{
		db:         db,
		repo:       repo,
		cfg:        testConfig(),
		clock:      &fakeClock{now: wednesday},
		cache:      newFakeCache(),
		dispatcher: &fakeDispatcher{},
	}
	env.seed(t)
	env.build(repo)
	return env
}

// build 按当前仓储组装 Service（替换仓储后重新调用）
func (e *testEnv) build(repo *repository.Repository) {
	logger := zap.NewNop()
	identity := NewIdentityResolver(repo, e.cache, e.cfg.Kudos.SettingCacheTTL, logger)
	quota := NewQuotaStore(repo, e.clock.Now, logger)
	ledger := NewTransactionLedger(repo, &e.cfg.Kudos, e.clock.Now, logger)
	e.svc = &Service{
		Identity:    identity,
		Quota:       quota,
		Ledger:      ledger,
		Recognition: NewRecognitionService(&e.cfg.Kudos, repo, identity, quota, ledger, e.dispatcher, e.clock.Now, logger),
		Moderation:  NewModerationService(repo, identity, ledger, e.clock.Now, logger),
	}
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	settings := []*model.CompanySetting{
		{
			CompanyID:                 companyA,
			IsEnabled:                 true,
			DefaultWeeklyQuota:        5,
			MaxQuantityPerTransaction: 5,
			QuotaResetWeekday:         int(time.Monday),
			Providers: model.ProviderConfigs{{
				Name:         "acme-teams",
				ProviderType: model.ProviderTypeTeams,
				Domains:      []string{"acme.com"},
				Active:       true,
				Settings:     map[string]string{"tenant_id": "tenant-acme"},
			}},
			Version: 1,
		},
		{
			CompanyID:                 companyB,
			IsEnabled:                 true,
			DefaultWeeklyQuota:        5,
			MaxQuantityPerTransaction: 5,
			QuotaResetWeekday:         int(time.Monday),
			Providers:                 model.ProviderConfigs{},
			Version:                   1,
		},
	}
	for _, s := range settings {
		if err := e.repo.CompanySetting.Create(ctx, s); err != nil {
			t.Fatalf("创建公司配置失败: %v", err)
		}
	}

	employees := []*model.Employee{
		{EmployeeID: alice, CompanyID: companyA, Name: "Alice", Email: "alice@acme.com", IsActive: true},
		{EmployeeID: bob, CompanyID: companyA, Name: "Bob", Email: "bob@acme.com", IsActive: true},
		{EmployeeID: carol, CompanyID: companyA, Name: "Carol", Email: "carol@acme.com", IsActive: true},
		{EmployeeID: ghost, CompanyID: companyA, Name: "Ghost", Email: "ghost@acme.com", IsActive: false},
		{EmployeeID: mallory, CompanyID: companyB, Name: "Mallory", Email: "mallory@globex.com", IsActive: true},
	}
	for _, emp := range employees {
		if err := e.db.Create(emp).Error; err != nil {
			t.Fatalf("创建员工失败: %v", err)
		}
	}
}

// identity 直接构造解析结果，绕过凭证
func (e *testEnv) identity(t *testing.T, employeeID string, offset int) *ResolvedIdentity {
	t.Helper()
	ctx := context.Background()
	emp, err := e.repo.Employee.GetByID(ctx, employeeID)
	if err != nil {
		t.Fatalf("查询员工失败: %v", err)
	}
	setting, err := e.repo.CompanySetting.GetByCompany(ctx, emp.CompanyID)
	if err != nil {
		t.Fatalf("查询公司配置失败: %v", err)
	}
	return &ResolvedIdentity{Employee: emp, Setting: setting, OffsetHours: offset, Role: "member"}
}

func (e *testEnv) usedQuota(t *testing.T, employeeID string) int {
	t.Helper()
	q, err := e.repo.Quota.Get(context.Background(), employeeID)
	if err != nil {
		t.Fatalf("查询额度失败: %v", err)
	}
	return q.WeeklyQuotaUsed
}
