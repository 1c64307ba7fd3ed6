package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kudos-engine/backend/config"
)

var (
	ErrTokenExpired = errors.New("token 已过期")
	ErrTokenInvalid = errors.New("token 无效")
)

// 凭证方案（由 scheme 声明区分）
const (
	SchemeDirect    = "direct"    // 直连身份：携带 employee_id + company_id
	SchemeFederated = "federated" // 联邦身份：仅携带 email + tenant_id
)

// Claims 自定义 JWT 声明
type Claims struct {
	Scheme     string `json:"scheme"`
	EmployeeID string `json:"employee_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	Email      string `json:"email,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	Role       string `json:"role"`
	jwtv5.RegisteredClaims
}

// Manager JWT 管理器
// 签发仅用于测试与本地联调，生产凭证由外部认证层签发
type Manager struct {
	secret          []byte
	federatedSecret []byte
	issuer          string
	accessTokenTTL  time.Duration
}

// NewManager 创建 JWT 管理器
func NewManager(cfg *config.AuthConfig) *Manager {
	fed := cfg.FederatedSecret
	if fed == "" {
		fed = cfg.JWTSecret
	}
	return &Manager{
		secret:          []byte(cfg.JWTSecret),
		federatedSecret: []byte(fed),
		issuer:          cfg.Issuer,
		accessTokenTTL:  cfg.AccessTokenTTL,
	}
}

// GenerateDirectToken 签发直连身份 Token
func (m *Manager) GenerateDirectToken(employeeID, companyID, role string) (string, error) {
	return m.sign(Claims{
		Scheme:     SchemeDirect,
		EmployeeID: employeeID,
		CompanyID:  companyID,
		Role:       role,
	}, m.secret)
}

// GenerateFederatedToken 签发联邦身份 Token
func (m *Manager) GenerateFederatedToken(email, tenantID, role string) (string, error) {
	return m.sign(Claims{
		Scheme:   SchemeFederated,
		Email:    email,
		TenantID: tenantID,
		Role:     role,
	}, m.federatedSecret)
}

func (m *Manager) sign(claims Claims, key []byte) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwtv5.RegisteredClaims{
		ID:        uuid.New().String(),
		IssuedAt:  jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(m.accessTokenTTL)),
		Issuer:    m.issuer,
	}
	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// ParseToken 解析并验证 Token
// 根据未验证的 scheme 声明选择验签密钥，验签失败即视为无效
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwtv5.ParseWithClaims(tokenString, &Claims{}, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, ErrTokenInvalid
		}
		switch c.Scheme {
		case SchemeDirect:
			return m.secret, nil
		case SchemeFederated:
			return m.federatedSecret, nil
		default:
			return nil, ErrTokenInvalid
		}
	}, jwtv5.WithIssuer(m.issuer))

	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
