package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/model"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/jwt"
	"kudos-engine/backend/pkg/redis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct {
	ident      *service.ResolvedIdentity
	err        error
	lastOffset int
}

func (s *stubResolver) Resolve(_ context.Context, _ *jwt.Claims, offset int) (*service.ResolvedIdentity, error) {
	s.lastOffset = offset
	return s.ident, s.err
}
func (s *stubResolver) Setting(context.Context, string) (*model.CompanySetting, error) { return nil, nil }
func (s *stubResolver) Invalidate(context.Context, *model.CompanySetting)               {}

func newManager() *jwt.Manager {
	return jwt.NewManager(&config.AuthConfig{
		JWTSecret:      "middleware-test-secret-2026",
		Issuer:         "kudos-engine",
		AccessTokenTTL: time.Minute,
	})
}

func run(r *gin.Engine, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestJWTAuth(t *testing.T) {
	mgr := newManager()
	token, err := mgr.GenerateDirectToken("emp-1", "co-1", "admin")
	if err != nil {
		t.Fatalf("GenerateDirectToken: %v", err)
	}

	r := gin.New()
	r.GET("/p", JWTAuth(mgr, nil), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RoleKey))
	})

	w := run(r, "GET", "/p", map[string]string{"Authorization": "Bearer " + token})
	expectStatus(t, w, http.StatusOK)
	if w.Body.String() != "admin" {
		t.Errorf("expected role admin, got %q", w.Body.String())
	}

	for _, h := range []string{"", "Token " + token, "Bearer junk"} {
		w = run(r, "GET", "/p", map[string]string{"Authorization": h})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", h, w.Code)
		}
	}
}

func TestRoleAuth(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) { c.Set(RoleKey, "member") }, RoleAuth("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/anon", RoleAuth("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	expectStatus(t, run(r, "GET", "/admin", nil), http.StatusForbidden)
	expectStatus(t, run(r, "GET", "/anon", nil), http.StatusUnauthorized)
}

func TestTZOffset(t *testing.T) {
	r := gin.New()
	r.GET("/tz", TZOffset(), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", c.GetInt(OffsetKey))
	})

	cases := map[string]string{"": "0", "8": "8", "-5": "-5", " 14 ": "14", "20": "14", "-13": "-12"}
	for header, want := range cases {
		w := run(r, "GET", "/tz", map[string]string{"X-Timezone-Offset": header})
		if w.Code != http.StatusOK {
			t.Fatalf("header %q: expected 200, got %d", header, w.Code)
		}
		if w.Body.String() != want {
			t.Errorf("header %q: expected offset %s, got %s", header, want, w.Body.String())
		}
	}

	expectStatus(t, run(r, "GET", "/tz", map[string]string{"X-Timezone-Offset": "5.5"}), http.StatusBadRequest)
}

func TestIdentity_ErrorMapping(t *testing.T) {
	mgr := newManager()
	token, _ := mgr.GenerateDirectToken("emp-1", "co-1", "member")

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrNotEnabled, http.StatusForbidden, "20004"},
		{service.ErrIdentityNotFound, http.StatusUnauthorized, "20201"},
		{service.ErrUnsupportedScheme, http.StatusUnauthorized, "20202"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			resolver := &stubResolver{err: tc.err}
			r := gin.New()
			r.GET("/i", JWTAuth(mgr, nil), TZOffset(), Identity(resolver, zap.NewNop()), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			w := run(r, "GET", "/i", map[string]string{"Authorization": "Bearer " + token, "X-Timezone-Offset": "3"})
			expectStatus(t, w, tc.status)
			if !strings.Contains(w.Body.String(), tc.code) {
				t.Errorf("expected code %s in body %s", tc.code, w.Body.String())
			}
			if resolver.lastOffset != 3 {
				t.Errorf("offset not forwarded, got %d", resolver.lastOffset)
			}
		})
	}
}

func TestIdentity_SetsContext(t *testing.T) {
	mgr := newManager()
	token, _ := mgr.GenerateDirectToken("emp-1", "co-1", "member")
	resolver := &stubResolver{ident: &service.ResolvedIdentity{
		Employee: &model.Employee{EmployeeID: "emp-1", CompanyID: "co-1"},
	}}

	r := gin.New()
	r.GET("/i", JWTAuth(mgr, nil), TZOffset(), Identity(resolver, zap.NewNop()), func(c *gin.Context) {
		v, _ := c.Get(IdentityKey)
		c.String(http.StatusOK, v.(*service.ResolvedIdentity).EmployeeID())
	})

	w := run(r, "GET", "/i", map[string]string{"Authorization": "Bearer " + token})
	expectStatus(t, w, http.StatusOK)
	if w.Body.String() != "emp-1" {
		t.Errorf("expected emp-1, got %q", w.Body.String())
	}
}

func TestRateLimit_WithoutRedisPassesThrough(t *testing.T) {
	r := gin.New()
	r.GET("/s", RateLimit(nil, 1, time.Minute, ByClientIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		expectStatus(t, run(r, "GET", "/s", nil), http.StatusOK)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.GET("/r", RequestID(), func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := run(r, "GET", "/r", map[string]string{requestIDHeader: "abc"})
	if w.Body.String() != "abc" || w.Header().Get(requestIDHeader) != "abc" {
		t.Errorf("client request id should be echoed, got body=%q header=%q", w.Body.String(), w.Header().Get(requestIDHeader))
	}

	w = run(r, "GET", "/r", map[string]string{requestIDHeader: strings.Repeat("x", 65)})
	if len(w.Body.String()) != 36 {
		t.Errorf("oversized id should be replaced by a uuid, got %q", w.Body.String())
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redis.NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	if err != nil {
		t.Fatalf("redis.NewClient: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestJWTAuth_BlacklistedToken(t *testing.T) {
	mgr := newManager()
	rdb := newRedis(t)
	token, _ := mgr.GenerateDirectToken("emp-1", "co-1", "member")
	claims, err := mgr.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if err := rdb.BlacklistToken(context.Background(), claims.ID, time.Minute); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}

	r := gin.New()
	r.GET("/p", JWTAuth(mgr, rdb), func(c *gin.Context) { c.Status(http.StatusOK) })

	expectStatus(t, run(r, "GET", "/p", map[string]string{"Authorization": "Bearer " + token}), http.StatusUnauthorized)
}

func TestRateLimit_PerEmployee(t *testing.T) {
	rdb := newRedis(t)

	r := gin.New()
	r.POST("/kudos", func(c *gin.Context) {
		c.Set(IdentityKey, &service.ResolvedIdentity{Employee: &model.Employee{EmployeeID: c.GetHeader("X-Emp")}})
	}, RateLimit(rdb, 2, time.Minute, ByEmployee), func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := map[string]string{"X-Emp": "alice"}
	expectStatus(t, run(r, "POST", "/kudos", alice), http.StatusOK)
	expectStatus(t, run(r, "POST", "/kudos", alice), http.StatusOK)
	expectStatus(t, run(r, "POST", "/kudos", alice), http.StatusTooManyRequests)
	// 其他员工不受影响
	expectStatus(t, run(r, "POST", "/kudos", map[string]string{"X-Emp": "bob"}), http.StatusOK)
}
