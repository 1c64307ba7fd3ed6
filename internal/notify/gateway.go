package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGateway 通过 HTTP 调用 Teams 集成服务实现 Gateway
//
//	POST {base}/tenants/{tenant}/users:resolve        {"email"} → {"user_id"}
//	PUT  {base}/tenants/{tenant}/users/{user}/installation
//	POST {base}/tenants/{tenant}/users/{user}/activities  Activity
type HTTPGateway struct {
	baseURL   string
	appID     string
	appSecret string
	client    *http.Client
}

// NewHTTPGateway 创建 HTTP 网关；单次调用超时由调用方 ctx 控制
func NewHTTPGateway(baseURL, appID, appSecret string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appID:     appID,
		appSecret: appSecret,
		client:    &http.Client{Timeout: timeout},
	}
}

// StatusError 网关返回非 2xx
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: gateway returned %d: %s", e.Op, e.Status, e.Body)
}

func (g *HTTPGateway) ResolveUser(ctx context.Context, tenantID, email string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	path := fmt.Sprintf("/tenants/%s/users:resolve", url.PathEscape(tenantID))
	if err := g.do(ctx, "resolve user", http.MethodPost, path, map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	if out.UserID == "" {
		return "", fmt.Errorf("resolve user: empty user_id for %s", email)
	}
	return out.UserID, nil
}

func (g *HTTPGateway) EnsureInstalled(ctx context.Context, tenantID, userID string) error {
	path := fmt.Sprintf("/tenants/%s/users/%s/installation", url.PathEscape(tenantID), url.PathEscape(userID))
	err := g.do(ctx, "install app", http.MethodPut, path, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return nil // 已安装
	}
	return err
}

func (g *HTTPGateway) SendActivity(ctx context.Context, tenantID, userID string, activity Activity) error {
	path := fmt.Sprintf("/tenants/%s/users/%s/activities", url.PathEscape(tenantID), url.PathEscape(userID))
	return g.do(ctx, "send activity", http.MethodPost, path, activity, nil)
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.appSecret)
	req.Header.Set("X-App-Id", g.appID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
