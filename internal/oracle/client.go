// Package oracle fetches off-chain signals through declarative API specs,
// the same request-spec shape the rest of the pipeline consumes.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client executes API specs against their HTTP endpoints.
type Client struct {
	http *http.Client
}

// Option 定义可选配置。
type Option func(*Client)

// WithHTTPClient 指定自定义 HTTP 客户端。
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// NewClient 构造 oracle 客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Fetch executes the spec and returns the structured object addressed by its
// response key. The key uses ":" to walk nested objects; an empty key returns
// the whole body.
func (c *Client) Fetch(ctx context.Context, spec Spec) (map[string]any, error) {
	if strings.TrimSpace(spec.URL) == "" {
		return nil, errors.New("接口规格缺少 URL")
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	endpoint, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("解析接口地址失败: %w", err)
	}
	if len(spec.Parameters) > 0 {
		query := endpoint.Query()
		for key, value := range spec.Parameters {
			query.Set(key, value)
		}
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("接口返回异常状态码: %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	return extract(body, spec.ResponseKey)
}

func extract(body map[string]any, responseKey string) (map[string]any, error) {
	key := strings.TrimSpace(responseKey)
	if key == "" {
		return body, nil
	}
	current := body
	segments := strings.Split(key, ":")
	for i, segment := range segments {
		value, ok := current[segment]
		if !ok {
			return nil, fmt.Errorf("响应缺少字段 %s", strings.Join(segments[:i+1], ":"))
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("字段 %s 不是对象", strings.Join(segments[:i+1], ":"))
		}
		current = next
	}
	return current, nil
}
