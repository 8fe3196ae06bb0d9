// Package ipfs talks to the content-addressed storage node over its HTTP
// API. The core only needs put-and-address; pinning and cleanup are external
// responsibilities.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config describes how to reach the IPFS node.
type Config struct {
	APIURL     string
	GatewayURL string
	Timeout    time.Duration
}

// Client uploads JSON objects and returns their content hashes.
type Client struct {
	apiURL     string
	gatewayURL string
	http       *http.Client
}

// NewClient 构造 IPFS 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		return nil, errors.New("未配置 IPFS API 地址")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("解析 IPFS API 地址失败: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/"),
		http:       &http.Client{Timeout: timeout},
	}, nil
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Put serialises the object as JSON and adds it under the given filename.
// It returns the content hash assigned by the node.
func (c *Client) Put(ctx context.Context, filename string, obj any) (string, error) {
	if c == nil {
		return "", errors.New("未初始化的 IPFS 客户端")
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("序列化对象失败: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("构造上传请求失败: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("写入上传内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("关闭上传请求失败: %w", err)
	}

	endpoint := c.apiURL + "/api/v0/add?pin=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("上传到 IPFS 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IPFS 节点返回异常状态码: %d", resp.StatusCode)
	}

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("解析 IPFS 响应失败: %w", err)
	}
	if added.Hash == "" {
		return "", errors.New("IPFS 响应缺少内容哈希")
	}
	return added.Hash, nil
}

// GatewayURL returns a browsable URL for a content hash, or the bare hash
// when no gateway is configured.
func (c *Client) GatewayURL(hash string) string {
	if c == nil || c.gatewayURL == "" {
		return hash
	}
	return c.gatewayURL + "/ipfs/" + hash
}
