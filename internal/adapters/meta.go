package adapters

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultGraphAPIBase = "https://graph.facebook.com/v19.0"

// verifyMetaSignature 校验 Meta 系平台的 X-Hub-Signature-256 头：
// 对原始请求体做 HMAC-SHA256，与 "sha256=<hex>" 比对。
func verifyMetaSignature(appSecret string, body []byte, header string) error {
	if appSecret == "" || header == "" {
		return ErrBadSignature
	}
	expected := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	// 常数时间比较，避免时序侧信道
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// postJSON 带 Bearer 鉴权 POST JSON，按响应码区分瞬时/永久失败
func postJSON(ctx context.Context, client *http.Client, url, token string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("marshal payload: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		// 网络错误/超时，可重试
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}

// classifyStatus 4xx（除 408/429）视为平台拒绝载荷，其余非 2xx 可重试
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout &&
		resp.StatusCode != http.StatusTooManyRequests {
		return &PermanentError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, detail)}
	}
	return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, detail)
}
