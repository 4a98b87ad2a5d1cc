package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
)

const conversationPath = "/api/conversation"

// RemoteError 表示远端对话服务返回了非 2xx 状态。
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// HTTPClient 调用远端 POST /api/conversation 接口，不做重试。
type HTTPClient struct {
	baseURL string
	c       *http.Client
}

// NewHTTPClient 创建远端对话客户端。timeout <= 0 时使用 60 秒。
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		c:       &http.Client{Timeout: timeout},
	}
}

// Converse 发送一次对话请求。
func (h *HTTPClient) Converse(ctx context.Context, reqBody model.Request) (*model.Result, error) {
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("conversation encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+conversationPath, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Status: resp.StatusCode, Message: remoteMessage(resp.Body)}
	}

	var out model.Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("conversation decode: %w", err)
	}
	return &out, nil
}

func remoteMessage(body io.Reader) string {
	var payload model.ErrorResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.Error == "" {
		return "Server error"
	}
	return payload.Error
}
