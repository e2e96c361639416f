package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultOpenAIModel = "text-embedding-3-small"

type openAIRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient OpenAI兼容的/embeddings接口客户端
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

// NewOpenAIClient 创建OpenAI兼容嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}
	if cfg.BaseURL == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "base url is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		model:      model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    100 * time.Millisecond,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Dimensions 返回配置的向量维度
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 按batchSize分批请求，结果按输入顺序返回
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
		}
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}
	return result, nil
}

func (c *OpenAIClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(openAIRequest{
		Model:          c.model,
		Input:          texts,
		Dimensions:     c.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * c.backoff):
			}
		}

		var resp openAIResponse
		err := c.send(ctx, payload, &resp)
		if err == nil {
			return c.collect(resp, len(texts))
		}
		lastErr = err

		var embErr EmbeddingError
		if !errors.As(err, &embErr) || !retryable(embErr.Code) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *OpenAIClient) send(ctx context.Context, payload []byte, out *openAIResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
		}
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var errResp openAIErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return NewEmbeddingError(statusCode(resp.StatusCode), fmt.Sprintf("API error (status %d): %s", resp.StatusCode, msg))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

func (c *OpenAIClient) collect(resp openAIResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, NewEmbeddingError(ErrCodeBadResponse,
			fmt.Sprintf("expected %d embeddings, got %d", want, len(resp.Data)))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, want)
	for i, item := range resp.Data {
		if item.Index != i || len(item.Embedding) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("missing embedding for input %d", i))
		}
		if c.dimensions > 0 && len(item.Embedding) != c.dimensions {
			return nil, NewEmbeddingError(ErrCodeBadResponse,
				fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(item.Embedding), c.dimensions))
		}
		out[i] = item.Embedding
	}
	return out, nil
}

func statusCode(status int) int {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeInvalidRequest
	}
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
