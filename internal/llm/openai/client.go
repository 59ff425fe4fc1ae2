package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// RequestsPerSecond 大于 0 时对请求做令牌桶限流。
	RequestsPerSecond float64
}

// Client 通过 function calling 调用 OpenAI 兼容接口。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	limiter     *rate.Limiter
	httpClient  *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return client, nil
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string     `json:"type"`
	Function llm.Action `json:"function"`
}

// Propose 调用 Chat Completions，将 tool_calls 转换为统一的提案结构。
func (c *Client) Propose(ctx context.Context, prompt llm.Prompt) (*llm.Proposal, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待 OpenAI 限流令牌失败")
		}
	}

	payload, err := c.buildPayload(prompt)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, xerrors.New(xerrors.CodeReasoningFailure,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithRetryable(retryable))
	}

	var decoded struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "OpenAI 响应中没有有效的 choices")
	}

	msg := decoded.Choices[0].Message
	proposal := &llm.Proposal{}
	if msg.Content != nil {
		proposal.Text = strings.TrimSpace(*msg.Content)
	}
	for _, call := range msg.ToolCalls {
		args, err := llm.DecodeArgs(call.Function.Arguments)
		if err != nil {
			// 参数无法解析时保留调用，由编排阶段按格式错误处理。
			args = map[string]any{"_raw": call.Function.Arguments}
		}
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		proposal.ToolCalls = append(proposal.ToolCalls, llm.ToolCall{ID: id, Name: call.Function.Name, Args: args})
	}
	return proposal, nil
}

func (c *Client) buildPayload(prompt llm.Prompt) ([]byte, error) {
	messages := make([]wireMessage, 0, len(prompt.Messages)+1)
	if system := strings.TrimSpace(prompt.System); system != "" {
		messages = append(messages, wireMessage{Role: string(llm.RoleSystem), Content: &system})
	}
	for _, m := range prompt.Messages {
		content := m.Content
		wire := wireMessage{Role: string(m.Role), Content: &content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("序列化工具参数失败: %w", err)
			}
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: wireFunction{Name: call.Name, Arguments: string(args)},
			})
		}
		if m.Role == llm.RoleTool {
			wire.Name = ""
		}
		messages = append(messages, wire)
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if len(prompt.Actions) > 0 {
		tools := make([]wireTool, 0, len(prompt.Actions))
		for _, action := range prompt.Actions {
			if action.Parameters == nil {
				action.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, wireTool{Type: "function", Function: action})
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}
