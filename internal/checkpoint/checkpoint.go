// Package checkpoint 持久化等待人工输入的运行现场，使进程重启后仍能从
// 同一个决策点恢复。
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/plan"
	"OpenMCP-Orchestrator/internal/tools"
)

// Stage 标识挂起发生在哪个阶段。
type Stage string

const (
	StageSelector Stage = "selector"
	StageExecutor Stage = "executor"
)

// Kind 标识挂起的原因。
type Kind string

const (
	KindAsk    Kind = "ask"
	KindReview Kind = "review"
)

// ReplyShape 描述期望的人工回复格式。
type ReplyShape struct {
	Type        string   `json:"type"`
	Options     []string `json:"options,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Pending 记录挂起时尚未得到响应的调用。
// Approved 在真实调用之前写入，Result 在调用之后写入；
// 两者任一存在时，重复恢复不会再次执行该调用。
type Pending struct {
	Calls    []llm.ToolCall  `json:"calls"`
	Preview  map[string]any  `json:"preview,omitempty"`
	Approved bool            `json:"approved,omitempty"`
	Result   *tools.Response `json:"result,omitempty"`
}

// Applied 报告挂起的决定是否已经执行过。
func (p Pending) Applied() bool {
	return p.Approved || p.Result != nil
}

// SelectionRecord 是选择计数器中一条记录的持久化形式。
type SelectionRecord struct {
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

// Checkpoint 是恢复运行所需的最小现场。
type Checkpoint struct {
	ThreadID        string                     `json:"thread_id"`
	RunID           string                     `json:"run_id"`
	Request         string                     `json:"request"`
	Stage           Stage                      `json:"stage"`
	Kind            Kind                       `json:"kind"`
	Question        string                     `json:"question"`
	ReplyShape      ReplyShape                 `json:"reply_shape"`
	Plans           plan.Collection            `json:"plans"`
	ActivePlanID    string                     `json:"active_plan_id,omitempty"`
	SelectedIndexes []int                      `json:"selected_indexes,omitempty"`
	ExecutorInput   string                     `json:"executor_input,omitempty"`
	ToolResponses   []tools.Response           `json:"tool_responses,omitempty"`
	Transcript      []llm.Message              `json:"transcript,omitempty"`
	Pending         Pending                    `json:"pending"`
	Selections      map[string]SelectionRecord `json:"selections,omitempty"`
	Passes          int                        `json:"passes"`
	ToolCalls       int                        `json:"tool_calls"`
	CreatedAt       time.Time                  `json:"created_at"`
}

// Encode 序列化检查点。
func (c *Checkpoint) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode 反序列化检查点。
func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析检查点失败")
	}
	return &cp, nil
}

// ErrNotFound 表示线程没有待恢复的检查点。
var ErrNotFound = xerrors.New(xerrors.CodeNoPendingInterrupt, "no pending checkpoint")

// Store 定义检查点存储。
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	// Load 在不存在时返回 ErrNotFound。
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}
