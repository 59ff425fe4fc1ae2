package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
)

// Client 通过调用 Python 脚本实现推理。脚本从 stdin 读取提示词 JSON，
// 向 stdout 写出 {"tool_calls":[{"name":..,"args":{..}}],"text":..}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

var _ llm.Client = (*Client)(nil)

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	llm.Prompt
	Timestamp int64 `json:"timestamp"`
}

// Propose 调用外部脚本，并解析输出为统一提案。
func (c *Client) Propose(ctx context.Context, prompt llm.Prompt) (*llm.Proposal, error) {
	encoded, err := json.Marshal(bridgeRequest{Prompt: prompt, Timestamp: time.Now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var proposal llm.Proposal
	if err := json.Unmarshal(stdout.Bytes(), &proposal); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "解析 Python 输出失败")
	}
	for i := range proposal.ToolCalls {
		if proposal.ToolCalls[i].ID == "" {
			proposal.ToolCalls[i].ID = uuid.NewString()
		}
		if proposal.ToolCalls[i].Args == nil {
			proposal.ToolCalls[i].Args = map[string]any{}
		}
	}
	proposal.Text = strings.TrimSpace(proposal.Text)
	return &proposal, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
