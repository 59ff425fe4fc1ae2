// Package plan 定义编排引擎使用的计划与任务数据模型。
//
// 计划状态总是由任务状态推导得出，任务只能通过 Apply 以位置方式更新。
package plan

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// MaxRetries 是单个任务允许失败的次数上限，达到后任务不再被选中。
const MaxRetries = 5

// Status 表示计划的推导状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// TaskStatus 表示单个任务的状态。
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Valid 判断任务状态是否合法。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	default:
		return false
	}
}

// ParseTaskStatus 将模型给出的状态文本规范化。
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "inprogress", "in progress", "running":
		normalized = string(TaskInProgress)
	case "done", "success", "succeeded":
		normalized = string(TaskCompleted)
	case "error":
		normalized = string(TaskFailed)
	}
	status := TaskStatus(normalized)
	return status, status.Valid()
}

// CodeInvalidUpdate 表示计划更新请求不合法。
const CodeInvalidUpdate xerrors.Code = "PLAN_INVALID_UPDATE"

func init() {
	xerrors.Register(CodeInvalidUpdate, xerrors.Attributes{
		Message:  "invalid plan update",
		Severity: xerrors.SeverityInfo,
	})
}

// Task 是计划中的单个工作单元。
type Task struct {
	Index      int        `json:"index"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	Result     string     `json:"result,omitempty"`
}

// Exhausted 判断任务是否已达到重试上限。
func (t *Task) Exhausted() bool {
	return t != nil && t.RetryCount >= MaxRetries
}

// Selectable 判断任务能否被选择器再次选中。
func (t *Task) Selectable() bool {
	return t != nil && t.Status != TaskCompleted && !t.Exhausted()
}

// Plan 是一次请求分解后的有序任务集合。
type Plan struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tasks     []*Task   `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}

// New 根据任务标题创建计划，所有任务初始为 pending。
func New(title string, taskTitles []string) *Plan {
	p := &Plan{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: time.Now().UTC(),
	}
	for _, raw := range taskTitles {
		title := strings.TrimSpace(raw)
		if title == "" {
			continue
		}
		p.Tasks = append(p.Tasks, &Task{Index: len(p.Tasks), Title: title, Status: TaskPending})
	}
	return p
}

// Status 由任务状态推导计划状态。
func (p *Plan) Status() Status {
	if p == nil || len(p.Tasks) == 0 {
		return StatusPending
	}
	completed, started := 0, 0
	for _, t := range p.Tasks {
		if t.Status == TaskCompleted {
			completed++
		}
		if t.Status != TaskPending {
			started++
		}
	}
	switch {
	case completed == len(p.Tasks):
		return StatusCompleted
	case started > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}

// Task 返回指定位置的任务。
func (p *Plan) Task(index int) (*Task, bool) {
	if p == nil || index < 0 || index >= len(p.Tasks) {
		return nil, false
	}
	return p.Tasks[index], true
}

// Update 描述针对单个任务位置的修改。
type Update struct {
	Index  int        `json:"index"`
	Status TaskStatus `json:"status"`
	Result string     `json:"result,omitempty"`
	Title  string     `json:"title,omitempty"`
}

// Apply 以位置方式应用更新。未被引用的任务保持不变；越界索引按追加处理，
// 新任务获得下一个顺序索引。任意一条更新不合法时整体不生效。
// 返回实际被修改或追加的任务索引。
func (p *Plan) Apply(updates []Update) ([]int, error) {
	if p == nil {
		return nil, xerrors.New(CodeInvalidUpdate, "plan is nil")
	}
	for _, u := range updates {
		if u.Index < 0 {
			return nil, xerrors.Newf(CodeInvalidUpdate, "negative task index %d", u.Index)
		}
		if u.Status != "" && !u.Status.Valid() {
			return nil, xerrors.Newf(CodeInvalidUpdate, "unknown task status %q", u.Status)
		}
		if u.Index >= len(p.Tasks) && strings.TrimSpace(u.Title) == "" {
			return nil, xerrors.Newf(CodeInvalidUpdate, "new task at index %d requires a title", u.Index)
		}
	}

	touched := make([]int, 0, len(updates))
	for _, u := range updates {
		task, ok := p.Task(u.Index)
		if !ok {
			task = &Task{Index: len(p.Tasks), Status: TaskPending}
			p.Tasks = append(p.Tasks, task)
		}
		if title := strings.TrimSpace(u.Title); title != "" {
			task.Title = title
		}
		if u.Status != "" {
			if u.Status == TaskFailed {
				task.RetryCount++
			}
			task.Status = u.Status
		}
		if u.Result != "" {
			task.Result = u.Result
		}
		touched = append(touched, task.Index)
	}
	return touched, nil
}

// Clone 返回计划的深拷贝。
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Tasks = make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		copied := *t
		clone.Tasks[i] = &copied
	}
	return &clone
}

type planJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Tasks     []*Task   `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON 输出推导出的计划状态。
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		ID:        p.ID,
		Title:     p.Title,
		Status:    p.Status(),
		Tasks:     p.Tasks,
		CreatedAt: p.CreatedAt,
	})
}

// UnmarshalJSON 忽略输入中的 status 字段，状态始终重新推导。
func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	p.Title = raw.Title
	p.Tasks = raw.Tasks
	p.CreatedAt = raw.CreatedAt
	for i, t := range p.Tasks {
		if t == nil {
			p.Tasks[i] = &Task{Index: i, Status: TaskPending}
			continue
		}
		t.Index = i
	}
	return nil
}
