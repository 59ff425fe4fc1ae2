package plan

import (
	"fmt"
	"strings"
)

// Collection 是一次运行中按创建顺序排列的计划集合。
type Collection []*Plan

// Find 根据 ID 查找计划。
func (c Collection) Find(id string) (*Plan, bool) {
	for _, p := range c {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Active 返回最近追加且尚未完成的计划。
func (c Collection) Active() (*Plan, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Status() != StatusCompleted {
			return c[i], true
		}
	}
	return nil, false
}

// AllCompleted 判断集合非空且每个计划的每个任务都已完成。
func (c Collection) AllCompleted() bool {
	if len(c) == 0 {
		return false
	}
	for _, p := range c {
		if p.Status() != StatusCompleted {
			return false
		}
	}
	return true
}

// ExhaustedTask 描述达到重试上限的任务及其所属计划。
type ExhaustedTask struct {
	PlanID    string
	PlanTitle string
	Task      Task
}

// RetryExhausted 返回所有达到重试上限的任务。
func (c Collection) RetryExhausted() []ExhaustedTask {
	var out []ExhaustedTask
	for _, p := range c {
		for _, t := range p.Tasks {
			if t.Exhausted() {
				out = append(out, ExhaustedTask{PlanID: p.ID, PlanTitle: p.Title, Task: *t})
			}
		}
	}
	return out
}

// Finished 判断计划是否已经结束，结束的计划不会带入下一轮对话。
func Finished(p *Plan) bool {
	if p.Status() == StatusCompleted {
		return true
	}
	for _, t := range p.Tasks {
		if t.Exhausted() {
			return true
		}
	}
	return false
}

// Unfinished 过滤掉已结束的计划。
func (c Collection) Unfinished() Collection {
	out := make(Collection, 0, len(c))
	for _, p := range c {
		if !Finished(p) {
			out = append(out, p)
		}
	}
	return out
}

// Clone 深拷贝整个集合。
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for i, p := range c {
		out[i] = p.Clone()
	}
	return out
}

// Snapshot 生成供提示词使用的文本快照。
func (c Collection) Snapshot() string {
	if len(c) == 0 {
		return "(no plans)"
	}
	var b strings.Builder
	for _, p := range c {
		fmt.Fprintf(&b, "Plan %s %q [%s]\n", p.ID, p.Title, p.Status())
		for _, t := range p.Tasks {
			fmt.Fprintf(&b, "  [%d] %s (%s, retries=%d)", t.Index, t.Title, t.Status, t.RetryCount)
			if t.Result != "" {
				fmt.Fprintf(&b, " result: %s", Truncate(t.Result, 200))
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Truncate 按 rune 截断文本。
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
