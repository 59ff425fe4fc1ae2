package agent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/plan"
)

// liveLockThreshold 是同一选择在任务无变化时允许出现的次数。
const liveLockThreshold = 3

// selectionCounter 记录 (计划, 任务索引集合) 被选中的次数，
// 所选任务的状态或重试次数发生变化时计数归零。
type selectionCounter struct {
	records map[string]checkpoint.SelectionRecord
}

func newSelectionCounter(records map[string]checkpoint.SelectionRecord) *selectionCounter {
	c := &selectionCounter{records: make(map[string]checkpoint.SelectionRecord, len(records))}
	for k, v := range records {
		c.records[k] = v
	}
	return c
}

// record 登记一次选择并返回当前计数。
func (c *selectionCounter) record(p *plan.Plan, indexes []int) int {
	key := selectionKey(p.ID, indexes)
	fp := selectionFingerprint(p, indexes)
	rec := c.records[key]
	if rec.Fingerprint != fp {
		rec = checkpoint.SelectionRecord{Fingerprint: fp}
	}
	rec.Count++
	c.records[key] = rec
	return rec.Count
}

func (c *selectionCounter) snapshot() map[string]checkpoint.SelectionRecord {
	out := make(map[string]checkpoint.SelectionRecord, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}

func selectionKey(planID string, indexes []int) string {
	sorted := append([]int(nil), indexes...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, idx := range sorted {
		parts[i] = strconv.Itoa(idx)
	}
	return planID + "#" + strings.Join(parts, ",")
}

func selectionFingerprint(p *plan.Plan, indexes []int) string {
	sorted := append([]int(nil), indexes...)
	sort.Ints(sorted)
	var b strings.Builder
	for _, idx := range sorted {
		if t, ok := p.Task(idx); ok {
			fmt.Fprintf(&b, "%d:%s:%d;", idx, t.Status, t.RetryCount)
		}
	}
	return b.String()
}
