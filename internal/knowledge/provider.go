// Package knowledge 提供静态知识库检索，并以工具形式暴露给执行阶段。
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(query string) []Snippet
}

// Snippet 描述可供推理引擎引用的一段知识。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Tags     []string `json:"tags" yaml:"tags"`
}

// StaticProvider 基于关键词命中数对静态条目排序。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 或 YAML 文件加载知识条目，按扩展名选择格式。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var entries []Snippet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &entries)
	default:
		err = json.Unmarshal(content, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回命中关键词或标签最多的条目；没有关键词的条目视为通用知识，得分最低。
func (p *StaticProvider) Query(query string) []Snippet {
	if p == nil {
		return nil
	}
	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		snippet Snippet
		score   int
		order   int
	}
	var hits []scored
	for i, item := range p.items {
		score := score(item, query)
		if score < 0 {
			continue
		}
		hits = append(hits, scored{snippet: item, score: score, order: i})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})

	limit := p.maxResults
	if len(hits) < limit {
		limit = len(hits)
	}
	out := make([]Snippet, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, h.snippet)
	}
	return out
}

// score 返回 -1 表示不匹配。
func score(snippet Snippet, query string) int {
	terms := append(append([]string{}, snippet.Keywords...), snippet.Tags...)
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized != "" && strings.Contains(query, normalized) {
			hits++
		}
	}
	if hits == 0 {
		return -1
	}
	return hits
}
