package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/plan"
)

// FileStore 以每个线程一个 JSON Lines 文件保存对话，计划快照单独存为 JSON。
// dir 为空时仅保存在内存中。
type FileStore struct {
	dir string

	mu    sync.RWMutex
	turns map[string][]Turn
	plans map[string][]byte
}

var _ Store = (*FileStore)(nil)

// NewFileStore 创建文件会话存储。
func NewFileStore(dir string) (*FileStore, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建会话目录失败")
		}
	}
	return &FileStore{
		dir:   dir,
		turns: make(map[string][]Turn),
		plans: make(map[string][]byte),
	}, nil
}

func (s *FileStore) turnsPath(threadID string) string {
	return filepath.Join(s.dir, threadID+".jsonl")
}

func (s *FileStore) plansPath(threadID string) string {
	return filepath.Join(s.dir, threadID+".plans.json")
}

// Append 实现 Store。
func (s *FileStore) Append(_ context.Context, turn Turn) error {
	if err := validateTurn(&turn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadTurnsLocked(turn.ThreadID); err != nil {
		return err
	}
	if s.dir != "" {
		line, err := json.Marshal(turn)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化对话失败")
		}
		f, err := os.OpenFile(s.turnsPath(turn.ThreadID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开会话文件失败")
		}
		_, werr := f.Write(append(line, '\n'))
		cerr := f.Close()
		if werr != nil || cerr != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, errors.Join(werr, cerr), "写入会话文件失败")
		}
	}
	s.turns[turn.ThreadID] = append(s.turns[turn.ThreadID], turn)
	return nil
}

// History 实现 Store。
func (s *FileStore) History(_ context.Context, threadID string, limit int) ([]Turn, error) {
	if err := ValidThreadID(threadID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, err := s.loadTurnsLocked(threadID)
	if err != nil {
		return nil, err
	}
	return tail(turns, limit), nil
}

// loadTurnsLocked 在首次访问线程时从磁盘回放历史。
func (s *FileStore) loadTurnsLocked(threadID string) ([]Turn, error) {
	if turns, ok := s.turns[threadID]; ok || s.dir == "" {
		return turns, nil
	}
	f, err := os.Open(s.turnsPath(threadID))
	if errors.Is(err, os.ErrNotExist) {
		s.turns[threadID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话文件失败")
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话文件失败")
	}
	s.turns[threadID] = turns
	return turns, nil
}

// LoadPlans 实现 Store。
func (s *FileStore) LoadPlans(_ context.Context, threadID string) (plan.Collection, error) {
	if err := ValidThreadID(threadID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.plans[threadID]
	s.mu.RUnlock()
	if !ok && s.dir != "" {
		raw, err := os.ReadFile(s.plansPath(threadID))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取计划文件失败")
		default:
			data = raw
		}
	}
	return decodePlans(data)
}

// SavePlans 实现 Store，文件先写临时文件再原子替换。
func (s *FileStore) SavePlans(_ context.Context, threadID string, plans plan.Collection) error {
	if err := ValidThreadID(threadID); err != nil {
		return err
	}
	data, err := encodePlans(plans)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		tmp := s.plansPath(threadID) + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入计划文件失败")
		}
		if err := os.Rename(tmp, s.plansPath(threadID)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换计划文件失败")
		}
	}
	s.plans[threadID] = data
	return nil
}

func encodePlans(plans plan.Collection) ([]byte, error) {
	if plans == nil {
		plans = plan.Collection{}
	}
	data, err := json.Marshal(plans)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化计划失败")
	}
	return data, nil
}

func decodePlans(data []byte) (plan.Collection, error) {
	if len(data) == 0 {
		return plan.Collection{}, nil
	}
	var plans plan.Collection
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析计划失败")
	}
	return plans, nil
}
