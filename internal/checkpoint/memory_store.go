package checkpoint

import (
	"context"
	"sync"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

// MemoryStore 将检查点以序列化形式保存在进程内，避免调用方共享可变状态。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存检查点存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Save 实现 Store。
func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "checkpoint requires a thread id")
	}
	encoded, err := cp.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化检查点失败")
	}
	s.mu.Lock()
	s.data[cp.ThreadID] = encoded
	s.mu.Unlock()
	return nil
}

// Load 实现 Store。
func (s *MemoryStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	encoded, ok := s.data[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(encoded)
}

// Delete 实现 Store。
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.data, threadID)
	s.mu.Unlock()
	return nil
}
