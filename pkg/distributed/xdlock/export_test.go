package xdlock

import (
	"context"
	"sync"
)

// =============================================================================
// 测试辅助：暴露内部构造器用于单元测试
// =============================================================================

// MemEtcdKV 是带 revision 语义的内存 etcdKV，用于 EtcdStore 单元测试。
type MemEtcdKV struct {
	mu   sync.Mutex
	rev  int64
	data map[string]memEtcdEntry

	// BeforeCommit 在每次条件写入判定前调用（不持锁），用于模拟并发修改。
	BeforeCommit func()
	// Err 非 nil 时所有操作返回该错误。
	Err error
}

type memEtcdEntry struct {
	value  []byte
	modRev int64
}

// NewMemEtcdKV 创建空的 MemEtcdKV。
func NewMemEtcdKV() *MemEtcdKV {
	return &MemEtcdKV{data: make(map[string]memEtcdEntry)}
}

// NewEtcdStoreWithKV 使用 MemEtcdKV 创建 EtcdStore。
func NewEtcdStoreWithKV(kv *MemEtcdKV, opts ...EtcdStoreOption) *EtcdStore {
	return newEtcdStore(kv, opts...)
}

// Put 无条件写入，返回新的 ModRevision。
func (m *MemEtcdKV) Put(key string, value []byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev++
	m.data[key] = memEtcdEntry{value: value, modRev: m.rev}
	return m.rev
}

// Value 返回 key 当前的原始值。
func (m *MemEtcdKV) Value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e.value, ok
}

func (m *MemEtcdKV) get(ctx context.Context, key string) ([]byte, int64, error) {
	if err := m.check(ctx); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, 0, nil
	}
	return e.value, e.modRev, nil
}

func (m *MemEtcdKV) putIf(ctx context.Context, key string, value []byte, modRev int64) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	m.beforeCommit()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.guard(key, modRev) {
		return false, nil
	}
	m.rev++
	m.data[key] = memEtcdEntry{value: value, modRev: m.rev}
	return true, nil
}

func (m *MemEtcdKV) deleteIf(ctx context.Context, key string, modRev int64) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	m.beforeCommit()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.guard(key, modRev) {
		return false, nil
	}
	m.rev++
	delete(m.data, key)
	return true, nil
}

func (m *MemEtcdKV) ping(ctx context.Context) error {
	return m.check(ctx)
}

func (m *MemEtcdKV) guard(key string, modRev int64) bool {
	e, ok := m.data[key]
	if modRev == 0 {
		return !ok
	}
	return ok && e.modRev == modRev
}

func (m *MemEtcdKV) beforeCommit() {
	if m.BeforeCommit != nil {
		m.BeforeCommit()
	}
}

func (m *MemEtcdKV) check(ctx context.Context) error {
	if m.Err != nil {
		return m.Err
	}
	return ctx.Err()
}
