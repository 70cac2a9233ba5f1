package xdlock

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore 是进程内的 Store 实现，基于 xsync.MapOf。
//
// 每个操作在单个键上原子执行，适合单进程内的协调和测试。
// 不跨进程共享。
type MemoryStore struct {
	records *xsync.MapOf[string, Record]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的进程内存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: xsync.NewMapOf[string, Record](),
	}
}

// Insert 独占插入。同名记录已存在时返回包装了 ErrDuplicateKey 的错误。
func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, loaded := s.records.LoadOrStore(rec.Name, rec); loaded {
		return fmt.Errorf("%w: lock %q", ErrDuplicateKey, rec.Name)
	}
	return nil
}

// Remove 删除满足过滤条件的记录。
func (s *MemoryStore) Remove(ctx context.Context, f Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.records.Compute(f.Name, func(old Record, loaded bool) (Record, bool) {
		if !loaded {
			return old, true
		}
		return old, f.Match(old)
	})
	return nil
}

// Update 更新满足过滤条件的记录的过期时间。
//
// upsert 时若同名记录存在但不满足过滤条件，返回包装了 ErrDuplicateKey 的错误，
// 与 MongoDB 在 _id 冲突时的行为一致。
func (s *MemoryStore) Update(ctx context.Context, f Filter, expires time.Time, upsert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var conflict bool
	s.records.Compute(f.Name, func(old Record, loaded bool) (Record, bool) {
		switch {
		case loaded && f.Match(old):
			old.Expires = expires
			return old, false
		case loaded:
			conflict = upsert
			return old, false
		case upsert:
			return Record{Name: f.Name, Owner: f.Owner, Expires: expires}, false
		default:
			return old, true
		}
	})
	if conflict {
		return fmt.Errorf("%w: lock %q", ErrDuplicateKey, f.Name)
	}
	return nil
}

// FindOne 按名称查找记录。
func (s *MemoryStore) FindOne(ctx context.Context, name string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s.records.Load(name)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Len 返回当前记录数（含已过期未回收的记录）。
func (s *MemoryStore) Len() int {
	return s.records.Size()
}

// Health 仅在 ctx 已结束时返回错误。
func (s *MemoryStore) Health(ctx context.Context) error {
	return ctx.Err()
}
