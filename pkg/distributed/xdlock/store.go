package xdlock

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=xdlock_test

import (
	"context"
	"time"
)

// Record 表示一条锁记录，每个被持有（或刚过期尚未回收）的锁对应一条。
//
// Name 是主键，唯一性由存储保证而非 Manager。
// 记录存在表示 "由 Owner 持有直到 Expires"，读取方需要自行比较 Expires 判断是否仍有效。
type Record struct {
	// Name 锁名称（主键）。
	Name string `bson:"_id"`

	// Owner 持有者标识，不做格式校验。
	Owner string `bson:"owner"`

	// Expires 过期时间点，之后该记录可被回收。
	Expires time.Time `bson:"expires"`
}

// Expired 报告记录在 now 时刻是否已过期。
func (r Record) Expired(now time.Time) bool {
	return r.Expires.Before(now)
}

// Filter 描述条件删除/条件更新的匹配条件。
//
// Name 必须匹配；Owner 非空时要求持有者相等；
// ExpiresBefore 非零时要求 expires < ExpiresBefore。
type Filter struct {
	Name          string
	Owner         string
	ExpiresBefore time.Time
}

// Match 报告记录是否满足过滤条件。
// 供不支持查询语言的存储（MemoryStore）使用。
func (f Filter) Match(rec Record) bool {
	if rec.Name != f.Name {
		return false
	}
	if f.Owner != "" && rec.Owner != f.Owner {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !rec.Expires.Before(f.ExpiresBefore) {
		return false
	}
	return true
}

// Store 定义锁记录存储需要提供的四种原子操作。
//
// Store 由调用方创建并拥有，生命周期必须长于 Manager；
// Manager 不会打开、关闭或池化任何连接。
type Store interface {
	// Insert 独占插入一条记录。
	// 已存在同名记录时必须返回可被 IsDuplicateKey 识别的错误。
	Insert(ctx context.Context, rec Record) error

	// Remove 删除满足过滤条件的记录。无记录匹配时不返回错误。
	Remove(ctx context.Context, f Filter) error

	// Update 将满足过滤条件的记录的 expires 更新为给定值。
	// upsert 为 true 且无记录匹配时，以 f.Name/f.Owner 创建新记录。
	Update(ctx context.Context, f Filter, expires time.Time, upsert bool) error

	// FindOne 按名称查找记录，不存在时返回 (nil, nil)。
	FindOne(ctx context.Context, name string) (*Record, error)
}

// HealthChecker 是可选接口，存储实现后 Factory.Health 会调用它。
type HealthChecker interface {
	Health(ctx context.Context) error
}
