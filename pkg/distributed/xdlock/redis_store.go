package xdlock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix RedisStore 默认的 key 前缀。
const DefaultRedisKeyPrefix = "xdlock:"

// =============================================================================
// Lua 脚本
// =============================================================================

var (
	//go:embed lua/insert.lua
	insertLuaSource string

	//go:embed lua/remove.lua
	removeLuaSource string

	//go:embed lua/update.lua
	updateLuaSource string
)

var (
	insertScript = redis.NewScript(insertLuaSource)
	removeScript = redis.NewScript(removeLuaSource)
	updateScript = redis.NewScript(updateLuaSource)
)

// update.lua 返回码
const (
	updateStatusConflict = -1
)

// =============================================================================
// Redis 存储实现
// =============================================================================

// RedisStore 基于 Redis Hash 的 Store 实现。
//
// 每个锁对应一个 Hash（字段 owner、expires），条件操作由 Lua 脚本原子执行。
// key 不设置 Redis TTL：过期记录保留到被回收或释放，与 MongoStore 语义一致。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Store         = (*RedisStore)(nil)
	_ HealthChecker = (*RedisStore)(nil)
)

// RedisStoreOption 定义 RedisStore 的配置选项。
type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix 设置 key 前缀，默认 "xdlock:"。
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore 基于 Redis 客户端创建存储。client 为 nil 时返回 ErrNilStore。
// 客户端由调用方创建和关闭。
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilStore
	}
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Insert 独占插入。key 已存在时返回包装了 ErrDuplicateKey 的错误。
func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	n, err := insertScript.Run(ctx, s.client,
		[]string{s.key(rec.Name)},
		rec.Owner, rec.Expires.UnixMilli(),
	).Int64()
	if err != nil {
		return wrapRedisError("insert", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lock %q", ErrDuplicateKey, rec.Name)
	}
	return nil
}

// Remove 删除满足过滤条件的记录。
func (s *RedisStore) Remove(ctx context.Context, f Filter) error {
	_, err := removeScript.Run(ctx, s.client,
		[]string{s.key(f.Name)},
		f.Owner, expiresBeforeArg(f),
	).Int64()
	if err != nil {
		return wrapRedisError("remove", err)
	}
	return nil
}

// Update 设置满足过滤条件的记录的 expires。
// upsert 且名称被其他记录占用时返回包装了 ErrDuplicateKey 的错误。
func (s *RedisStore) Update(ctx context.Context, f Filter, expires time.Time, upsert bool) error {
	upsertArg := "0"
	if upsert {
		upsertArg = "1"
	}
	n, err := updateScript.Run(ctx, s.client,
		[]string{s.key(f.Name)},
		f.Owner, expiresBeforeArg(f), expires.UnixMilli(), upsertArg,
	).Int64()
	if err != nil {
		return wrapRedisError("update", err)
	}
	if n == updateStatusConflict {
		return fmt.Errorf("%w: lock %q", ErrDuplicateKey, f.Name)
	}
	return nil
}

// FindOne 按名称查找记录。
func (s *RedisStore) FindOne(ctx context.Context, name string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return nil, wrapRedisError("find", err)
	}
	owner, ok := fields["owner"]
	if !ok {
		return nil, nil
	}
	ms, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("xdlock: redis find: invalid expires for lock %q: %w", name, err)
	}
	return &Record{
		Name:    name,
		Owner:   owner,
		Expires: time.UnixMilli(ms),
	}, nil
}

// Health 执行 PING。
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapRedisError("ping", err)
	}
	return nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func expiresBeforeArg(f Filter) string {
	if f.ExpiresBefore.IsZero() {
		return ""
	}
	return strconv.FormatInt(f.ExpiresBefore.UnixMilli(), 10)
}

// wrapRedisError 包装 Redis 错误，ctx 错误保持可被 errors.Is 识别。
func wrapRedisError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("xdlock: redis %s: %w", op, err)
}
