package xdlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdKeyPrefix EtcdStore 默认的 key 前缀。
const DefaultEtcdKeyPrefix = "xdlock/"

// etcdMaxCASAttempts 条件删除/更新在并发修改下的最大重试次数。
const etcdMaxCASAttempts = 16

var (
	// ErrEtcdContention 条件操作在重试上限内始终被并发修改打断。
	ErrEtcdContention = errors.New("xdlock: etcd: too many concurrent modifications")

	// ErrInvalidOwnerEncoding 持有者不是合法 UTF-8，无法写入 JSON 值。
	ErrInvalidOwnerEncoding = errors.New("xdlock: etcd: owner is not valid UTF-8")
)

// =============================================================================
// etcd KV 适配
// =============================================================================

// etcdKV 是 EtcdStore 需要的最小 etcd 能力。
//
// modRev 为 0 表示 "key 不存在"（CreateRevision == 0），
// 否则要求 key 的 ModRevision 与之相等。
type etcdKV interface {
	get(ctx context.Context, key string) (value []byte, modRev int64, err error)
	putIf(ctx context.Context, key string, value []byte, modRev int64) (bool, error)
	deleteIf(ctx context.Context, key string, modRev int64) (bool, error)
	ping(ctx context.Context) error
}

// clientKV 基于 clientv3.KV 的 Txn 实现 etcdKV。
type clientKV struct {
	kv clientv3.KV
}

func (c clientKV) get(ctx context.Context, key string) ([]byte, int64, error) {
	resp, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	kv := resp.Kvs[0]
	return kv.Value, kv.ModRevision, nil
}

func (c clientKV) putIf(ctx context.Context, key string, value []byte, modRev int64) (bool, error) {
	resp, err := c.kv.Txn(ctx).
		If(revisionGuard(key, modRev)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (c clientKV) deleteIf(ctx context.Context, key string, modRev int64) (bool, error) {
	resp, err := c.kv.Txn(ctx).
		If(revisionGuard(key, modRev)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (c clientKV) ping(ctx context.Context) error {
	_, err := c.kv.Get(ctx, "health-check-key", clientv3.WithCountOnly())
	return err
}

func revisionGuard(key string, modRev int64) clientv3.Cmp {
	if modRev == 0 {
		return clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	}
	return clientv3.Compare(clientv3.ModRevision(key), "=", modRev)
}

// =============================================================================
// etcd 存储实现
// =============================================================================

// etcdValue 是锁记录在 etcd 中的值编码。
type etcdValue struct {
	Owner   string `json:"owner"`
	Expires int64  `json:"expires"` // unix ms
}

// EtcdStore 基于 etcd 事务的 Store 实现。
//
// 每个锁对应一个 key，值为 JSON {"owner","expires"}。
// Insert 以 CreateRevision == 0 为条件；条件删除与更新先读出记录，
// 在本地匹配 Filter 后以 ModRevision 做 CAS，被并发修改打断时重新读取。
// key 不绑定租约：过期记录保留到被回收或释放，与 MongoStore 语义一致。
type EtcdStore struct {
	kv     etcdKV
	prefix string
}

var (
	_ Store         = (*EtcdStore)(nil)
	_ HealthChecker = (*EtcdStore)(nil)
)

// EtcdStoreOption 定义 EtcdStore 的配置选项。
type EtcdStoreOption func(*EtcdStore)

// WithEtcdKeyPrefix 设置 key 前缀，默认 "xdlock/"。
func WithEtcdKeyPrefix(prefix string) EtcdStoreOption {
	return func(s *EtcdStore) {
		s.prefix = prefix
	}
}

// NewEtcdStore 基于 etcd KV 创建存储，*clientv3.Client 可直接传入。
// kv 为 nil 时返回 ErrNilStore。客户端由调用方创建和关闭。
func NewEtcdStore(kv clientv3.KV, opts ...EtcdStoreOption) (*EtcdStore, error) {
	if kv == nil {
		return nil, ErrNilStore
	}
	return newEtcdStore(clientKV{kv: kv}, opts...), nil
}

func newEtcdStore(kv etcdKV, opts ...EtcdStoreOption) *EtcdStore {
	s := &EtcdStore{
		kv:     kv,
		prefix: DefaultEtcdKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert 独占插入。key 已存在时返回包装了 ErrDuplicateKey 的错误。
func (s *EtcdStore) Insert(ctx context.Context, rec Record) error {
	value, err := encodeEtcdValue(rec.Owner, rec.Expires)
	if err != nil {
		return err
	}
	ok, err := s.kv.putIf(ctx, s.key(rec.Name), value, 0)
	if err != nil {
		return wrapEtcdError("insert", err)
	}
	if !ok {
		return fmt.Errorf("%w: lock %q", ErrDuplicateKey, rec.Name)
	}
	return nil
}

// Remove 删除满足过滤条件的记录。
func (s *EtcdStore) Remove(ctx context.Context, f Filter) error {
	key := s.key(f.Name)
	for range etcdMaxCASAttempts {
		rec, rev, err := s.load(ctx, f.Name)
		if err != nil {
			return wrapEtcdError("remove", err)
		}
		if rec == nil || !f.Match(*rec) {
			return nil
		}
		ok, err := s.kv.deleteIf(ctx, key, rev)
		if err != nil {
			return wrapEtcdError("remove", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: remove lock %q", ErrEtcdContention, f.Name)
}

// Update 设置满足过滤条件的记录的 expires。
// upsert 且名称被其他记录占用时返回包装了 ErrDuplicateKey 的错误。
func (s *EtcdStore) Update(ctx context.Context, f Filter, expires time.Time, upsert bool) error {
	key := s.key(f.Name)
	for range etcdMaxCASAttempts {
		rec, rev, err := s.load(ctx, f.Name)
		if err != nil {
			return wrapEtcdError("update", err)
		}

		var value []byte
		switch {
		case rec != nil && f.Match(*rec):
			value, err = encodeEtcdValue(rec.Owner, expires)
		case rec != nil && upsert:
			return fmt.Errorf("%w: lock %q", ErrDuplicateKey, f.Name)
		case rec != nil:
			return nil
		case upsert:
			value, err = encodeEtcdValue(f.Owner, expires)
		default:
			return nil
		}
		if err != nil {
			return err
		}

		ok, err := s.kv.putIf(ctx, key, value, rev)
		if err != nil {
			return wrapEtcdError("update", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: update lock %q", ErrEtcdContention, f.Name)
}

// FindOne 按名称查找记录。
func (s *EtcdStore) FindOne(ctx context.Context, name string) (*Record, error) {
	rec, _, err := s.load(ctx, name)
	if err != nil {
		return nil, wrapEtcdError("find", err)
	}
	return rec, nil
}

// Health 执行一次只计数的 Get。
func (s *EtcdStore) Health(ctx context.Context) error {
	if err := s.kv.ping(ctx); err != nil {
		return wrapEtcdError("ping", err)
	}
	return nil
}

// load 读取并解码记录，返回其 ModRevision；不存在时返回 (nil, 0, nil)。
func (s *EtcdStore) load(ctx context.Context, name string) (*Record, int64, error) {
	value, rev, err := s.kv.get(ctx, s.key(name))
	if err != nil {
		return nil, 0, err
	}
	if rev == 0 {
		return nil, 0, nil
	}
	var v etcdValue
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, 0, fmt.Errorf("invalid value for lock %q: %w", name, err)
	}
	return &Record{
		Name:    name,
		Owner:   v.Owner,
		Expires: time.UnixMilli(v.Expires),
	}, rev, nil
}

func (s *EtcdStore) key(name string) string {
	return s.prefix + name
}

// encodeEtcdValue 编码记录值。非法 UTF-8 会被 JSON 替换为 U+FFFD，因此直接拒绝。
func encodeEtcdValue(owner string, expires time.Time) ([]byte, error) {
	if !utf8.ValidString(owner) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOwnerEncoding, owner)
	}
	return json.Marshal(etcdValue{Owner: owner, Expires: expires.UnixMilli()})
}

// wrapEtcdError 包装 etcd 错误，ctx 错误保持可被 errors.Is 识别。
func wrapEtcdError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("xdlock: etcd %s: %w", op, err)
}
