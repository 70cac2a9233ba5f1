package xdlock

import (
	"time"

	"github.com/omeyang/mongolock/pkg/observability/xlog"
	"github.com/omeyang/mongolock/pkg/observability/xmetrics"
)

// 默认值常量。
const (
	// DefaultLockTimeout 默认锁持有时长。
	DefaultLockTimeout = 20 * time.Second

	// DefaultRetryInterval 竞争时两次插入尝试之间的固定退避间隔。
	DefaultRetryInterval = 5 * time.Millisecond
)

// validateName 验证锁名称是否有效。名称只要求非空，空白字符同样合法。
func validateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	return nil
}

// validateArgs 验证锁名称和持有者。
func validateArgs(name, owner string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if owner == "" {
		return ErrEmptyOwner
	}
	return nil
}

// =============================================================================
// Manager 选项
// =============================================================================

// Option 定义 Manager 的配置选项。
type Option func(*managerOptions)

// managerOptions Manager 配置，构造后不可变。
type managerOptions struct {
	LockTimeout   time.Duration
	RetryInterval time.Duration
	Now           func() time.Time
	IsDuplicate   func(error) bool
	Logger        xlog.Logger
	Observer      xmetrics.Observer
}

// defaultManagerOptions 返回默认的 Manager 配置。
func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		LockTimeout:   DefaultLockTimeout,
		RetryInterval: DefaultRetryInterval,
		Now:           time.Now,
		IsDuplicate:   IsDuplicateKey,
		Observer:      xmetrics.NoopObserver{},
	}
}

// WithLockTimeout 设置默认锁持有时长，调用时未指定 WithTimeout 则使用此值。
// 默认值：20 秒。
//
// 允许 0 或负值，表示获取到的锁立即过期，下一个竞争者即可回收。
func WithLockTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.LockTimeout = d
	}
}

// WithRetryInterval 设置竞争时的固定退避间隔。
// 默认值：5ms。非正值被忽略。
func WithRetryInterval(d time.Duration) Option {
	return func(o *managerOptions) {
		if d > 0 {
			o.RetryInterval = d
		}
	}
}

// WithClock 设置时间源。
// 所有进程应共享同一时间基准，Manager 不处理时钟漂移。
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		if now != nil {
			o.Now = now
		}
	}
}

// WithDuplicateKeyFunc 设置唯一键冲突判定函数。
// 默认使用 IsDuplicateKey。用于接入会返回其他冲突错误的自定义 Store。
func WithDuplicateKeyFunc(fn func(error) bool) Option {
	return func(o *managerOptions) {
		if fn != nil {
			o.IsDuplicate = fn
		}
	}
}

// WithLogger 设置日志记录器。
// 未设置时不输出日志。
func WithLogger(logger xlog.Logger) Option {
	return func(o *managerOptions) {
		o.Logger = logger
	}
}

// WithObserver 设置统一观测接口。
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *managerOptions) {
		if observer != nil {
			o.Observer = observer
		}
	}
}

// =============================================================================
// 单次调用选项
// =============================================================================

// CallOption 定义单次 Acquire 调用的选项。
type CallOption func(*callOptions)

type callOptions struct {
	lockTimeout    time.Duration
	hasLockTimeout bool
}

// WithTimeout 覆盖本次获取的锁持有时长。
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.lockTimeout = d
		o.hasLockTimeout = true
	}
}

// =============================================================================
// Factory 锁实例选项
// =============================================================================

// MutexOption 定义 Factory 获取锁时的配置选项。
type MutexOption func(*mutexOptions)

// mutexOptions 锁实例配置。
type mutexOptions struct {
	KeyPrefix    string        // Key 前缀，默认为空
	Expiry       time.Duration // 持有时长，默认使用 Manager 的 LockTimeout
	Wait         time.Duration // Lock 的等待预算，默认 0 表示等待到 ctx 结束
	GenValueFunc func() (string, error)
}

// defaultMutexOptions 返回默认的锁实例配置。
func defaultMutexOptions() *mutexOptions {
	return &mutexOptions{}
}

// WithKeyPrefix 设置锁名称前缀。
// 最终名称 = prefix + key。
//
// 示例：
//
//	handle, _ := factory.TryLock(ctx, "report", xdlock.WithKeyPrefix("billing:"))
//	// 实际名称: "billing:report"
func WithKeyPrefix(prefix string) MutexOption {
	return func(o *mutexOptions) {
		o.KeyPrefix = prefix
	}
}

// WithExpiry 设置锁的持有时长，同时作为 Extend 的续期时长。
// 非正值被忽略。
func WithExpiry(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.Expiry = d
		}
	}
}

// WithWait 设置 Lock 的等待预算。
// 未设置时 Lock 一直重试直到获取成功或 ctx 结束。
func WithWait(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.Wait = d
		}
	}
}

// WithGenValueFunc 设置持有者标识生成函数。
// 默认每次获取生成一个随机 UUID。
//
// 注意：生成的值必须全局唯一，否则不同获取之间可能互相释放。
func WithGenValueFunc(fn func() (string, error)) MutexOption {
	return func(o *mutexOptions) {
		if fn != nil {
			o.GenValueFunc = fn
		}
	}
}
