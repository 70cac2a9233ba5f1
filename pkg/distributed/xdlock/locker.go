package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/mongolock/internal/storageopt"
)

// lockWaitForever 是 Lock 未设置等待预算时使用的等待时长，实际由 ctx 约束。
const lockWaitForever = 100 * 365 * 24 * time.Hour

// =============================================================================
// LockHandle
// =============================================================================

// LockHandle 表示一次成功的锁获取。
//
// 每次 TryLock/Lock 成功都会返回一个新的 handle，内部持有本次获取生成的唯一 owner。
// 通过 handle 进行 Unlock 和 Extend，不同获取之间不会互相释放。
//
//	handle, err := factory.TryLock(ctx, "my-resource", xdlock.WithExpiry(5*time.Minute))
//	if err != nil {
//	    return err // 存储异常
//	}
//	if handle == nil {
//	    return nil // 被其他实例持有
//	}
//	defer handle.Unlock(ctx)
type LockHandle interface {
	// Unlock 释放锁。
	// 锁已被回收或被他人持有时静默成功；对同一 handle 重复调用返回 [ErrNotLocked]。
	Unlock(ctx context.Context) error

	// Extend 续期锁，续期时长为获取时的 Expiry。
	// 名称已被其他持有者占用时返回 [ErrNotLocked]。
	Extend(ctx context.Context) error

	// Key 返回锁的完整名称（含前缀）。
	Key() string

	// Owner 返回本次获取的持有者标识。
	Owner() string
}

// Factory 定义锁工厂接口。
type Factory interface {
	// TryLock 非阻塞式获取锁。
	// 仍会执行一次过期记录回收及其后的重试。锁被占用时返回 (nil, nil)。
	TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)

	// Lock 阻塞式获取锁，直到成功、等待预算耗尽或 ctx 结束。
	//
	// 错误：
	//   - context.Canceled / context.DeadlineExceeded: ctx 结束
	//   - ErrLockFailed: 等待预算耗尽（包装原始冲突错误）
	Lock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)

	// Close 关闭工厂。关闭后获取锁返回 ErrFactoryClosed，已获取的 handle 仍可使用。
	// 存储由调用方拥有，Close 不会关闭底层连接。
	Close(ctx context.Context) error

	// Health 健康检查。存储实现了 HealthChecker 时委托给它（ctx 无更短超时时限定 5s），否则返回 nil。
	Health(ctx context.Context) error
}

// =============================================================================
// 实现
// =============================================================================

type managerFactory struct {
	manager *Manager
	closed  atomic.Bool
}

// NewFactory 基于 Manager 创建锁工厂。
func NewFactory(m *Manager) (Factory, error) {
	if m == nil {
		return nil, ErrNilManager
	}
	return &managerFactory{manager: m}, nil
}

func (f *managerFactory) TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	handle, err := f.acquire(ctx, key, 0, opts)
	if err != nil {
		if f.manager.options.IsDuplicate(err) {
			return nil, nil
		}
		return nil, err
	}
	return handle, nil
}

func (f *managerFactory) Lock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	handle, err := f.acquire(ctx, key, lockWaitForever, opts)
	if err != nil {
		if f.manager.options.IsDuplicate(err) {
			return nil, fmt.Errorf("%w: %w", ErrLockFailed, err)
		}
		return nil, err
	}
	return handle, nil
}

func (f *managerFactory) acquire(ctx context.Context, key string, wait time.Duration, opts []MutexOption) (*lockHandle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := validateName(key); err != nil {
		return nil, err
	}

	o := defaultMutexOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Wait > 0 && wait > 0 {
		wait = o.Wait
	}
	expiry := o.Expiry
	if expiry <= 0 {
		expiry = f.manager.LockTimeout()
	}

	owner, err := genOwner(o.GenValueFunc)
	if err != nil {
		return nil, err
	}

	name := o.KeyPrefix + key
	if err := f.manager.Acquire(ctx, name, owner, wait, WithTimeout(expiry)); err != nil {
		return nil, err
	}
	return &lockHandle{
		manager: f.manager,
		name:    name,
		owner:   owner,
		expiry:  expiry,
	}, nil
}

func (f *managerFactory) Close(_ context.Context) error {
	f.closed.Store(true)
	return nil
}

func (f *managerFactory) Health(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	if ctx == nil {
		return ErrNilContext
	}
	hc, ok := f.manager.Store().(HealthChecker)
	if !ok {
		return nil
	}
	ctx, cancel := storageopt.HealthContext(ctx, storageopt.DefaultHealthTimeout)
	defer cancel()
	return hc.Health(ctx)
}

func genOwner(fn func() (string, error)) (string, error) {
	if fn == nil {
		return uuid.NewString(), nil
	}
	owner, err := fn()
	if err != nil {
		return "", fmt.Errorf("xdlock: generate owner: %w", err)
	}
	if owner == "" {
		return "", ErrEmptyOwner
	}
	return owner, nil
}

// lockHandle 实现 LockHandle。
type lockHandle struct {
	manager  *Manager
	name     string
	owner    string
	expiry   time.Duration
	unlocked atomic.Bool
}

func (h *lockHandle) Unlock(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if h.unlocked.Swap(true) {
		return ErrNotLocked
	}
	if err := h.manager.Release(ctx, h.name, h.owner); err != nil {
		h.unlocked.Store(false)
		return err
	}
	return nil
}

func (h *lockHandle) Extend(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	// 已释放的 handle 不能续期，否则 upsert 会重新创建记录。
	if h.unlocked.Load() {
		return ErrNotLocked
	}
	err := h.manager.Renew(ctx, h.name, h.owner, h.expiry)
	if err != nil && h.manager.options.IsDuplicate(err) {
		return errors.Join(ErrNotLocked, err)
	}
	return err
}

func (h *lockHandle) Key() string {
	return h.name
}

func (h *lockHandle) Owner() string {
	return h.owner
}
