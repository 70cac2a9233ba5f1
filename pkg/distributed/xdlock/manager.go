package xdlock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/omeyang/mongolock/pkg/observability/xlog"
	"github.com/omeyang/mongolock/pkg/observability/xmetrics"
)

const managerComponent = "xdlock"

// statusBusy 锁被其他持有者占用，不计为失败
const statusBusy xmetrics.Status = "busy"

// Manager 基于共享存储的建议性命名互斥锁管理器。
//
// 跨进程互斥完全依赖 Store 的唯一键插入；Manager 自身只持有构造时确定的
// 不可变配置和统计计数器，可被多个 goroutine 并发使用。
type Manager struct {
	store   Store
	options *managerOptions
	stats   managerStats
}

// New 创建锁管理器。
// store 为 nil 时返回 ErrNilStore。
func New(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	options := defaultManagerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Manager{
		store:   store,
		options: options,
	}, nil
}

// LockTimeout 返回默认锁持有时长。
func (m *Manager) LockTimeout() time.Duration {
	return m.options.LockTimeout
}

// Store 返回底层存储。
func (m *Manager) Store() Store {
	return m.store
}

// =============================================================================
// 获取锁
// =============================================================================

// acquireState 获取锁状态机的状态。
type acquireState int

const (
	stateInserting acquireState = iota
	stateReclaiming
	stateBackoff
	stateSucceeded
	stateFailed
)

// acquisition 保存一次 Acquire 调用的状态。
type acquisition struct {
	name        string
	owner       string
	lockTimeout time.Duration
	deadline    time.Time
	attempts    int
	reclaimed   bool
	err         error
}

// Acquire 获取名为 name 的锁，持有者为 owner。
//
// 插入锁记录成功即获取成功。插入遇到唯一键冲突时：
//   - 首次冲突：尝试删除已过期的同名记录（无论结果如何）后立即重试一次；
//   - 之后的冲突：若仍在等待预算 waitTime 内，等待固定退避间隔后重试；
//   - 预算耗尽：原样返回存储的唯一键冲突错误（可用 IsDuplicateKey 判断）。
//
// 其他存储错误立即原样返回，不重试。waitTime 为 0 时仍允许一次回收后的重试。
// 每次调用最多执行一次回收删除。退避等待期间 ctx 结束会返回 ctx.Err()。
func (m *Manager) Acquire(ctx context.Context, name, owner string, waitTime time.Duration, opts ...CallOption) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	if err := validateArgs(name, owner); err != nil {
		return err
	}

	co := callOptions{}
	for _, opt := range opts {
		opt(&co)
	}
	lockTimeout := m.options.LockTimeout
	if co.hasLockTimeout {
		lockTimeout = co.lockTimeout
	}

	a := &acquisition{
		name:        name,
		owner:       owner,
		lockTimeout: lockTimeout,
		deadline:    acquireDeadline(m.options.Now(), waitTime),
	}

	ctx, span := xmetrics.Start(ctx, m.options.Observer, xmetrics.SpanOptions{
		Component: managerComponent,
		Operation: "acquire",
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.String("lock.name", name),
			xmetrics.Duration("lock.wait_ms", waitTime),
		},
	})
	defer func() {
		span.End(xmetrics.Result{Status: spanStatus(err), Err: err, Attrs: []xmetrics.Attr{
			xmetrics.Int("lock.attempts", a.attempts),
			xmetrics.Bool("lock.reclaimed", a.reclaimed),
		}})
	}()

	err = m.runAcquire(ctx, a)
	if err != nil {
		m.stats.failed.Add(1)
		return err
	}
	m.stats.acquired.Add(1)
	return nil
}

// acquireDeadline 计算等待预算的截止时间。
// waitTime <= 0 时截止时间早于起点，保证回收后的重试之外不再重试。
func acquireDeadline(start time.Time, waitTime time.Duration) time.Time {
	if waitTime > 0 {
		return start.Add(waitTime)
	}
	return start.Add(-time.Millisecond)
}

// runAcquire 驱动获取锁状态机直到成功或失败。
func (m *Manager) runAcquire(ctx context.Context, a *acquisition) error {
	state := stateInserting
	for {
		switch state {
		case stateInserting:
			state = m.tryInsert(ctx, a)
		case stateReclaiming:
			m.reclaim(ctx, a)
			state = stateInserting
		case stateBackoff:
			state = m.backoff(ctx, a)
		case stateSucceeded:
			return nil
		default:
			return a.err
		}
	}
}

// tryInsert 执行一次插入尝试并决定下一个状态。
func (m *Manager) tryInsert(ctx context.Context, a *acquisition) acquireState {
	a.attempts++
	now := m.options.Now()
	rec := Record{
		Name:    a.name,
		Owner:   a.owner,
		Expires: now.Add(a.lockTimeout),
	}

	err := m.store.Insert(ctx, rec)
	switch {
	case err == nil:
		return stateSucceeded
	case !m.options.IsDuplicate(err):
		a.err = err
		return stateFailed
	}

	m.stats.contended.Add(1)
	a.err = err
	if a.attempts == 1 {
		return stateReclaiming
	}
	if !now.After(a.deadline) {
		return stateBackoff
	}
	m.debug(ctx, "lock busy, wait budget exhausted",
		slog.String("lock", a.name),
		slog.Int("attempts", a.attempts),
	)
	return stateFailed
}

// reclaim 删除已过期的同名记录。
// 删除结果被忽略：回收失败不影响本次获取尝试。
func (m *Manager) reclaim(ctx context.Context, a *acquisition) {
	a.reclaimed = true
	m.stats.reclaims.Add(1)
	err := m.store.Remove(ctx, Filter{
		Name:          a.name,
		ExpiresBefore: m.options.Now(),
	})
	if err != nil {
		m.stats.reclaimErrors.Add(1)
		m.debug(ctx, "reclaim expired lock failed",
			slog.String("lock", a.name),
			xlog.Err(err),
		)
	}
}

// backoff 等待固定退避间隔。ctx 结束时转入失败状态。
func (m *Manager) backoff(ctx context.Context, a *acquisition) acquireState {
	timer := time.NewTimer(m.options.RetryInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		a.err = ctx.Err()
		return stateFailed
	case <-timer.C:
		return stateInserting
	}
}

// =============================================================================
// 释放 / 续期 / 查询
// =============================================================================

// Release 释放 owner 持有的锁。
//
// 仅删除 name 与 owner 均匹配的记录。当前持有者不是 owner 时（例如锁已过期被他人回收），
// 不删除任何记录也不返回错误。存储错误原样返回。
func (m *Manager) Release(ctx context.Context, name, owner string) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	if err := validateArgs(name, owner); err != nil {
		return err
	}

	ctx, span := m.startSpan(ctx, "release", name)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err = m.store.Remove(ctx, Filter{Name: name, Owner: owner}); err != nil {
		return err
	}
	m.stats.released.Add(1)
	return nil
}

// Renew 将 owner 持有的锁的过期时间更新为 now + lockTimeout。
//
// lockTimeout <= 0 时不访问存储直接返回 nil，续期不能用于缩短锁。
// 使用 upsert 语义：记录不存在时会以 name/owner 创建新记录，
// 因此非持有者对空闲名称的续期实际上是获取。名称被其他持有者占用时，
// 存储的唯一键冲突错误原样返回。
func (m *Manager) Renew(ctx context.Context, name, owner string, lockTimeout time.Duration) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	if err := validateArgs(name, owner); err != nil {
		return err
	}
	if lockTimeout <= 0 {
		return nil
	}

	ctx, span := m.startSpan(ctx, "renew", name)
	defer func() { span.End(xmetrics.Result{Status: spanStatus(err), Err: err}) }()

	expires := m.options.Now().Add(lockTimeout)
	if err = m.store.Update(ctx, Filter{Name: name, Owner: owner}, expires, true); err != nil {
		return err
	}
	m.stats.renewed.Add(1)
	return nil
}

// IsUsedLock 返回锁记录的持有者。
//
// 不做过期过滤：已过期但尚未被回收的记录仍视为被占用。
// 记录不存在时返回 ("", false, nil)。
func (m *Manager) IsUsedLock(ctx context.Context, name string) (owner string, used bool, err error) {
	if ctx == nil {
		return "", false, ErrNilContext
	}
	if err := validateName(name); err != nil {
		return "", false, err
	}

	ctx, span := m.startSpan(ctx, "is_used", name)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	rec, err := m.store.FindOne(ctx, name)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.Owner, true, nil
}

// IsFreeLock 报告锁是否空闲，完全委托给 IsUsedLock。
func (m *Manager) IsFreeLock(ctx context.Context, name string) (bool, error) {
	_, used, err := m.IsUsedLock(ctx, name)
	if err != nil {
		return false, err
	}
	return !used, nil
}

// Inspect 返回完整的锁记录，不存在时返回 (nil, nil)。
// 与 IsUsedLock 一样不做过期过滤。
func (m *Manager) Inspect(ctx context.Context, name string) (*Record, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	return m.store.FindOne(ctx, name)
}

// =============================================================================
// 内部辅助
// =============================================================================

func (m *Manager) startSpan(ctx context.Context, operation, name string) (context.Context, xmetrics.Span) {
	return xmetrics.Start(ctx, m.options.Observer, xmetrics.SpanOptions{
		Component: managerComponent,
		Operation: operation,
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.String("lock.name", name),
		},
	})
}

// spanStatus 唯一键冲突记为 busy，其余交给 xmetrics 按 Err 推导
func spanStatus(err error) xmetrics.Status {
	if err != nil && IsDuplicateKey(err) {
		return statusBusy
	}
	return ""
}

func (m *Manager) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if m.options.Logger == nil {
		return
	}
	m.options.Logger.Debug(ctx, msg, append(attrs, xlog.Component(managerComponent))...)
}

// =============================================================================
// 统计
// =============================================================================

// Stats 是 Manager 的统计快照。
type Stats struct {
	// Acquired 成功获取次数。
	Acquired int64
	// Failed 获取失败次数（含竞争超时、存储错误、ctx 结束）。
	Failed int64
	// Contended 插入遇到唯一键冲突的次数。
	Contended int64
	// Reclaims 回收删除的执行次数。
	Reclaims int64
	// ReclaimErrors 回收删除失败次数。
	ReclaimErrors int64
	// Released 成功执行释放的次数（不区分是否真正删除了记录）。
	Released int64
	// Renewed 成功执行续期的次数。
	Renewed int64
}

type managerStats struct {
	acquired      atomic.Int64
	failed        atomic.Int64
	contended     atomic.Int64
	reclaims      atomic.Int64
	reclaimErrors atomic.Int64
	released      atomic.Int64
	renewed       atomic.Int64
}

// Stats 返回统计快照。
func (m *Manager) Stats() Stats {
	return Stats{
		Acquired:      m.stats.acquired.Load(),
		Failed:        m.stats.failed.Load(),
		Contended:     m.stats.contended.Load(),
		Reclaims:      m.stats.reclaims.Load(),
		ReclaimErrors: m.stats.reclaimErrors.Load(),
		Released:      m.stats.released.Load(),
		Renewed:       m.stats.renewed.Load(),
	}
}
