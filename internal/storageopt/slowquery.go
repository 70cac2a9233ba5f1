package storageopt

import (
	"context"
	"sync/atomic"
	"time"
)

// SlowQueryHook 慢查询回调，在请求路径上同步执行，应保持轻量（计数、写日志）。
type SlowQueryHook[T any] func(ctx context.Context, info T)

// SlowQueryDetector 慢查询检测器。
// threshold 为 0 时禁用；耗时 >= threshold 即触发。
type SlowQueryDetector[T any] struct {
	threshold time.Duration
	hook      SlowQueryHook[T]
	count     atomic.Int64
}

// NewSlowQueryDetector 创建检测器，hook 可为 nil（只计数）
func NewSlowQueryDetector[T any](threshold time.Duration, hook SlowQueryHook[T]) *SlowQueryDetector[T] {
	return &SlowQueryDetector[T]{threshold: threshold, hook: hook}
}

// MaybeSlowQuery 耗时超过阈值时计数并调用 hook，返回是否触发。
func (d *SlowQueryDetector[T]) MaybeSlowQuery(ctx context.Context, info T, elapsed time.Duration) bool {
	if d == nil || d.threshold <= 0 || elapsed < d.threshold {
		return false
	}
	d.count.Add(1)
	if d.hook != nil {
		d.hook(ctx, info)
	}
	return true
}

// Count 已触发的慢查询次数
func (d *SlowQueryDetector[T]) Count() int64 {
	if d == nil {
		return 0
	}
	return d.count.Load()
}
