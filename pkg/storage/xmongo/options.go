package xmongo

import (
	"context"
	"time"

	"github.com/omeyang/mongolock/internal/storageopt"
	"github.com/omeyang/mongolock/pkg/observability/xmetrics"
)

// SlowQueryInfo 慢查询信息。
// Filter 是原始查询条件，写日志时注意脱敏。
type SlowQueryInfo struct {
	Database   string
	Collection string
	Operation  string
	Filter     any
	Duration   time.Duration
}

// SlowQueryHook 慢查询回调，在请求路径上同步执行
type SlowQueryHook func(ctx context.Context, info SlowQueryInfo)

const (
	// DefaultQueryTimeout FindPage 兜底超时
	DefaultQueryTimeout = 30 * time.Second
	// MaxPageSize 单页上限
	MaxPageSize = 10000
)

// Options 包装器配置
type Options struct {
	// HealthTimeout 健康检查超时，默认 5s
	HealthTimeout time.Duration
	// SlowQueryThreshold 慢查询阈值，0 表示禁用
	SlowQueryThreshold time.Duration
	SlowQueryHook      SlowQueryHook
	// QueryTimeout ctx 无 deadline 时 FindPage 的兜底超时，0 表示不兜底
	QueryTimeout time.Duration
	Observer     xmetrics.Observer
}

// Option 配置函数
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HealthTimeout: storageopt.DefaultHealthTimeout,
		QueryTimeout:  DefaultQueryTimeout,
		Observer:      xmetrics.NoopObserver{},
	}
}

// WithHealthTimeout 非正值被忽略
func WithHealthTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.HealthTimeout = timeout
		}
	}
}

// WithSlowQueryThreshold 0 禁用慢查询检测，负值被忽略
func WithSlowQueryThreshold(threshold time.Duration) Option {
	return func(o *Options) {
		if threshold >= 0 {
			o.SlowQueryThreshold = threshold
		}
	}
}

func WithSlowQueryHook(hook SlowQueryHook) Option {
	return func(o *Options) {
		o.SlowQueryHook = hook
	}
}

// WithQueryTimeout 0 关闭兜底，负值被忽略
func WithQueryTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= 0 {
			o.QueryTimeout = timeout
		}
	}
}

// WithObserver nil 被忽略
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *Options) {
		if observer != nil {
			o.Observer = observer
		}
	}
}
