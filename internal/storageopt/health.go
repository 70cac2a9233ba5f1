package storageopt

import (
	"context"
	"time"
)

// DefaultHealthTimeout 默认健康检查超时
const DefaultHealthTimeout = 5 * time.Second

// HealthContext 创建带健康检查超时的 context。
// timeout <= 0 时返回原 context 与空 cancel；nil ctx 归一化为 Background。
//
//	ctx, cancel := storageopt.HealthContext(ctx, timeout)
//	defer cancel()
func HealthContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// FallbackTimeout 仅当 ctx 没有 deadline 且 timeout > 0 时追加超时。
// 调用方已设置的 deadline 始终优先。
func FallbackTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, timeout)
		}
	}
	return ctx, func() {}
}
