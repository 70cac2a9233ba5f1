package xlog

import (
	"log/slog"
	"time"
)

// 常用属性 key
const (
	KeyError     = "error"
	KeyStack     = "stack"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyLock      = "lock"
	KeyOwner     = "owner"
	KeyBackend   = "backend"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
)

// Err 创建错误属性。err 为 nil 时返回空属性（被 slog 忽略）。
//
//	if err != nil {
//	    logger.Error(ctx, "release failed", xlog.Err(err))
//	}
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性，输出人类可读格式（如 "1.5s"）
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 创建操作名属性
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Count 创建计数属性
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// Lock 创建锁名称属性
func Lock(name string) slog.Attr {
	return slog.String(KeyLock, name)
}

// Owner 创建锁持有者属性
func Owner(owner string) slog.Attr {
	return slog.String(KeyOwner, owner)
}

// Backend 创建存储后端属性
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}
