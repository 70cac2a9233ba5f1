package xmetrics

import (
	"context"
	"strconv"
)

// Kind 观测跨度类型
type Kind int

const (
	// KindInternal 进程内操作
	KindInternal Kind = iota
	// KindClient 对外部存储的调用
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindClient:
		return "Client"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Status 观测结果状态。
// 调用方可以定义自己的状态值（如锁被占用的 "busy"），非 error 状态不会把 span 标记为失败。
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Attr 观测属性
type Attr struct {
	Key   string
	Value any
}

// SpanOptions 创建观测跨度的参数
type SpanOptions struct {
	Component string
	Operation string
	Kind      Kind
	Attrs     []Attr
}

// Result 观测跨度结束时的结果。Status 为空时根据 Err 推导。
type Result struct {
	Status Status
	Err    error
	Attrs  []Attr
}

// Span 一次观测跨度
type Span interface {
	// End 结束观测并记录结果，实现需保证幂等
	End(result Result)
}

// Observer 统一观测接口，业务代码只依赖此接口
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 空实现，作为未配置观测时的默认值
type NoopObserver struct{}

// Start nil ctx 返回 context.Background()
func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

// NoopSpan 空跨度
type NoopSpan struct{}

func (NoopSpan) End(Result) {}

// Start 使用 observer 开始观测。
// 返回的 context 与 Span 均非 nil：nil observer、nil ctx 以及自定义 Observer
// 返回的 nil 值都会被兜底。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}
