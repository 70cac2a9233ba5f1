package xlog

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// ErrNilHandler NewTraceHandler 的 base 为 nil 时返回
var ErrNilHandler = errors.New("xlog: base handler is nil")

// TraceHandler 从 context 中的 OpenTelemetry span 提取 trace_id/span_id 并注入日志。
// context 中没有有效 span 时不做任何注入。
type TraceHandler struct {
	base slog.Handler
}

// NewTraceHandler 包装 base handler。
func NewTraceHandler(base slog.Handler) (*TraceHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &TraceHandler{base: base}, nil
}

// Enabled 委托给底层 handler
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 注入追踪字段后交给底层 handler。
// 修改前先 Clone record，遵循 slog.Handler 契约。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r = r.Clone()
			r.AddAttrs(
				slog.String(KeyTraceID, sc.TraceID().String()),
				slog.String(KeySpanID, sc.SpanID().String()),
			)
		}
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 返回带额外属性的新 handler
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 返回带分组的新 handler。
// 之后注入的 trace_id/span_id 也会位于该分组下。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{base: h.base.WithGroup(name)}
}
