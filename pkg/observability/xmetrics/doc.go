// Package xmetrics 锁操作的 tracing + metrics 观测接口。
//
// 业务代码只依赖 [Observer]/[Span]/[Attr]；默认实现 [NewOTelObserver]
// 基于 OpenTelemetry，未配置时使用 [NoopObserver]。
//
//	obs, _ := xmetrics.NewOTelObserver(xmetrics.WithMeterProvider(mp))
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xdlock",
//		Operation: "acquire",
//		Kind:      xmetrics.KindClient,
//	})
//	defer span.End(xmetrics.Result{Err: err})
//
// # 指标
//
//   - mongolock.operation.total
//   - mongolock.operation.duration（秒，直方图）
//
// 属性：component / operation / status。
package xmetrics
