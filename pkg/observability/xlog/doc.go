// Package xlog 基于 log/slog 的结构化日志。
//
// # 创建 Logger
//
// Builder 模式配置输出目标、级别、格式与文件轮转（lumberjack），
// first-error-wins：第一个配置错误在 Build 时返回。
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xdlockctl.log", xlog.WithMaxSize(50)).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// # 追踪字段
//
// 默认从 context 中的 OpenTelemetry span 注入 trace_id、span_id（[TraceHandler]），
// 可通过 SetTraceAttrs(false) 关闭。
//
// # 全局 Logger
//
// [Default]、[SetDefault]、[ResetDefault] 以及 [Debug]、[Info]、[Warn]、[Error]、[Stack]
// 便利函数，适用于命令行工具。
//
// # 便捷属性
//
// [Err]、[Duration]、[Component]、[Operation]、[Count]、[Lock]、[Owner]、[Backend]。
//
// # 派生 Logger
//
// [Logger.With] 与 [Logger.WithGroup] 返回 [Logger]，底层实现同样满足 [LoggerWithLevel]，
// 与父级共享级别。
package xlog
