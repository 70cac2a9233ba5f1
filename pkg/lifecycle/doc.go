// Package lifecycle 提供进程内任务生命周期相关的子包。
//
// 子包列表：
//   - xrun: 基于 errgroup 的任务编排与信号处理
package lifecycle
