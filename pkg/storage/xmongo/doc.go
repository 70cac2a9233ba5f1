// Package xmongo MongoDB 客户端包装器。
//
// 不包装 driver 的全部 API，只提供锁集合运维需要的增值功能：
//   - Health：Ping 主节点，带超时与计数
//   - Stats：健康检查次数、慢查询次数、活跃会话数
//   - FindPage：COUNT + 分页查询，结果以 bson.Raw 返回，由调用方解码
//   - 慢查询检测：耗时超过阈值时同步调用 SlowQueryHook
//
// 基础读写请通过 Client() 直接使用 driver，不计入统计。
//
// Close 可重复调用，首次断开连接，之后返回 ErrClosed；
// 除 Client 与 Stats 外的方法在 Close 后返回 ErrClosed。
//
// FindPage 在调用方 ctx 没有 deadline 时使用 QueryTimeout（默认 30s）兜底，
// WithQueryTimeout(0) 可关闭兜底。
package xmongo
