// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 基于共享存储（MongoDB、Redis）的建议性命名锁
//
// 设计原则：
//   - 唯一性由存储的主键约束保证，Manager 本身无状态
//   - 过期记录由下一个竞争者惰性回收，不依赖后台清理
package distributed
