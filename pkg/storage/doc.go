// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xmongo: MongoDB 客户端封装（健康检查、分页查询、慢查询检测）
package storage
