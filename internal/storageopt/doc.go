// Package storageopt 存储层共享的小工具：健康检查超时、兜底超时、
// 分页参数校验、慢查询检测与计数器。
//
// internal 包，供 pkg/storage/xmongo 与 pkg/distributed/xdlock 的存储后端使用。
package storageopt
