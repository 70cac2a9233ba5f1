// Package xdlock 提供基于共享文档存储的建议性命名互斥锁。
//
// 多个独立进程通过同一个集合协调：获取锁即独占插入一条以锁名称为主键的记录，
// 唯一键冲突表示锁被占用。每条记录带有过期时间，持有者崩溃后锁可被后来者回收。
//
// # 核心概念
//
//   - Manager: 锁管理器，实现 Acquire/Release/Renew/IsUsedLock/IsFreeLock
//   - Store: 存储抽象，只需提供插入、条件删除、条件更新、按名查找四种原子操作
//   - Record: 锁记录 {_id: 名称, owner: 持有者, expires: 过期时间}
//   - Factory/LockHandle: 基于 Manager 的句柄式 API，每次获取自动生成唯一持有者
//
// # 获取流程
//
// Acquire 插入 {name, owner, now+lockTimeout}：
//   - 插入成功：获取成功
//   - 首次唯一键冲突：删除 expires < now 的同名记录（不关心结果），立即重试
//   - 之后的冲突：仍在等待预算内则以固定间隔（默认 5ms）重试，否则返回冲突错误
//   - 其他存储错误：立即返回
//
// 冲突错误可用 [IsDuplicateKey] 判断。等待预算为 0 时仍会在回收后重试一次。
//
// # 存储后端
//
//	| 后端 | 构造函数 | 说明 |
//	|------|----------|------|
//	| MongoDB | NewMongoStore(coll) | 名称存于 _id，冲突为驱动 E11000 错误 |
//	| Redis | NewRedisStore(client) | Hash + Lua 脚本，冲突包装 ErrDuplicateKey |
//	| etcd | NewEtcdStore(client) | Txn 按 revision 比较交换，冲突包装 ErrDuplicateKey |
//	| 内存 | NewMemoryStore() | 单进程协调与测试 |
//
// # 注意事项
//
//   - 锁是建议性的：只约束同样通过本包获取锁的参与者
//   - 所有进程应共享同一时间基准，本包不处理时钟漂移
//   - Release 仅删除 owner 匹配的记录，锁已被他人回收时静默成功
//   - Renew 使用 upsert，对空闲名称续期等同于获取
//   - IsUsedLock 不过滤过期记录：过期但未回收的锁仍视为占用
//
// 详细使用示例请参考 example_test.go 中的 Example 函数。
package xdlock
