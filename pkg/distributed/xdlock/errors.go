package xdlock

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// 预定义错误。
// 使用 errors.Is 进行错误匹配，例如：
//
//	if errors.Is(err, xdlock.ErrEmptyName) {
//	    // 参数错误
//	}
var (
	// ErrNilStore 存储为空。
	// New 传入 nil Store 时返回此错误，属于构造期错误，不可重试。
	ErrNilStore = errors.New("xdlock: store is nil")

	// ErrNilManager Manager 为空。
	ErrNilManager = errors.New("xdlock: manager is nil")

	// ErrNilContext context 为空。
	ErrNilContext = errors.New("xdlock: context must not be nil")

	// ErrEmptyName 锁名称为空。
	// 名称为空字符串或仅含空白时返回此错误，在任何 I/O 之前同步返回。
	ErrEmptyName = errors.New("xdlock: lock name must not be empty")

	// ErrEmptyOwner 持有者为空。
	ErrEmptyOwner = errors.New("xdlock: lock owner must not be empty")

	// ErrDuplicateKey 锁记录已存在。
	//
	// MemoryStore 和 RedisStore 在唯一键冲突时返回包装了此错误的错误；
	// MongoStore 直接返回驱动的 E11000 错误，使用 IsDuplicateKey 统一判断。
	ErrDuplicateKey = errors.New("xdlock: duplicate key error")

	// ErrLockFailed 获取锁失败。
	// Factory.Lock 在等待预算耗尽后返回此错误（包装原始冲突错误）。
	ErrLockFailed = errors.New("xdlock: failed to acquire lock")

	// ErrNotLocked 锁未被当前持有者持有。
	// LockHandle.Extend 发现锁已被其他持有者占用时返回此错误。
	ErrNotLocked = errors.New("xdlock: not locked")

	// ErrFactoryClosed 工厂已关闭。
	ErrFactoryClosed = errors.New("xdlock: factory is closed")
)

// duplicateKeyMessage 是 MongoDB 唯一键冲突的错误文本特征。
const duplicateKeyMessage = "duplicate key error"

// IsDuplicateKey 判断 err 是否表示锁记录唯一键冲突（即锁竞争）。
//
// 依次匹配：ErrDuplicateKey、MongoDB 驱动的 E11000 错误、
// 错误文本中包含 "duplicate key error" 的其他错误。
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), duplicateKeyMessage)
}
