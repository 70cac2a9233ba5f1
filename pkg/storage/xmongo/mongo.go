package xmongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/omeyang/mongolock/internal/storageopt"
)

// Mongo MongoDB 包装器
type Mongo interface {
	// Client 返回底层客户端，Close 之后仍可调用
	Client() *mongo.Client

	// Health Ping 主节点
	Health(ctx context.Context) error

	// Stats 返回统计快照，Close 之后仍可调用
	Stats() Stats

	// Close 断开连接
	Close(ctx context.Context) error

	// FindPage 分页查询。
	//
	// COUNT 与数据查询是两次独立请求，并发写入时 Total 可能与实际页数据不一致。
	// Sort 为空时 MongoDB 不保证顺序，翻页可能重复或遗漏。
	FindPage(ctx context.Context, coll *mongo.Collection, filter any, opts PageOptions) (*PageResult, error)
}

// PageOptions 分页参数
type PageOptions struct {
	// Page 从 1 开始
	Page     int64
	PageSize int64
	// Sort 如 bson.D{{Key: "expires", Value: 1}}
	Sort       bson.D
	Projection bson.D
}

// PageResult 分页结果。Data 为原始文档，调用方用 bson.Unmarshal 解码为具体类型。
type PageResult struct {
	Data       []bson.Raw
	Total      int64
	Page       int64
	PageSize   int64
	TotalPages int64
}

// New 包装已连接的客户端
func New(client *mongo.Client, opts ...Option) (Mongo, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return newWrapper(client, client, opts...), nil
}

func newWrapper(client *mongo.Client, ops clientOperations, opts ...Option) *mongoWrapper {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	w := &mongoWrapper{
		client:    client,
		clientOps: ops,
		options:   o,
	}
	var hook storageopt.SlowQueryHook[SlowQueryInfo]
	if o.SlowQueryHook != nil {
		hook = storageopt.SlowQueryHook[SlowQueryInfo](o.SlowQueryHook)
	}
	w.slowQueries = storageopt.NewSlowQueryDetector(o.SlowQueryThreshold, hook)
	return w
}
