package xdlock

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// =============================================================================
// MongoDB 存储实现
// =============================================================================

// lockCollection 定义 MongoStore 使用的集合操作。
// collectionAdapter 将 *mongo.Collection 适配为此接口，测试中可替换为 mock。
type lockCollection interface {
	InsertOne(ctx context.Context, doc any) error
	DeleteOne(ctx context.Context, filter any) error
	UpdateOne(ctx context.Context, filter, update any, upsert bool) error
	// FindOne 解码单条文档到 out，不存在时返回 mongo.ErrNoDocuments。
	FindOne(ctx context.Context, filter, out any) error
	Ping(ctx context.Context) error
}

// MongoStore 基于 MongoDB 集合的 Store 实现。
//
// 锁名称存放在 _id 字段，唯一性由 _id 索引保证，集合无需额外索引。
// 集合由调用方创建和拥有，MongoStore 不会断开连接。
type MongoStore struct {
	coll lockCollection
}

var (
	_ Store         = (*MongoStore)(nil)
	_ HealthChecker = (*MongoStore)(nil)
)

// NewMongoStore 基于集合创建存储。coll 为 nil 时返回 ErrNilStore。
func NewMongoStore(coll *mongo.Collection) (*MongoStore, error) {
	if coll == nil {
		return nil, ErrNilStore
	}
	return &MongoStore{coll: &collectionAdapter{coll: coll}}, nil
}

// Insert 插入锁记录。名称已存在时返回驱动的 E11000 错误（未包装）。
func (s *MongoStore) Insert(ctx context.Context, rec Record) error {
	return s.coll.InsertOne(ctx, rec)
}

// Remove 删除满足过滤条件的记录，最多删除一条。
func (s *MongoStore) Remove(ctx context.Context, f Filter) error {
	return s.coll.DeleteOne(ctx, mongoFilter(f))
}

// Update 设置满足过滤条件的记录的 expires。
//
// upsert 且名称被其他持有者占用时，插入会与 _id 冲突，驱动的 E11000 错误原样返回。
func (s *MongoStore) Update(ctx context.Context, f Filter, expires time.Time, upsert bool) error {
	update := bson.M{"$set": bson.M{"expires": expires}}
	return s.coll.UpdateOne(ctx, mongoFilter(f), update, upsert)
}

// FindOne 按名称查找记录。
func (s *MongoStore) FindOne(ctx context.Context, name string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"_id": name}, &rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Health 对主节点执行 Ping。
func (s *MongoStore) Health(ctx context.Context) error {
	return s.coll.Ping(ctx)
}

// mongoFilter 将 Filter 转换为查询文档。
func mongoFilter(f Filter) bson.M {
	filter := bson.M{"_id": f.Name}
	if f.Owner != "" {
		filter["owner"] = f.Owner
	}
	if !f.ExpiresBefore.IsZero() {
		filter["expires"] = bson.M{"$lt": f.ExpiresBefore}
	}
	return filter
}

// =============================================================================
// 集合适配器
// =============================================================================

// collectionAdapter 将 *mongo.Collection 适配为 lockCollection。
type collectionAdapter struct {
	coll *mongo.Collection
}

func (a *collectionAdapter) InsertOne(ctx context.Context, doc any) error {
	_, err := a.coll.InsertOne(ctx, doc)
	return err
}

func (a *collectionAdapter) DeleteOne(ctx context.Context, filter any) error {
	_, err := a.coll.DeleteOne(ctx, filter)
	return err
}

func (a *collectionAdapter) UpdateOne(ctx context.Context, filter, update any, upsert bool) error {
	_, err := a.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(upsert))
	return err
}

func (a *collectionAdapter) FindOne(ctx context.Context, filter, out any) error {
	return a.coll.FindOne(ctx, filter).Decode(out)
}

func (a *collectionAdapter) Ping(ctx context.Context) error {
	return a.coll.Database().Client().Ping(ctx, readpref.Primary())
}
