package xmongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// clientOperations *mongo.Client 实现此接口，测试中注入 mock
type clientOperations interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
	NumberSessionsInProgress() int
}

// collectionOperations FindPage 用到的集合操作
type collectionOperations interface {
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	names() (database, collection string)
}

type collectionAdapter struct {
	*mongo.Collection
}

func (a collectionAdapter) names() (string, string) {
	return a.Database().Name(), a.Name()
}
